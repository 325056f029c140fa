// Package sqlitemigrate applies embedded SQL migrations to a SQLite database.
package sqlitemigrate
