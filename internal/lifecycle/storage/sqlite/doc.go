// Package sqlite implements the lifecycle journal and projection stores on
// SQLite with embedded migrations.
package sqlite
