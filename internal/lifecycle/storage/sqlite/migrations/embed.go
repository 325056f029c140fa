// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

//go:embed lifecycle/*.sql
var LifecycleFS embed.FS
