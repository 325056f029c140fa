// Package catalog models the versioned process/stage reference data consumed
// by command handlers. The catalog is owned elsewhere; this package only
// reads snapshots of it.
package catalog
