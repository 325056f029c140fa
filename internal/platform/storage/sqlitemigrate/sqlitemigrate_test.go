package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.sqlite")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	return sqlDB
}

func TestApplyMigrationsRunsInLexicalOrder(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE widgets ADD COLUMN name TEXT NOT NULL DEFAULT '';`)},
		"001_widgets.sql":    {Data: []byte(`CREATE TABLE widgets (id INTEGER PRIMARY KEY);`)},
		"notes.txt":          {Data: []byte(`not a migration`)},
	}

	if err := ApplyMigrations(sqlDB, migrationFS, "."); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	// The column only exists if 001 ran before 002.
	if _, err := sqlDB.Exec(`INSERT INTO widgets (id, name) VALUES (1, 'a')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}

	var applied int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"001_widgets.sql": {Data: []byte(`CREATE TABLE widgets (id INTEGER PRIMARY KEY);`)},
	}

	if err := ApplyMigrations(sqlDB, migrationFS, "."); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// A second pass must skip the already-applied file; CREATE TABLE would
	// fail if it re-ran.
	if err := ApplyMigrations(sqlDB, migrationFS, "."); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}
