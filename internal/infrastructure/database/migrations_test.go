package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/20260301_090000_create_runs.up.sql": {
			Data: []byte("CREATE TABLE test_runs (id TEXT PRIMARY KEY);"),
		},
		"sql/20260302_100000_create_results.up.sql": {
			Data: []byte("CREATE TABLE test_results (id INTEGER PRIMARY KEY, run_id TEXT REFERENCES test_runs(id));"),
		},
		"sql/README.md": {Data: []byte("not a migration")},
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fsys := testMigrations()
	if err := db.Migrate(ctx, fsys, "sql"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_runs", "test_results"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, "sql")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx, fsys, "sql"); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureRollsBackOnlyFailingMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260301_090000_ok.up.sql":  {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260302_090000_bad.up.sql": {Data: []byte("CREATE TABLE ;")},
	}

	if err := db.Migrate(ctx, fsys, "."); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, ".")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20260301_090000" {
		t.Errorf("applied = %+v, want only 20260301_090000", applied)
	}
	if len(pending) != 1 || pending[0].Name != "bad" {
		t.Errorf("pending = %+v, want only bad", pending)
	}
}

func TestMigrate_NilFS(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), nil, "."); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestLoadMigrations_Sorted(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations(), "sql")
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Name != "create_runs" || migrations[1].Name != "create_results" {
		t.Errorf("unexpected order: %s, %s", migrations[0].Name, migrations[1].Name)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantName    string
		wantOk      bool
	}{
		{
			name:        "valid up migration",
			filename:    "20260118_120000_create_runs.up.sql",
			wantVersion: "20260118_120000",
			wantName:    "create_runs",
			wantOk:      true,
		},
		{
			name:        "description with underscores",
			filename:    "20260118_120000_add_error_class_to_results.up.sql",
			wantVersion: "20260118_120000",
			wantName:    "add_error_class_to_results",
			wantOk:      true,
		},
		{name: "down migration ignored", filename: "20260118_120000_create_runs.down.sql"},
		{name: "not sql file", filename: "readme.txt"},
		{name: "missing direction", filename: "20260118_120000_create_runs.sql"},
		{name: "invalid format", filename: "invalid.up.sql"},
		{name: "short version", filename: "2026_1200_x.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %v, want %v", version, tt.wantVersion)
			}
			if name != tt.wantName {
				t.Errorf("name = %v, want %v", name, tt.wantName)
			}
		})
	}
}
