package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLoadAppliedVersions_NilDB(t *testing.T) {
	if _, err := loadAppliedVersions(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestApplyOneMigration_NilDB(t *testing.T) {
	if err := applyOneMigration(context.Background(), nil, SQLite, "0001_init.sql"); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestMigrationFilesPerDialect(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		files, err := migrationFiles(d)
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		if len(files) == 0 || files[0] != "0001_init.sql" {
			t.Fatalf("%s: files = %v", d, files)
		}
	}
}

// TestMigrateSQLiteIdempotent 在临时 SQLite 文件上执行两次迁移。
func TestMigrateSQLiteIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "zknotes.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, SQLite); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("schema_version rows = %d, want 1", n)
	}
	for _, table := range []string{"server", "singlevalue", "orgauth_user", "file", "zknote", "token"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"sqlite_untouched", SQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres_numbered", Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"postgres_quoted", Postgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{"postgres_none", Postgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Rebind(tt.in); got != tt.want {
				t.Errorf("Rebind = %q, want %q", got, tt.want)
			}
		})
	}
}
