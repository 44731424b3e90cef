package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

//go:embed migrations
var migrationFS embed.FS

// Migrate 执行内嵌的方言迁移脚本 (按文件名排序)。
// 使用 schema_version 表追踪已执行版本, 重复调用幂等。
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if db == nil {
		return apperrors.New("Migrate", "db is required")
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		logger.Error("migrate: create schema_version table failed", logger.FieldError, err)
		return apperrors.Wrap(err, "Migrate", "create schema_version table")
	}

	sqlFiles, err := migrationFiles(dialect)
	if err != nil {
		return err
	}

	applied, err := loadAppliedVersions(ctx, db)
	if err != nil {
		return err
	}

	pending := countPendingMigrations(sqlFiles, applied)
	if pending > 0 {
		logger.Info("migrate: applying pending migrations", logger.FieldCount, pending, logger.FieldDriver, string(dialect))
	}
	for _, name := range sqlFiles {
		if applied[name] {
			continue
		}
		if err := applyOneMigration(ctx, db, dialect, name); err != nil {
			return err
		}
		logger.Info("migration applied", logger.FieldVersion, name)
	}
	return nil
}

func migrationFiles(dialect Dialect) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, path.Join("migrations", string(dialect)))
	if err != nil {
		return nil, apperrors.Wrapf(err, "Migrate", "read migrations for %s", dialect)
	}
	var sqlFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			sqlFiles = append(sqlFiles, e.Name())
		}
	}
	sort.Strings(sqlFiles)
	return sqlFiles, nil
}

func loadAppliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if db == nil {
		return nil, apperrors.New("Migrate", "db is required")
	}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyOneMigration(ctx context.Context, db *sql.DB, dialect Dialect, name string) error {
	if db == nil {
		return apperrors.New("Migrate", "db is required")
	}
	sqlBytes, err := migrationFS.ReadFile(path.Join("migrations", string(dialect), name))
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "read migration %s", name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "begin tx for %s", name)
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return apperrors.Wrapf(err, "Migrate", "exec migration %s", name)
	}
	if _, err := tx.ExecContext(ctx, dialect.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), name); err != nil {
		_ = tx.Rollback()
		return apperrors.Wrapf(err, "Migrate", "record migration %s", name)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrapf(err, "Migrate", "commit migration %s", name)
	}
	return nil
}

func countPendingMigrations(sqlFiles []string, applied map[string]bool) int {
	pending := 0
	for _, name := range sqlFiles {
		if !applied[name] {
			pending++
		}
	}
	return pending
}
