package db

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migration is one forward-only .sql file. Version is the file name without extension.
type Migration struct {
	Version string
	SQL     string
}

// LoadMigrations reads dir/*.sql ordered by name.
func LoadMigrations(dir string) ([]Migration, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, errors.Wrap(err, "glob migrations")
	}
	sort.Strings(files)

	out := make([]Migration, 0, len(files))
	for _, f := range files {
		bs, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", f)
		}
		body := strings.TrimSpace(string(bs))
		if body == "" {
			continue
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(filepath.Base(f), ".sql"),
			SQL:     body,
		})
	}
	return out, nil
}

// Migrate applies every migration not yet recorded in schema_migrations, each in its own
// transaction, and returns the applied versions.
func Migrate(ctx context.Context, tm TxManager, migrations []Migration) ([]string, error) {
	if _, err := tm.Conn().Exec(ctx, migrationsTable); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}

	applied := make([]string, 0, len(migrations))
	for _, m := range migrations {
		done := false
		err := tm.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.Version)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			return applied, errors.Wrapf(err, "migration %s", m.Version)
		}
		if done {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}
