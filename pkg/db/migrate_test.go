package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("0002_signals_idx.sql", "CREATE INDEX x ON signals (trader_id);\n")
	write("0001_init.sql", "CREATE TABLE t (id INT);")
	write("0003_empty.sql", "  \n")
	write("notes.txt", "ignored")

	got, err := LoadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0001_init", got[0].Version)
	assert.Equal(t, "0002_signals_idx", got[1].Version)
	assert.Equal(t, "CREATE INDEX x ON signals (trader_id);", got[1].SQL)
}

func TestLoadMigrationsRepo(t *testing.T) {
	got, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "0001_init", got[0].Version)
}
