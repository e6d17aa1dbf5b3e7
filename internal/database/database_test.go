package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabletopmap/pucktracker/internal/model"
)

func newFileManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSqlite(filepath.Join(t.TempDir(), "tracker.db")))
	t.Cleanup(func() { _ = m.SqlDB.Close() })
	return m
}

func TestConnectSqlite_Setup(t *testing.T) {
	m := newFileManager(t)
	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)

	require.NoError(t, m.Setup())
	for _, tbl := range model.DatabaseModels {
		assert.True(t, m.DB.Migrator().HasTable(tbl), "%T", tbl)
	}

	var infos []model.TableInfo
	require.NoError(t, m.DB.Find(&infos).Error)
	assert.Len(t, infos, 1)

	// running setup again keeps the single info row
	require.NoError(t, m.Setup())
	require.NoError(t, m.DB.Find(&infos).Error)
	assert.Len(t, infos, 1)
}

func TestDumpMemoryToDisk(t *testing.T) {
	m := newFileManager(t)
	require.NoError(t, m.Setup())

	m.SqliteFilePath = filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, os.WriteFile(m.SqliteFilePath, []byte("stale"), 0o644))

	require.NoError(t, m.DumpMemoryToDisk())

	info, err := os.Stat(m.SqliteFilePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(5))
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	m := newFileManager(t)
	assert.Error(t, DumpMemoryDBToDisk(m.DB, ""))
}

func TestGetBackupDBPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.db", "b.db", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.db"), 0o755))

	paths, err := GetBackupDBPaths(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.db"), filepath.Join(dir, "b.db")}, paths)
}
