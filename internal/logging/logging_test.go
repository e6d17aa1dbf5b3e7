package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	for dir, want := range map[string]string{
		"trackerlogs":   filepath.Join("trackerlogs", "pucktracker.20260212_213836.log"),
		"./trackerlogs": filepath.Join("trackerlogs", "pucktracker.20260212_213836.log"),
		"/var/log/puck": filepath.Join("/var", "log", "puck", "pucktracker.20260212_213836.log"),
		"":              "pucktracker.20260212_213836.log",
	} {
		assert.Equal(t, want, LogFilePath(dir, "pucktracker", start), "dir %q", dir)
	}
}

func TestLogFilePath_SortsByStart(t *testing.T) {
	morning := LogFilePath("logs", "pucktracker", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	evening := LogFilePath("logs", "pucktracker", time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC))
	nextDay := LogFilePath("logs", "pucktracker", time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))

	assert.Less(t, morning, evening)
	assert.Less(t, evening, nextDay)
}

func TestOpenLogFile_RotatesExisting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	f, path, err := OpenLogFile(dir, "pucktracker", start)
	require.NoError(t, err)
	_, err = f.WriteString("first run\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, path2, err := OpenLogFile(dir, "pucktracker", start)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, path, path2)

	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Equal(t, "first run\n", string(old))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestOpenLogFile_BadDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, _, err := OpenLogFile(filepath.Join(blocker, "logs"), "pucktracker", time.Now())
	assert.Error(t, err)
}
