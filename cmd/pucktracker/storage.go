package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tabletopmap/pucktracker/internal/config"
	"github.com/tabletopmap/pucktracker/internal/database"
	"github.com/tabletopmap/pucktracker/internal/influx"
	"github.com/tabletopmap/pucktracker/internal/storage"
	gormstorage "github.com/tabletopmap/pucktracker/internal/storage/gorm"
	influxstorage "github.com/tabletopmap/pucktracker/internal/storage/influx"
	"github.com/tabletopmap/pucktracker/internal/storage/memory"
	sqlitestorage "github.com/tabletopmap/pucktracker/internal/storage/sqlite"
	wsstorage "github.com/tabletopmap/pucktracker/internal/storage/websocket"
)

var _ influxstorage.PointWriter = (*influx.Manager)(nil)

// createStorageBackend builds the configured backend. When influx is enabled
// its manager is returned too; the caller closes it after the backend.
func createStorageBackend(ctx context.Context, storageCfg config.StorageConfig) (storage.Backend, *influx.Manager, error) {
	backend, err := createPrimaryBackend(storageCfg)
	if err != nil {
		return nil, nil, err
	}
	if !storageCfg.Influx.Enabled {
		return backend, nil, nil
	}

	backupPath := filepath.Join(viper.GetString("logsDir"),
		fmt.Sprintf("%s_influx_%s.lp.gz", ExtensionName, SessionStartTime.Format("20060102_150405")))
	im := influx.NewManager(ZLogger, storageCfg.Influx, backupPath)
	if err := im.Connect(ctx); err != nil {
		Logger.Error("InfluxDB unavailable, positions stay in the primary backend only", "error", err)
		_ = im.Close()
		return backend, nil, nil
	}
	Logger.Info("InfluxDB storage backend initialized", "bucket", storageCfg.Influx.Bucket)
	return storage.Multi{backend, influxstorage.New(im, storageCfg.Influx.Bucket)}, im, nil
}

func createPrimaryBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		dbm := database.NewManager(ZLogger)
		if err := dbm.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if dbm.ShouldSaveLocal {
			Logger.Warn("Postgres unavailable, recording to SQLite with periodic dumps")
			_ = dbm.SqlDB.Close()
			return createSqliteBackend(storageCfg)
		}
		if err := dbm.Setup(); err != nil {
			return nil, fmt.Errorf("failed to set up database: %w", err)
		}
		Logger.Info("Database storage backend initialized", "dialect", dbm.DB.Dialector.Name())
		return gormstorage.New(gormstorage.Dependencies{
			DB:            dbm.DB,
			Logger:        Logger,
			FlushInterval: storageCfg.FlushInterval,
		}), nil

	case "sqlite":
		return createSqliteBackend(storageCfg)

	case "websocket":
		wsURL := httpToWS(storageCfg.Display.ServerURL) + "/api"
		Logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:           wsURL,
			Secret:        storageCfg.Display.APIKey,
			FlushInterval: storageCfg.Display.FlushInterval,
		}, Logger), nil

	default:
		Logger.Info("Memory storage backend initialized", "dir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil
	}
}

// createSqliteBackend records into an in-memory SQLite database that is dumped
// to the backup dir periodically and at shutdown.
func createSqliteBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	backupDir := storageCfg.SQLite.BackupDir
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}
	dumpPath := filepath.Join(backupDir, fmt.Sprintf("%s_%s.db", ExtensionName, SessionStartTime.Format("20060102_150405")))
	backend, err := sqlitestorage.New(sqlitestorage.Config{
		DumpInterval:  storageCfg.SQLite.DumpInterval,
		DumpPath:      dumpPath,
		FlushInterval: storageCfg.FlushInterval,
	}, Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
	}
	Logger.Info("SQLite storage backend initialized", "dump", dumpPath)
	return backend, nil

}

func exportedFilePath(b storage.Backend) string {
	if e, ok := b.(storage.Exportable); ok {
		return e.GetExportedFilePath()
	}
	return ""
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
