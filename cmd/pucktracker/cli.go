package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tabletopmap/pucktracker/internal/config"
	"github.com/tabletopmap/pucktracker/internal/database"
	gormstorage "github.com/tabletopmap/pucktracker/internal/storage/gorm"
	"github.com/tabletopmap/pucktracker/internal/storage/memory"
	"gorm.io/gorm"
)

var errNoPostgres = errors.New("postgres is not reachable")

// connectPostgres opens and migrates the configured database. The SQLite
// fallback of the manager is refused; these commands target the shared server.
func connectPostgres() (*database.Manager, error) {
	dbm := database.NewManager(ZLogger)
	if err := dbm.Connect(); err != nil {
		return nil, err
	}
	if dbm.ShouldSaveLocal {
		_ = dbm.SqlDB.Close()
		return nil, errNoPostgres
	}
	if err := dbm.Setup(); err != nil {
		return nil, err
	}
	return dbm, nil
}

func setupDB() error {
	dbm, err := connectPostgres()
	if err != nil {
		return fmt.Errorf("error setting up database: %w", err)
	}
	defer dbm.SqlDB.Close()
	Logger.Info("DB setup complete.")
	return nil
}

// migrateBackups replays every session of every SQLite dump in the backup dir
// into Postgres. Migrated files are renamed to *.migrated.
func migrateBackups() error {
	dbm, err := connectPostgres()
	if err != nil {
		return fmt.Errorf("error getting postgres database: %w", err)
	}
	defer dbm.SqlDB.Close()

	dst := gormstorage.New(gormstorage.Dependencies{DB: dbm.DB, Logger: Logger})

	backupDir := config.GetStorageConfig().SQLite.BackupDir
	paths, err := database.GetBackupDBPaths(backupDir)
	if err != nil {
		return fmt.Errorf("error getting backup database paths: %w", err)
	}

	var migrated []string
	for _, path := range paths {
		n, err := migrateBackup(path, dst)
		if err != nil {
			Logger.Error("Failed to migrate backup", "path", path, "error", err)
			continue
		}
		if err := os.Rename(path, path+".migrated"); err != nil {
			Logger.Error("Error renaming sqlite file", "error", err)
		}
		Logger.Info("Migrated backup", "path", path, "sessions", n)
		migrated = append(migrated, path)
	}

	Logger.Info("Finished migrating backups, it's recommended to delete these to avoid future data duplication",
		"count", len(migrated),
		"paths", migrated)
	return nil
}

func migrateBackup(path string, dst *gormstorage.Backend) (int, error) {
	db, err := database.GetSqliteDB(path)
	if err != nil {
		return 0, err
	}
	defer closeDB(db)

	src := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: Logger})
	sessions, err := src.Sessions()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if _, err := dst.Session(s.ID); err == nil {
			Logger.Info("Session already migrated", "session_id", s.ID)
			continue
		} else if !errors.Is(err, gormstorage.ErrUnknownSession) {
			return n, err
		}
		if err := src.Replay(s.ID, dst); err != nil {
			return n, fmt.Errorf("session %s: %w", s.ID, err)
		}
		n++
	}
	return n, nil
}

// exportSessions writes JSON exports of stored sessions. The first argument
// may name a SQLite file to read from instead of Postgres; without ids every
// session is exported.
func exportSessions(args []string) error {
	var db *gorm.DB
	if len(args) > 0 && strings.HasSuffix(args[0], ".db") {
		var err error
		db, err = database.GetSqliteDB(args[0])
		if err != nil {
			return fmt.Errorf("error opening %s: %w", args[0], err)
		}
		args = args[1:]
	} else {
		dbm, err := connectPostgres()
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		db = dbm.DB
	}
	defer closeDB(db)

	src := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: Logger})

	var ids []uuid.UUID
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", a, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		sessions, err := src.Sessions()
		if err != nil {
			return err
		}
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
	}

	memCfg := config.GetStorageConfig().Memory
	for _, id := range ids {
		out := memory.New(memCfg)
		if err := src.Replay(id, out); err != nil {
			return fmt.Errorf("error exporting session %s: %w", id, err)
		}
		Logger.Info("Exported session", "session_id", id, "path", out.GetExportedFilePath())
		fmt.Println(out.GetExportedFilePath())
	}
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
