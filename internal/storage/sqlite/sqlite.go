// Package sqlitestorage records sessions into an in-memory SQLite database
// and snapshots it to a backup file. Backups are later moved to Postgres by
// the migratebackups command.
package sqlitestorage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tabletopmap/pucktracker/internal/database"
	gormstorage "github.com/tabletopmap/pucktracker/internal/storage/gorm"
	"gorm.io/gorm"
)

type Config struct {
	// Path of the database; empty opens a shared in-memory database.
	Path string
	// DumpPath receives the snapshots. Empty disables them.
	DumpPath string
	// DumpInterval adds periodic snapshots while a session runs.
	DumpInterval  time.Duration
	FlushInterval time.Duration
}

// Backend is the GORM backend plus snapshotting. A snapshot is taken after
// every session end, periodically when configured, and on Close.
type Backend struct {
	*gormstorage.Backend
	db  *gorm.DB
	cfg Config
	log *slog.Logger

	// serializes snapshots; VACUUM INTO refuses an existing target
	dumpMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.GetSqliteDB(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite DB: %w", err)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:            db,
			Logger:        logger,
			FlushInterval: cfg.FlushInterval,
		}),
		db:  db,
		cfg: cfg,
		log: logger.With("backend", "sqlite"),
	}, nil
}

func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		go b.dumpLoop(ctx)
	}
	return nil
}

// EndSession flushes the session and snapshots it.
func (b *Backend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.snapshot()
}

// Close stops periodic snapshots, flushes pending writes and takes the last
// snapshot.
func (b *Backend) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.snapshot()
}

// GetExportedFilePath returns the snapshot file, if snapshots are configured.
func (b *Backend) GetExportedFilePath() string {
	return b.cfg.DumpPath
}

// snapshot writes the database next to DumpPath and renames it into place,
// so a crash mid-dump leaves the previous snapshot intact.
func (b *Backend) snapshot() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	b.dumpMu.Lock()
	defer b.dumpMu.Unlock()

	start := time.Now()
	tmp := b.cfg.DumpPath + ".tmp"
	if err := database.DumpMemoryDBToDisk(b.db, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.cfg.DumpPath); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	b.log.Debug("Snapshot written", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

func (b *Backend) dumpLoop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.snapshot(); err != nil {
				b.log.Error("Snapshot failed", "error", err)
			}
		}
	}
}
