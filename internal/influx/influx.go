// Package influx writes puck time series and tracker performance samples to
// InfluxDB, or to a gzip line protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/tabletopmap/pucktracker/internal/config"
)

const (
	// PerformanceBucket receives the tracker's own status samples.
	PerformanceBucket = "tracker_performance"

	pingTimeout = 3 * time.Second
)

var (
	ErrDisabled = errors.New("influx.enabled is false")
	// ErrNoSink is returned by writes before Connect succeeded.
	ErrNoSink = errors.New("influx not connected and no backup file")
)

// Manager owns the InfluxDB client and one write API per bucket.
type Manager struct {
	log        zerolog.Logger
	cfg        config.InfluxConfig
	backupPath string
	buckets    []string

	client  influxdb2.Client
	writers map[string]influxdb2_api.WriteAPI
	online  bool

	mu         sync.Mutex
	backup     *gzip.Writer
	backupFile *os.File

	failed atomic.Uint64
	wg     sync.WaitGroup
}

// NewManager prepares a manager for the configured position bucket and the
// performance bucket.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig, backupPath string) *Manager {
	return &Manager{
		log:        log.With().Str("component", "influx").Logger(),
		cfg:        cfg,
		backupPath: backupPath,
		buckets:    []string{cfg.Bucket, PerformanceBucket},
		writers:    make(map[string]influxdb2_api.WriteAPI),
	}
}

// Buckets lists the buckets the manager writes to.
func (m *Manager) Buckets() []string {
	return append([]string(nil), m.buckets...)
}

// Online reports whether points go to the server rather than the backup file.
func (m *Manager) Online() bool {
	return m.online
}

// FailedWrites counts batches the server rejected.
func (m *Manager) FailedWrites() uint64 {
	return m.failed.Load()
}

func (m *Manager) options() *influxdb2.Options {
	opts := influxdb2.DefaultOptions()
	if m.cfg.BatchSize > 0 {
		opts.SetBatchSize(m.cfg.BatchSize)
	}
	if m.cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(m.cfg.FlushInterval.Milliseconds()))
	}
	return opts
}

// Connect pings the server and prepares the org, buckets and writers. When
// the server cannot be reached points are written to the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	url := fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
	m.client = influxdb2.NewClientWithOptions(url, m.cfg.Token, m.options())

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if running, err := m.client.Ping(pingCtx); err != nil || !running {
		if err := m.openBackup(); err != nil {
			return err
		}
		m.log.Warn().Err(err).Str("url", url).Str("backupPath", m.backupPath).
			Msg("InfluxDB unreachable, writing line protocol backup")
		return nil
	}

	if err := m.ensureBuckets(ctx); err != nil {
		return err
	}
	for _, bucket := range m.buckets {
		m.startWriter(bucket)
	}
	m.online = true
	m.log.Info().Str("url", url).Strs("buckets", m.buckets).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.backupPath == "" {
		return ErrNoSink
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup != nil {
		return nil
	}
	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backup = gzip.NewWriter(file)
	return nil
}

func (m *Manager) ensureBuckets(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating organization %q: %w", m.cfg.Org, err)
		}
	}

	days := m.cfg.RetentionDays
	if days <= 0 {
		days = 90
	}
	rule := domain.RetentionRuleTypeExpire
	retention := domain.RetentionRule{Type: &rule, EverySeconds: int64(days) * 24 * 60 * 60}

	buckets := m.client.BucketsAPI()
	for _, name := range m.buckets {
		if _, err := buckets.FindBucketByName(ctx, name); err == nil {
			continue
		}
		m.log.Info().Str("bucket", name).Int("retentionDays", days).Msg("Bucket not found, creating")
		if _, err := buckets.CreateBucketWithName(ctx, org, name, retention); err != nil {
			return fmt.Errorf("creating bucket %q: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) startWriter(bucket string) {
	w := m.client.WriteAPI(m.cfg.Org, bucket)
	m.writers[bucket] = w

	m.wg.Add(1)
	go func(errs <-chan error) {
		defer m.wg.Done()
		for err := range errs {
			m.failed.Add(1)
			m.log.Error().Err(err).Str("bucket", bucket).Msg("InfluxDB write failed")
		}
	}(w.Errors())
}

// WritePoint queues point for bucket. Offline, the point is appended to the
// backup file regardless of bucket.
func (m *Manager) WritePoint(_ context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.online {
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("influx bucket %q not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return ErrNoSink
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing influx backup: %w", err)
	}
	return nil
}

// Flush pushes buffered points out.
func (m *Manager) Flush() {
	for _, w := range m.writers {
		w.Flush()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup != nil {
		_ = m.backup.Flush()
	}
}

// Close flushes the writers and closes the client and the backup file.
func (m *Manager) Close() error {
	if m.client != nil {
		m.client.Close()
		m.wg.Wait()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.backup != nil {
		errs = append(errs, m.backup.Close())
		m.backup = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}
