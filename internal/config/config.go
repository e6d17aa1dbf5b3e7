package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "pucktracker.cfg.json"

// MarkerConfig describes one physical puck.
type MarkerConfig struct {
	ID                 core.MarkerID `json:"id" mapstructure:"id"`
	Job                core.JobTag   `json:"job" mapstructure:"job"`
	MinRotationDegrees float64       `json:"minRotation" mapstructure:"minRotation"`
	Cooldown           time.Duration `json:"delay" mapstructure:"delay"`
}

// EngineConfig holds the tracking engine settings shared by every puck.
type EngineConfig struct {
	HistorySize    int
	FlickerWindow  float64
	TrueAxisDeltas bool
	Workers        int
	FrameBuffer    int
}

// MapConfig places the table on a geographic map. Bounds are [[south, west], [north, east]].
type MapConfig struct {
	Name   string
	Width  float64
	Height float64
	Bounds [2][2]float64
}

// FeedConfig selects where detections come from: "stdin", a file path or a ws:// URL.
type FeedConfig struct {
	Source string
	Async  bool
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration
	// BackupDir receives the periodic dumps; migratebackups reads it back.
	BackupDir string
}

// InfluxConfig holds InfluxDB storage backend settings
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
	// BatchSize and FlushInterval tune the asynchronous write API.
	BatchSize     uint
	FlushInterval time.Duration
	RetentionDays int
}

// DisplayConfig points the websocket backend at the table display server.
type DisplayConfig struct {
	ServerURL string
	APIKey    string
	// Upload sends the session export to the display server when a session ends.
	Upload bool
	Tag    string
	// FlushInterval batches position updates sent to the display.
	FlushInterval time.Duration
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type           string
	FlushInterval  time.Duration
	RecordPosition bool
	Memory         MemoryConfig
	SQLite         SQLiteConfig
	Influx         InfluxConfig
	Display        DisplayConfig
}

// MonitorConfig controls the periodic status snapshot.
type MonitorConfig struct {
	Interval   time.Duration
	StatusFile string
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
	// Metrics writes periodic snapshots of the tracker counters to the log file.
	Metrics        bool
	MetricInterval time.Duration
}

// GraylogConfig holds the GELF log sink settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// DefaultMarkers are the pucks shipped with the table.
var DefaultMarkers = []map[string]any{
	{"id": 320, "job": "year", "minRotation": 4, "delay": "75ms"},
	{"id": 7, "job": "layer", "minRotation": 4, "delay": "300ms"},
	{"id": 9, "job": "scenario", "minRotation": 4, "delay": "300ms"},
	{"id": 11, "job": "add", "minRotation": 4, "delay": "300ms"},
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers every default value without reading a file.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./trackerlogs")

	viper.SetDefault("engine.historySize", 40)
	viper.SetDefault("engine.flickerWindow", 0.2)
	viper.SetDefault("engine.trueAxisDeltas", false)
	viper.SetDefault("engine.workers", 1)
	viper.SetDefault("engine.frameBuffer", 64)

	viper.SetDefault("markers", DefaultMarkers)
	viper.SetDefault("cameras", []map[string]any{})

	viper.SetDefault("map.name", "default")
	viper.SetDefault("map.width", 1920)
	viper.SetDefault("map.height", 1080)
	viper.SetDefault("map.bounds", [][]float64{{0, 0}, {0, 0}})

	viper.SetDefault("feed.source", "stdin")
	viper.SetDefault("feed.async", false)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.flushInterval", "1s")
	viper.SetDefault("storage.recordPosition", true)
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.backupDir", "./backups")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "pucktracker")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "pucktracker")
	viper.SetDefault("influx.bucket", "puck_positions")
	viper.SetDefault("influx.batchSize", 2500)
	viper.SetDefault("influx.flushInterval", "1s")
	viper.SetDefault("influx.retentionDays", 90)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)
	viper.SetDefault("api.tag", "")
	viper.SetDefault("api.flushInterval", "50ms")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "pucktracker")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.metrics", false)
	viper.SetDefault("otel.metricInterval", "30s")

	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "status.json")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetEngineConfig returns the tracking engine settings.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		HistorySize:    viper.GetInt("engine.historySize"),
		FlickerWindow:  viper.GetFloat64("engine.flickerWindow"),
		TrueAxisDeltas: viper.GetBool("engine.trueAxisDeltas"),
		Workers:        viper.GetInt("engine.workers"),
		FrameBuffer:    viper.GetInt("engine.frameBuffer"),
	}
}

// GetMarkerConfigs returns the configured pucks.
func GetMarkerConfigs() ([]MarkerConfig, error) {
	var markers []MarkerConfig
	if err := viper.UnmarshalKey("markers", &markers); err != nil {
		return nil, fmt.Errorf("error decoding markers: %w", err)
	}
	seen := make(map[core.MarkerID]bool, len(markers))
	for _, m := range markers {
		if seen[m.ID] {
			return nil, fmt.Errorf("marker %d configured twice", m.ID)
		}
		seen[m.ID] = true
	}
	return markers, nil
}

// GetCameraConfigs returns the per-camera calibrations.
func GetCameraConfigs() ([]transform.Calibration, error) {
	var cals []transform.Calibration
	if err := viper.UnmarshalKey("cameras", &cals); err != nil {
		return nil, fmt.Errorf("error decoding cameras: %w", err)
	}
	return cals, nil
}

// GetMapConfig returns the table map placement.
func GetMapConfig() (MapConfig, error) {
	cfg := MapConfig{
		Name:   viper.GetString("map.name"),
		Width:  viper.GetFloat64("map.width"),
		Height: viper.GetFloat64("map.height"),
	}
	var bounds [][]float64
	if err := viper.UnmarshalKey("map.bounds", &bounds); err != nil {
		return cfg, fmt.Errorf("error decoding map bounds: %w", err)
	}
	if len(bounds) != 2 || len(bounds[0]) != 2 || len(bounds[1]) != 2 {
		return cfg, fmt.Errorf("map bounds must be [[south, west], [north, east]]")
	}
	cfg.Bounds = [2][2]float64{{bounds[0][0], bounds[0][1]}, {bounds[1][0], bounds[1][1]}}
	return cfg, nil
}

// GetFeedConfig returns the detection feed settings.
func GetFeedConfig() FeedConfig {
	return FeedConfig{
		Source: viper.GetString("feed.source"),
		Async:  viper.GetBool("feed.async"),
	}
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:           viper.GetString("storage.type"),
		FlushInterval:  viper.GetDuration("storage.flushInterval"),
		RecordPosition: viper.GetBool("storage.recordPosition"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			BackupDir:    viper.GetString("storage.sqlite.backupDir"),
		},
		Influx: InfluxConfig{
			Enabled:       viper.GetBool("influx.enabled"),
			Host:          viper.GetString("influx.host"),
			Port:          viper.GetString("influx.port"),
			Protocol:      viper.GetString("influx.protocol"),
			Token:         viper.GetString("influx.token"),
			Org:           viper.GetString("influx.org"),
			Bucket:        viper.GetString("influx.bucket"),
			BatchSize:     viper.GetUint("influx.batchSize"),
			FlushInterval: viper.GetDuration("influx.flushInterval"),
			RetentionDays: viper.GetInt("influx.retentionDays"),
		},
		Display: DisplayConfig{
			ServerURL:     viper.GetString("api.serverUrl"),
			APIKey:        viper.GetString("api.apiKey"),
			Upload:        viper.GetBool("api.upload"),
			Tag:           viper.GetString("api.tag"),
			FlushInterval: viper.GetDuration("api.flushInterval"),
		},
	}
}

// GetMonitorConfig returns the status monitor settings. A relative status
// file is placed in the logs directory.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),

		Metrics:        viper.GetBool("otel.metrics"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
