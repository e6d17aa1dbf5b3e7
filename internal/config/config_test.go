package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"engine": { "workers": 4, "trueAxisDeltas": true },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 4, viper.GetInt("engine.workers"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", GetString("logLevel"))
	assert.Equal(t, "./trackerlogs", GetString("logsDir"))
	assert.Equal(t, 40, GetInt("engine.historySize"))
	assert.Equal(t, "stdin", GetString("feed.source"))
	assert.Equal(t, "memory", GetString("storage.type"))
	assert.Equal(t, "./recordings", GetString("storage.memory.outputDir"))
	assert.Equal(t, true, GetBool("storage.memory.compressOutput"))
	assert.Equal(t, 3*time.Minute, GetDuration("storage.sqlite.dumpInterval"))
	assert.Equal(t, "localhost", GetString("db.host"))
	assert.Equal(t, "pucktracker", GetString("db.database"))
	assert.Equal(t, false, GetBool("influx.enabled"))
	assert.Equal(t, "puck_positions", GetString("influx.bucket"))
	assert.Equal(t, false, GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", GetString("graylog.address"))
	assert.Equal(t, false, GetBool("otel.enabled"))
	assert.Equal(t, "pucktracker", GetString("otel.serviceName"))
	assert.Equal(t, time.Second, GetDuration("monitor.interval"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetEngineConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := GetEngineConfig()
	assert.Equal(t, EngineConfig{
		HistorySize:    40,
		FlickerWindow:  0.2,
		TrueAxisDeltas: false,
		Workers:        1,
		FrameBuffer:    64,
	}, cfg)
}

func TestGetMarkerConfigs_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	markers, err := GetMarkerConfigs()
	require.NoError(t, err)
	require.Len(t, markers, 4)

	assert.Equal(t, MarkerConfig{ID: 320, Job: "year", MinRotationDegrees: 4, Cooldown: 75 * time.Millisecond}, markers[0])
	assert.Equal(t, core.JobTag("add"), markers[3].Job)
	assert.Equal(t, 300*time.Millisecond, markers[3].Cooldown)
}

func TestGetMarkerConfigs_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"markers": [
			{ "id": 1, "job": "year", "minRotation": 6.5, "delay": "120ms" },
			{ "id": 2, "job": "layer", "minRotation": 3, "delay": "1s" }
		]
	}`)))

	markers, err := GetMarkerConfigs()
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, core.MarkerID(1), markers[0].ID)
	assert.Equal(t, 6.5, markers[0].MinRotationDegrees)
	assert.Equal(t, 120*time.Millisecond, markers[0].Cooldown)
	assert.Equal(t, time.Second, markers[1].Cooldown)
}

func TestGetMarkerConfigs_DuplicateID(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"markers": [ { "id": 5, "job": "year" }, { "id": 5, "job": "layer" } ]
	}`)))

	_, err := GetMarkerConfigs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured twice")
}

func TestGetCameraConfigs(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"cameras": [
			{ "camera": 1, "scaleX": 1.5, "scaleY": 1.5, "offsetX": 25, "offsetY": 25 },
			{ "camera": 2, "offsetX": 960, "rotationDegrees": 180 }
		]
	}`)))

	cals, err := GetCameraConfigs()
	require.NoError(t, err)
	assert.Equal(t, []transform.Calibration{
		{Camera: 1, ScaleX: 1.5, ScaleY: 1.5, OffsetX: 25, OffsetY: 25},
		{Camera: 2, OffsetX: 960, RotationDegrees: 180},
	}, cals)
}

func TestGetMapConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"map": { "name": "oahu", "width": 3000, "height": 2000, "bounds": [[21.2, -158.3], [21.8, -157.6]] }
	}`)))

	cfg, err := GetMapConfig()
	require.NoError(t, err)
	assert.Equal(t, "oahu", cfg.Name)
	assert.Equal(t, 3000.0, cfg.Width)
	assert.Equal(t, [2][2]float64{{21.2, -158.3}, {21.8, -157.6}}, cfg.Bounds)
}

func TestGetMapConfig_BadBounds(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{ "map": { "bounds": [[1, 2, 3]] } }`)))

	_, err := GetMapConfig()
	assert.Error(t, err)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"flushInterval": "250ms",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m" }
		},
		"influx": { "enabled": true, "bucket": "table" }
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, 250*time.Millisecond, sc.FlushInterval)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.True(t, sc.Influx.Enabled)
	assert.Equal(t, "table", sc.Influx.Bucket)
	assert.True(t, sc.RecordPosition)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "table-1",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, OTelConfig{
		Enabled:      true,
		ServiceName:  "table-1",
		BatchTimeout: 30 * time.Second,
		Endpoint:     "localhost:4317",
		Insecure:     false,
	}, oc)
}

func TestGetFeedAndGraylogConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"feed": { "source": "ws://localhost:8080/detections", "async": true },
		"graylog": { "enabled": true, "address": "graylog:12201" }
	}`)))

	assert.Equal(t, FeedConfig{Source: "ws://localhost:8080/detections", Async: true}, GetFeedConfig())
	assert.Equal(t, GraylogConfig{Enabled: true, Address: "graylog:12201"}, GetGraylogConfig())
}

func TestGetMonitorAndDisplayConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	mon := GetMonitorConfig()
	assert.Equal(t, time.Second, mon.Interval)
	assert.Equal(t, "status.json", mon.StatusFile)

	viper.Set("api.serverUrl", "https://display.local")
	viper.Set("api.apiKey", "k")
	display := GetStorageConfig().Display
	assert.Equal(t, "https://display.local", display.ServerURL)
	assert.Equal(t, "k", display.APIKey)
}
