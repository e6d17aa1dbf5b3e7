package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/tabletopmap/pucktracker/internal/api"
	"github.com/tabletopmap/pucktracker/internal/config"
	"github.com/tabletopmap/pucktracker/internal/dispatcher"
	"github.com/tabletopmap/pucktracker/internal/engine"
	"github.com/tabletopmap/pucktracker/internal/feed"
	"github.com/tabletopmap/pucktracker/internal/geo"
	"github.com/tabletopmap/pucktracker/internal/logging"
	"github.com/tabletopmap/pucktracker/internal/marker"
	"github.com/tabletopmap/pucktracker/internal/monitor"
	intOtel "github.com/tabletopmap/pucktracker/internal/otel"
	"github.com/tabletopmap/pucktracker/internal/parser"
	"github.com/tabletopmap/pucktracker/internal/registry"
	"github.com/tabletopmap/pucktracker/internal/session"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/internal/worker"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion = "0.0.1"
	BuildDate      = "unknown"

	ExtensionName = "pucktracker"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger backs the database and influx managers and the dispatcher
	ZLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFilePath string
	LogFile     *os.File

	SessionStartTime = time.Now()

	// Sessions tags every log line with the session being recorded
	Sessions = session.NewContext()
)

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	feedSource := flag.String("feed", "", "detection feed: stdin, a file path or a ws:// URL (overrides feed.source)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [run | setupdb | migratebackups | export <session id>...]\n", ExtensionName)
		flag.PrintDefaults()
	}
	flag.Parse()

	configErr := config.Load(*configDir)
	setupLogging()
	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Info("Loaded config", "dir", *configDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	args := flag.Args()
	cmd := ""
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
	}
	switch cmd {
	case "", "run":
		err = runTracker(ctx, *feedSource)
	case "setupdb":
		err = setupDB()
	case "migratebackups":
		err = migrateBackups()
	case "export":
		err = exportSessions(args[1:])
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		Logger.Error("Exiting with error", "command", cmd, "error", err)
	}
	shutdownLogging()
	if err != nil {
		os.Exit(1)
	}
}

// setupLogging opens the session log file and wires slog, zerolog and the
// optional OTel and Graylog sinks.
func setupLogging() {
	level := viper.GetString("logLevel")
	SlogManager = logging.NewSlogManager()
	SlogManager.SetContextProvider(Sessions.LogAttrs)

	var err error
	LogFile, LogFilePath, err = logging.OpenLogFile(viper.GetString("logsDir"), ExtensionName, SessionStartTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log file %s: %v\n", LogFilePath, err)
		LogFile = nil
	}

	otelCfg := config.GetOTelConfig()
	var otelErr error
	if otelCfg.Enabled {
		cfg := intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		}
		if LogFile != nil {
			cfg.LogWriter = LogFile
			if otelCfg.Metrics {
				cfg.MetricWriter = LogFile
				cfg.MetricInterval = otelCfg.MetricInterval
			}
		}
		OTelProvider, otelErr = intOtel.New(cfg)
	}

	graylogCfg := config.GetGraylogConfig()
	var graylogErr error
	if graylogCfg.Enabled {
		graylogErr = SlogManager.EnableGraylog(graylogCfg.Address)
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	if LogFile != nil {
		SlogManager.Setup(LogFile, level, otelLogProvider)
		fmt.Fprintf(os.Stderr, "Logging to %s\n", LogFilePath)
	} else {
		SlogManager.Setup(nil, level, otelLogProvider)
	}
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	if otelErr != nil {
		Logger.Error("Failed to initialize OTel provider", "error", otelErr)
	} else if OTelProvider != nil {
		Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
	}
	if graylogErr != nil {
		Logger.Error("Failed to initialize Graylog sink", "error", graylogErr)
	}

	ZLogger = newZeroLogger(level)
}

func newZeroLogger(level string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if LogFile != nil {
		out = LogFile
	}
	return logging.NewZeroLogger(out, level, LogFile == nil, func(e *zerolog.Event) {
		e.Str("session_id", Sessions.ID().String())
	})
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		_ = OTelProvider.Shutdown(ctx)
	}
	_ = SlogManager.Close()
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

// runTracker builds the engine and its collaborators and pumps the feed until
// it ends or a signal arrives.
func runTracker(ctx context.Context, feedOverride string) error {
	engCfg := config.GetEngineConfig()
	feedCfg := config.GetFeedConfig()
	if feedOverride != "" {
		feedCfg.Source = feedOverride
	}
	storageCfg := config.GetStorageConfig()
	if storageCfg.Display.ServerURL != "" {
		go checkServerStatus(ctx, storageCfg.Display)
	}

	mapCfg, err := config.GetMapConfig()
	if err != nil {
		return err
	}
	markerCfgs, err := config.GetMarkerConfigs()
	if err != nil {
		return err
	}
	cals, err := config.GetCameraConfigs()
	if err != nil {
		return err
	}
	affine := transform.NewAffine(cals...)
	Logger.Info("Loaded camera calibrations", "cameras", len(cals))

	// with an async transform the markers store raw corners and the engine
	// hands them to the collaborator
	var tr transform.Transformer = affine
	var async transform.AsyncTransformer
	if feedCfg.Async {
		tr = nil
		async = transform.Async{Transformer: affine}
	}

	reg := registry.New()
	defer reg.Close()
	for _, mc := range markerCfgs {
		m := marker.New(marker.Config{
			ID:                 mc.ID,
			Job:                mc.Job,
			MinRotationDegrees: mc.MinRotationDegrees,
			Cooldown:           mc.Cooldown,
			HistorySize:        engCfg.HistorySize,
			FlickerWindow:      engCfg.FlickerWindow,
			TrueAxisDeltas:     engCfg.TrueAxisDeltas,
			Action:             newLogAction(Logger, mc.ID),
		}, tr)
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("failed to register marker: %w", err)
		}
	}
	Logger.Info("Registered markers", "count", reg.Len())

	var projector engine.Projector
	if mapCfg.Bounds != ([2][2]float64{}) {
		p, err := geo.NewProjector(mapCfg.Width, mapCfg.Height, mapCfg.Bounds)
		if err != nil {
			Logger.Warn("Map bounds rejected, positions will not be projected", "error", err)
		} else {
			projector = p
		}
	}

	backend, im, err := createStorageBackend(ctx, storageCfg)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	var perf monitor.PointWriter
	if im != nil {
		perf = im
		defer func() {
			if err := im.Close(); err != nil {
				Logger.Error("Failed to close influx manager", "error", err)
			}
		}()
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
	}()

	var manager *worker.Manager
	var meter metric.Meter
	if OTelProvider != nil {
		meter = OTelProvider.Meter("github.com/tabletopmap/pucktracker/internal/engine")
	}
	eng := engine.New(reg, engine.Options{
		Meter:     meter,
		Logger:    Logger,
		Session:   Sessions,
		Projector: projector,
		Workers:   engCfg.Workers,
		Async:     async,
		OnCommit:  func(r engine.Result) { manager.Record(r) },
	})
	defer eng.Close()

	p := parser.NewParser(Logger)
	hostname, _ := os.Hostname()
	manager = worker.NewManager(worker.Dependencies{
		Logger:         Logger,
		Parser:         p,
		Engine:         eng,
		Registry:       reg,
		Transform:      affine,
		Session:        Sessions,
		RecordPosition: storageCfg.RecordPosition,
		FrameBuffer:    engCfg.FrameBuffer,
		Hostname:       hostname,
		Version:        CurrentVersion,
		Build:          BuildDate,
		MapName:        mapCfg.Name,
	}, backend)

	d, err := dispatcher.New(logging.NewZeroAdapter(ZLogger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	manager.RegisterHandlers(d)

	monCfg := config.GetMonitorConfig()
	statusPath := monCfg.StatusFile
	if !filepath.IsAbs(statusPath) {
		statusPath = filepath.Join(viper.GetString("logsDir"), statusPath)
	}
	mon := monitor.NewService(monitor.Dependencies{
		Logger:     Logger,
		Registry:   reg,
		Session:    Sessions,
		Writes:     manager,
		Perf:       perf,
		StatusPath: statusPath,
		Interval:   monCfg.Interval,
	})
	if err := mon.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
	}
	defer mon.Stop()

	if _, err := manager.StartSession(mapCfg.Name); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	Logger.Info("Reading feed", "source", feedCfg.Source, "async", feedCfg.Async, "workers", engCfg.Workers)
	err = feed.Pump(ctx, feed.Open(feedCfg.Source, Logger), p, d, Logger)
	if errors.Is(err, context.Canceled) {
		Logger.Info("Shutting down")
		err = nil
	}

	// drain buffered frames before the session is closed
	d.Close()
	if manager.Active() {
		if endErr := manager.EndSession(); endErr != nil {
			Logger.Error("Failed to end session", "error", endErr)
		}
	}
	if path := exportedFilePath(backend); path != "" {
		Logger.Info("Session exported", "path", path)
		if storageCfg.Display.Upload {
			uploadExport(path, storageCfg.Display)
		}
	}
	return err
}

// checkServerStatus logs whether the display server answers its healthcheck.
func checkServerStatus(ctx context.Context, display config.DisplayConfig) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := api.New(display.ServerURL, display.APIKey).Healthcheck(ctx); err != nil {
		Logger.Info("Display server is offline", "url", display.ServerURL, "error", err)
		return
	}
	Logger.Info("Display server is online", "url", display.ServerURL)
}

func uploadExport(path string, display config.DisplayConfig) {
	s := Sessions.Get()
	meta := api.UploadMetadata{
		SessionID: s.ID,
		MapName:   s.MapName,
		Tag:       display.Tag,
	}
	if s.EndTime != nil {
		meta.Duration = s.EndTime.Sub(s.StartTime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := api.New(display.ServerURL, display.APIKey).Upload(ctx, path, meta); err != nil {
		Logger.Error("Failed to upload session", "path", path, "error", err)
		return
	}
	Logger.Info("Session uploaded", "url", display.ServerURL, "session_id", s.ID)
}
