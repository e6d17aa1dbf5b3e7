package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName is the name reported to the OTel bridge and Graylog.
const ServiceName = "pucktracker"

// swapped by tests
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel and Graylog sinks.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	graylog  io.Writer
	contextP ContextProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case, with optional offsets
// such as "debug+2". Anything else is info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// EnableGraylog dials a GELF UDP writer. Takes effect on the next Setup.
func (m *SlogManager) EnableGraylog(address string) error {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return fmt.Errorf("failed to create gelf writer: %w", err)
	}
	w.Facility = ServiceName
	m.graylog = w
	return nil
}

// SetGraylogWriter installs an already constructed GELF sink.
func (m *SlogManager) SetGraylogWriter(w io.Writer) {
	m.graylog = w
}

// SetContextProvider registers attributes appended to every record, such as
// the current session id. Takes effect on the next Setup.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.contextP = p
}

// Setup initializes the logging system with file and optional OTel output.
// Console output is used only when no file is given.
// If provider is nil, OTel logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	// GELF payloads are JSON, the gelf writer wraps each line as short_message
	if m.graylog != nil {
		handlers = append(handlers, slog.NewJSONHandler(m.graylog, handlerOpts))
	}

	if provider != nil {
		otelHandler := otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	var handler slog.Handler = NewMultiHandler(handlers...)
	if m.contextP != nil {
		handler = NewContextHandler(handler, m.contextP)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close releases the Graylog writer if one was opened.
func (m *SlogManager) Close() error {
	if c, ok := m.graylog.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
