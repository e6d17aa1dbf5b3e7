package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewZeroLogger builds the zerolog logger used by the database and influx
// managers. Output is console formatted; hook may add fields to every event.
func NewZeroLogger(w io.Writer, level string, color bool, hook func(*zerolog.Event)) zerolog.Logger {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: !color}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	if hook != nil {
		logger = logger.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			hook(e)
		}))
	}
	return logger
}

// ZeroAdapter exposes a zerolog.Logger through the key/value Logger interface
// of the dispatcher.
type ZeroAdapter struct {
	logger zerolog.Logger
}

func NewZeroAdapter(logger zerolog.Logger) *ZeroAdapter {
	return &ZeroAdapter{logger: logger}
}

func (l *ZeroAdapter) Debug(msg string, keysAndValues ...any) {
	addFields(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *ZeroAdapter) Info(msg string, keysAndValues ...any) {
	addFields(l.logger.Info(), keysAndValues).Msg(msg)
}

func (l *ZeroAdapter) Error(msg string, keysAndValues ...any) {
	addFields(l.logger.Error(), keysAndValues).Msg(msg)
}

// addFields maps key/value pairs onto typed zerolog fields. Non-string keys
// are stringified; a trailing key without value is dropped.
func addFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case string:
			e = e.Str(key, v)
		case int:
			e = e.Int(key, v)
		case bool:
			e = e.Bool(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}
