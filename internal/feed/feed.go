// Package feed reads the detection feed line by line from stdin, a file or a
// websocket and hands each line to the dispatcher.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tabletopmap/pucktracker/internal/dispatcher"
	"github.com/tabletopmap/pucktracker/internal/parser"
)

// maxLineSize bounds one feed line; a frame with many pucks stays well below it.
const maxLineSize = 1 << 20

// LineFunc consumes one feed line.
type LineFunc func(line []byte) error

// Source delivers feed lines until it is exhausted or ctx ends.
type Source interface {
	Run(ctx context.Context, fn LineFunc) error
}

// ReaderSource reads newline separated messages from R.
type ReaderSource struct {
	R io.Reader
}

func (s ReaderSource) Run(ctx context.Context, fn LineFunc) error {
	sc := bufio.NewScanner(s.R)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// FileSource reads a recorded feed from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Run(ctx context.Context, fn LineFunc) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open feed file: %w", err)
	}
	defer f.Close()
	return ReaderSource{R: f}.Run(ctx, fn)
}

// Open picks a source for the configured feed: "stdin", a ws:// or wss:// URL,
// or a file path.
func Open(source string, logger *slog.Logger) Source {
	switch {
	case source == "" || source == "stdin" || source == "-":
		return ReaderSource{R: os.Stdin}
	case strings.HasPrefix(source, "ws://"), strings.HasPrefix(source, "wss://"):
		return &WebsocketSource{URL: source, Logger: logger}
	default:
		return FileSource{Path: source}
	}
}

// Pump parses every line from src and dispatches it. Malformed lines and
// handler errors are logged and skipped.
func Pump(ctx context.Context, src Source, p *parser.Parser, d *dispatcher.Dispatcher, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return src.Run(ctx, func(line []byte) error {
		if len(strings.TrimSpace(string(line))) == 0 {
			return nil
		}
		e, err := p.ParseEvent(line, time.Now())
		if err != nil {
			logger.Warn("Skipping feed line", "error", err)
			return nil
		}
		if _, err := d.Dispatch(e); err != nil {
			if errors.Is(err, dispatcher.ErrClosed) {
				return err
			}
			logger.Warn("Feed event failed", "command", e.Command, "error", err)
		}
		return nil
	})
}
