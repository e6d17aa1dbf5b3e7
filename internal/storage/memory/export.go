package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tabletopmap/pucktracker/internal/geo"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// ExportVersion is bumped whenever the JSON layout changes.
const ExportVersion = 1

// SessionExport is the root JSON structure
type SessionExport struct {
	Version          int                 `json:"version"`
	SessionID        string              `json:"sessionId"`
	ExtensionVersion string              `json:"extensionVersion"`
	MapName          string              `json:"mapName"`
	Hostname         string              `json:"hostname"`
	StartTime        time.Time           `json:"startTime"`
	EndTime          *time.Time          `json:"endTime,omitempty"`
	EndFrame         uint64              `json:"endFrame"`
	Markers          []MarkerJSON        `json:"markers"`
	Remaps           []core.RemapEvent   `json:"remaps"`
	Gestures         []core.GestureEvent `json:"gestures"`
}

// MarkerJSON is one puck's recording.
// Positions are [frame, [x, y], camera, enabled].
type MarkerJSON struct {
	ID        core.MarkerID `json:"id"`
	Job       core.JobTag   `json:"job"`
	Positions [][]any       `json:"positions"`
	Trail     string        `json:"trail,omitempty"` // WKT in EPSG:3857
}

// exportJSON writes the session data to a (possibly gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	// Build filename
	mapName := strings.ReplaceAll(b.session.MapName, " ", "_")
	mapName = strings.ReplaceAll(mapName, ":", "_")
	if mapName == "" {
		mapName = "session"
	}
	timestamp := b.session.StartTime.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", mapName, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		Version:          ExportVersion,
		SessionID:        b.session.ID.String(),
		ExtensionVersion: b.session.ExtensionVersion,
		MapName:          b.session.MapName,
		Hostname:         b.session.Hostname,
		StartTime:        b.session.StartTime,
		EndTime:          b.session.EndTime,
		Markers:          make([]MarkerJSON, 0, len(b.order)),
		Remaps:           append([]core.RemapEvent{}, b.remaps...),
		Gestures:         make([]core.GestureEvent, 0),
	}

	for _, id := range b.order {
		record := b.markers[id]
		m := MarkerJSON{
			ID:        record.ID,
			Job:       record.Job,
			Positions: make([][]any, 0, len(record.Positions)),
		}
		for _, p := range record.Positions {
			m.Positions = append(m.Positions, []any{
				p.Frame,
				[]float64{p.Position.X, p.Position.Y},
				p.Camera,
				p.Enabled,
			})
			if p.Frame > export.EndFrame {
				export.EndFrame = p.Frame
			}
		}
		if trail := geo.Trail(record.Positions); !trail.IsEmpty() {
			m.Trail = trail.AsText()
		}
		export.Markers = append(export.Markers, m)
		export.Gestures = append(export.Gestures, record.Gestures...)
	}
	slices.SortStableFunc(export.Gestures, func(a, b core.GestureEvent) int {
		return a.Time.Compare(b.Time)
	})

	return export
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
