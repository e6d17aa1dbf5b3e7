package main

import (
	"context"
	"log/slog"

	"github.com/tabletopmap/pucktracker/internal/gesture"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// newLogAction reports gestures in the log. The table display reads the
// recorded gesture events, so the tracker itself only needs a trace.
func newLogAction(logger *slog.Logger, id core.MarkerID) gesture.Action {
	return gesture.ActionFuncs{
		Left: func(ctx context.Context) {
			logger.InfoContext(ctx, "Puck rotated", "marker_id", id, "direction", core.DirectionLeft)
		},
		Right: func(ctx context.Context) {
			logger.InfoContext(ctx, "Puck rotated", "marker_id", id, "direction", core.DirectionRight)
		},
	}
}
