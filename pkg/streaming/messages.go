// Package streaming defines the messages pushed to a live table display.
//
// Every message is an Envelope. Positions are coalesced per puck and sent as
// a batch; gestures and remaps are sent one by one, in order, after any
// positions recorded before them. The display acknowledges start_session and
// end_session with an ack naming the message type.
package streaming

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tabletopmap/pucktracker/pkg/core"
)

const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypePositions    = "positions"
	TypeGesture      = "gesture"
	TypeRemap        = "remap"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the display's acknowledgement.
type AckMessage struct {
	Type string `json:"type"`
	For  string `json:"for"`
}

// StartSessionPayload announces a tracking session and the pucks on the table.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// PositionsPayload carries the newest position of each puck that moved since
// the previous batch, ordered by marker id.
type PositionsPayload struct {
	Positions []core.PositionState `json:"positions"`
}

// NewPositions builds a batch ordered by marker id.
func NewPositions(latest map[core.MarkerID]core.PositionState) PositionsPayload {
	out := make([]core.PositionState, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkerID < out[j].MarkerID })
	return PositionsPayload{Positions: out}
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// ParseAck decodes an ack message. ok is false for anything else.
func ParseAck(data []byte) (ack AckMessage, ok bool) {
	if err := json.Unmarshal(data, &ack); err != nil {
		return AckMessage{}, false
	}
	return ack, ack.Type == TypeAck && ack.For != ""
}
