// Package events provides the push-event stream from the robot bridge.
//
// The bridge pushes touch, sonar, battery and people events over a
// WebSocket. This package owns the connection state machine (connect,
// reconnect with capped jittered backoff, give up after a configured
// number of consecutive failures) and fans events out to subscribers
// over bounded queues so one slow consumer never stalls the rest.
package events

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Well-known event types pushed by the bridge.
const (
	TypeTouch    = "touch"
	TypeSonar    = "sonar"
	TypeBattery  = "battery"
	TypePeople   = "people"
	TypePresence = "presence"
)

// Event is one hardware-pushed occurrence. Events are transient: they
// are delivered at most once per subscriber and never replayed.
type Event struct {
	Type      string
	Data      map[string]any
	Timestamp time.Time
}

// wireFrame is the bridge's {type, data, timestamp} WebSocket frame.
// The timestamp is seconds since the epoch with a fractional part.
type wireFrame struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

// parseFrame decodes one raw WebSocket message into an Event.
func parseFrame(raw []byte) (*Event, error) {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("events: invalid frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("events: frame missing type")
	}
	sec, frac := math.Modf(f.Timestamp)
	ts := time.Unix(int64(sec), int64(frac*float64(time.Second)))
	if f.Timestamp == 0 {
		ts = time.Now()
	}
	return &Event{Type: f.Type, Data: f.Data, Timestamp: ts}, nil
}
