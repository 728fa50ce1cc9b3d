package gateway

import (
	"encoding/json"
	"time"

	"github.com/assafshtengel/matchtrack/internal/match/events"
)

// MatchEvent represents the base structure for all match events pushed
// over WebSocket.
type MatchEvent struct {
	ID        string          `json:"id"`        // Event UUID
	MatchID   string          `json:"match_id"`  // Match UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of match event.
type EventType string

const (
	EventTypeEventCommitted EventType = "EventCommitted"
	EventTypePhaseChanged   EventType = "PhaseChanged"
	EventTypeMinuteTick     EventType = "MinuteTick"
)

// MinuteTickPayload carries periodic clock updates to connected clients.
type MinuteTickPayload struct {
	Minute   int       `json:"minute"`
	Running  bool      `json:"running"`
	TickedAt time.Time `json:"ticked_at"`
}

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *MatchEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeEventCommitted:
		var payload events.EventCommittedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePhaseChanged:
		var payload events.PhaseChangedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeMinuteTick:
		var payload MinuteTickPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
