package events

import (
	"time"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// Event payload types shared between the outbox relay, the remote feed,
// and the gateway.

// Domain event type names as they appear on the bus.
const (
	TypeEventCommitted = "EventCommitted"
	TypePhaseChanged   = "PhaseChanged"
)

// EventCommittedPayload carries a durably stored in-match event together
// with its storage sequence number.
type EventCommittedPayload struct {
	Event models.Event `json:"event"`
	Seq   int64        `json:"seq"`
}

// PhaseChangedPayload is emitted when a match moves to a new phase.
type PhaseChangedPayload struct {
	MatchID   string       `json:"match_id"`
	Phase     models.Phase `json:"phase"`
	ChangedAt time.Time    `json:"changed_at"`
}
