package models

import (
	"time"

	"github.com/google/uuid"
)

// Observer defines the role of the person recording events for a session.
type Observer string

const (
	ObserverParent Observer = "PARENT"
	ObserverPlayer Observer = "PLAYER"
)

// Phase defines the lifecycle stage of a match.
type Phase string

const (
	PhasePreview           Phase = "PREVIEW"
	PhaseObserverSelection Phase = "OBSERVER_SELECTION"
	PhasePlaying           Phase = "PLAYING"
	PhaseHalftime          Phase = "HALFTIME"
	PhaseSecondHalf        Phase = "SECOND_HALF"
	PhaseEnded             Phase = "ENDED"
)

// TrackedAction is one entry of the match action catalog. Goal is the
// free-text target from the pre-match report; numeric goals feed progress
// calculations, anything else is kept for display only.
type TrackedAction struct {
	Ref  string `json:"ref"`
	Name string `json:"name,omitempty"`
	Goal string `json:"goal,omitempty"`
}

// MatchSettings holds JSONB configuration for matches.
type MatchSettings struct {
	HalfLengthMin int             `json:"half_length_min"`
	Actions       []TrackedAction `json:"actions,omitempty"`
}

// ClockState is the logical match clock as seen by callers.
type ClockState struct {
	Minute  int  `json:"minute"`
	Running bool `json:"running"`
}

// Match represents a single tracked match instance.
type Match struct {
	ID         uuid.UUID     `json:"id"`
	Date       time.Time     `json:"date"`
	Opponent   string        `json:"opponent"`
	Location   string        `json:"location,omitempty"`
	Observer   Observer      `json:"observer"`
	Phase      Phase         `json:"phase"`
	Settings   MatchSettings `json:"settings"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ArchivedAt *time.Time    `json:"archived_at,omitempty"`
}
