package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind defines the kind of an in-match event.
type EventKind string

const (
	EventKindAction       EventKind = "ACTION"
	EventKindNote         EventKind = "NOTE"
	EventKindSubstitution EventKind = "SUBSTITUTION"
	// EventKindTombstone marks a previously logged event as undone.
	// Tombstones are events themselves so the log stays append-only.
	EventKindTombstone EventKind = "TOMBSTONE"
)

// ActionResult is the outcome of a single action attempt.
type ActionResult string

const (
	ResultSuccess ActionResult = "SUCCESS"
	ResultFailure ActionResult = "FAILURE"
)

// Event is an immutable record of something that happened in-match.
// The ID is client-generated and is the sole de-duplication key across
// writers; a retry or an echo from another session never creates a second
// record. Kind-specific fields are left zero for other kinds.
type Event struct {
	ID      uuid.UUID `json:"id"`
	MatchID uuid.UUID `json:"match_id"`
	Kind    EventKind `json:"kind"`
	Minute  int       `json:"minute"`

	// ACTION
	ActionRef string       `json:"action_ref,omitempty"`
	Result    ActionResult `json:"result,omitempty"`

	// ACTION (optional) and NOTE
	Note string `json:"note,omitempty"`

	// SUBSTITUTION
	PlayerOut string `json:"player_out,omitempty"`
	PlayerIn  string `json:"player_in,omitempty"`

	// TOMBSTONE
	Undoes *uuid.UUID `json:"undoes,omitempty"`

	RecordedBy Observer  `json:"recorded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CommitStatus is the durable-storage lifecycle of a log entry.
type CommitStatus string

const (
	CommitStatusPending   CommitStatus = "PENDING"
	CommitStatusCommitted CommitStatus = "COMMITTED"
	CommitStatusRejected  CommitStatus = "REJECTED"
)

// LogEntry wraps an event with its local commit status. ServerSeq is the
// storage-assigned sequence number, present once committed; it is used only
// for total ordering during replay, never for identity.
type LogEntry struct {
	Event     Event        `json:"event"`
	Status    CommitStatus `json:"status"`
	ServerSeq *int64       `json:"server_seq,omitempty"`
}

// Before reports whether e sorts ahead of other in replay order:
// by minute, then server sequence (pending entries sort after committed
// ones at the same minute), then event id as the final tie break.
func (e LogEntry) Before(other LogEntry) bool {
	if e.Event.Minute != other.Event.Minute {
		return e.Event.Minute < other.Event.Minute
	}
	es, os := e.seqOrMax(), other.seqOrMax()
	if es != os {
		return es < os
	}
	return e.Event.ID.String() < other.Event.ID.String()
}

func (e LogEntry) seqOrMax() int64 {
	if e.ServerSeq == nil {
		return int64(^uint64(0) >> 1)
	}
	return *e.ServerSeq
}
