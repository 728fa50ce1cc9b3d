package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// Store is the durable append-only storage a coordinator reconciles with.
// UpsertEvent must be idempotent on the event id: a duplicate send returns
// the sequence number of the existing record and never creates a second
// one. ListSince pages committed entries by sequence cursor for catch-up
// after a reconnect.
type Store interface {
	UpsertEvent(ctx context.Context, event models.Event) (int64, error)
	UpsertPhase(ctx context.Context, matchID uuid.UUID, phase models.Phase) error
	ListSince(ctx context.Context, matchID uuid.UUID, cursor int64) ([]CommittedEvent, error)
}

// CommittedEvent is an event echoed back from storage with its assigned
// sequence number.
type CommittedEvent struct {
	Event models.Event
	Seq   int64
}

// PermanentRejection reports a write the store refused as structurally
// invalid. It is never retried; the entry is marked Rejected and the
// caller rolls back whatever depended on it.
type PermanentRejection struct {
	Reason string
	Err    error
}

func (e *PermanentRejection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rejected by store: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("rejected by store: %s", e.Reason)
}

func (e *PermanentRejection) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a PermanentRejection anywhere in its
// chain. Everything else is treated as transient and retried.
func IsPermanent(err error) bool {
	var pr *PermanentRejection
	return errors.As(err, &pr)
}

// RemoteUpdate is a committed change pushed by another session of the same
// match. Exactly one of Event or Phase is set.
type RemoteUpdate struct {
	Event *CommittedEvent
	Phase *models.Phase
}

// RemoteFeed delivers committed updates from other writers, at least once;
// duplicates are tolerated because merging is an id-keyed upsert.
type RemoteFeed interface {
	Updates() <-chan RemoteUpdate
	Close() error
}
