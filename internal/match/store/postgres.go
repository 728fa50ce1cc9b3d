// Package store implements the durable match event store on Postgres.
// It is the single source of truth for commit status: the id-based upsert
// makes retries and concurrent writers idempotent, and every committed
// write leaves an outbox row behind for the relay to publish.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"

	"github.com/assafshtengel/matchtrack/internal/match/events"
	matchsync "github.com/assafshtengel/matchtrack/internal/match/sync"
	"github.com/assafshtengel/matchtrack/internal/models"
	"github.com/assafshtengel/matchtrack/internal/sqlutil"
)

// DefaultNotifyChannel is the pg_notify channel the outbox listener
// subscribes to.
const DefaultNotifyChannel = "match_outbox_events"

// maxMinute bounds the logical minute a stored event may carry. Anything
// outside [0, maxMinute] is structurally invalid and rejected permanently.
const maxMinute = 200

// Postgres implements sync.Store and the outbox queue on one database.
type Postgres struct {
	db            *sql.DB
	notifyChannel string
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, notifyChannel: DefaultNotifyChannel}
}

var _ matchsync.Store = (*Postgres)(nil)

// EnsureSchema creates the tables the store needs if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id          UUID PRIMARY KEY,
	match_date  TIMESTAMPTZ NOT NULL,
	opponent    TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	observer    TEXT NOT NULL,
	phase       TEXT NOT NULL,
	settings    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	archived_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS match_events (
	id         UUID PRIMARY KEY,
	match_id   UUID NOT NULL REFERENCES matches(id),
	kind       TEXT NOT NULL,
	minute     INT NOT NULL,
	payload    JSONB NOT NULL,
	seq        BIGSERIAL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS match_events_match_seq ON match_events (match_id, seq);

CREATE TABLE IF NOT EXISTS match_outbox (
	id         UUID PRIMARY KEY,
	match_id   UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS match_outbox_unsent ON match_outbox (created_at) WHERE sent_at IS NULL;
`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertEvent stores an event keyed by its client id and returns the
// storage sequence number. A duplicate send returns the sequence of the
// existing record and writes nothing. Structurally invalid events come
// back as PermanentRejection and are never retried by callers.
func (p *Postgres) UpsertEvent(ctx context.Context, event models.Event) (int64, error) {
	if err := validateEvent(event); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, &matchsync.PermanentRejection{Reason: "unencodable event", Err: err}
	}

	var seq int64
	err = sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO match_events (id, match_id, kind, minute, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			event.ID, event.MatchID, string(event.Kind), event.Minute, payload, event.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return &matchsync.PermanentRejection{Reason: fmt.Sprintf("match %s not found", event.MatchID), Err: err}
			}
			return fmt.Errorf("insert event: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT seq FROM match_events WHERE id = $1`, event.ID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("read event seq: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if inserted == 0 {
			// Retry of an already-committed event: no new outbox row.
			return nil
		}

		return p.insertOutbox(ctx, tx, event.MatchID, events.TypeEventCommitted,
			events.EventCommittedPayload{Event: event, Seq: seq})
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// UpsertPhase durably records a phase change and queues it for push.
func (p *Postgres) UpsertPhase(ctx context.Context, matchID uuid.UUID, phase models.Phase) error {
	if !validPhase(phase) {
		return &matchsync.PermanentRejection{Reason: fmt.Sprintf("unknown phase %q", phase)}
	}

	return sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE matches SET phase = $2, updated_at = now()
			WHERE id = $1 AND archived_at IS NULL`,
			matchID, string(phase),
		)
		if err != nil {
			return fmt.Errorf("update phase: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return &matchsync.PermanentRejection{Reason: fmt.Sprintf("match %s not found or archived", matchID)}
		}

		return p.insertOutbox(ctx, tx, matchID, events.TypePhaseChanged,
			events.PhaseChangedPayload{
				MatchID:   matchID.String(),
				Phase:     phase,
				ChangedAt: time.Now().UTC(),
			})
	})
}

// ListSince pages committed events for a match, ordered by sequence.
func (p *Postgres) ListSince(ctx context.Context, matchID uuid.UUID, cursor int64) ([]matchsync.CommittedEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload, seq FROM match_events
		WHERE match_id = $1 AND seq > $2
		ORDER BY seq ASC`,
		matchID, cursor,
	)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", cursor, err)
	}
	defer rows.Close()

	var out []matchsync.CommittedEvent
	for rows.Next() {
		var payload pqtype.NullRawMessage
		var seq int64
		if err := rows.Scan(&payload, &seq); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if !payload.Valid {
			continue
		}
		var event models.Event
		if err := json.Unmarshal(payload.RawMessage, &event); err != nil {
			return nil, fmt.Errorf("decode event payload at seq %d: %w", seq, err)
		}
		out = append(out, matchsync.CommittedEvent{Event: event, Seq: seq})
	}
	return out, rows.Err()
}

// insertOutbox queues a domain event inside the caller's transaction and
// notifies the listener, so the relay wakes without polling.
func (p *Postgres) insertOutbox(ctx context.Context, tx *sql.Tx, matchID uuid.UUID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	outboxID := uuid.New()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_outbox (id, match_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		outboxID, matchID, eventType, data,
	); err != nil {
		return fmt.Errorf("insert %s outbox event: %w", eventType, err)
	}

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_notify($1, $2)`, p.notifyChannel, outboxID.String(),
	); err != nil {
		return fmt.Errorf("notify outbox listener: %w", err)
	}
	return nil
}

func validateEvent(event models.Event) error {
	if event.ID == uuid.Nil {
		return &matchsync.PermanentRejection{Reason: "event id is required"}
	}
	if event.MatchID == uuid.Nil {
		return &matchsync.PermanentRejection{Reason: "match id is required"}
	}
	if event.Minute < 0 || event.Minute > maxMinute {
		return &matchsync.PermanentRejection{Reason: fmt.Sprintf("minute %d out of range", event.Minute)}
	}
	switch event.Kind {
	case models.EventKindAction, models.EventKindNote, models.EventKindSubstitution:
	case models.EventKindTombstone:
		if event.Undoes == nil {
			return &matchsync.PermanentRejection{Reason: "tombstone without target"}
		}
	default:
		return &matchsync.PermanentRejection{Reason: fmt.Sprintf("unknown event kind %q", event.Kind)}
	}
	return nil
}

func validPhase(phase models.Phase) bool {
	switch phase {
	case models.PhasePreview, models.PhaseObserverSelection, models.PhasePlaying,
		models.PhaseHalftime, models.PhaseSecondHalf, models.PhaseEnded:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned by match lookups for unknown ids.
var ErrNotFound = errors.New("not found")
