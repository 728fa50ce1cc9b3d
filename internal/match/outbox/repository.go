package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Repository reads and settles outbox rows. Writes happen inside the
// store's transactions; the relay only fetches and marks sent.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const outboxColumns = `id, match_id, event_type, payload, created_at, sent_at`

// FetchByID retrieves one outbox event.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM match_outbox WHERE id = $1`, id)
	event, err := scanOutbox(row)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return event, nil
}

// FetchUnsent retrieves up to limit unsent events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM match_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		event, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// MarkSent stamps an outbox event as published.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE match_outbox SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`, id,
	); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

// UnsentCount reports the relay backlog, for the lag gauge.
func (r *Repository) UnsentCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM match_outbox WHERE sent_at IS NULL`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsent outbox events: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(row rowScanner) (*OutboxEvent, error) {
	var event OutboxEvent
	var sentAt sql.NullTime
	if err := row.Scan(&event.ID, &event.MatchID, &event.EventType,
		&event.Payload, &event.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		event.SentAt = &t
	}
	return &event, nil
}
