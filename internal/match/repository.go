package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/assafshtengel/matchtrack/internal/match/store"
	"github.com/assafshtengel/matchtrack/internal/models"
)

// Repository implements match data access on Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new match repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const matchColumns = `id, match_date, opponent, location, observer, phase, settings, created_at, updated_at, archived_at`

// CreateMatch inserts a new match in the Preview phase.
func (r *Repository) CreateMatch(ctx context.Context, req CreateMatchRequest) (*models.Match, error) {
	settings, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode match settings: %w", err)
	}

	now := time.Now().UTC()
	m := &models.Match{
		ID:        uuid.New(),
		Date:      req.Date,
		Opponent:  req.Opponent,
		Location:  req.Location,
		Observer:  req.Observer,
		Phase:     models.PhasePreview,
		Settings:  req.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO matches (id, match_date, opponent, location, observer, phase, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Date, m.Opponent, m.Location, string(m.Observer), string(m.Phase), settings, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	return m, nil
}

// GetMatch retrieves a match by ID.
func (r *Repository) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)

	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// ListMatches retrieves matches, newest first, honoring the filter.
func (r *Repository) ListMatches(ctx context.Context, filter MatchFilter) ([]models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE 1=1`
	var args []any
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	if filter.Phase != nil {
		args = append(args, string(*filter.Phase))
		query += fmt.Sprintf(` AND phase = $%d`, len(args))
	}
	query += ` ORDER BY match_date DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// UpdateMatch applies partial scheduling edits.
func (r *Repository) UpdateMatch(ctx context.Context, id uuid.UUID, req UpdateMatchRequest) (*models.Match, error) {
	m, err := r.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Date != nil {
		m.Date = *req.Date
	}
	if req.Opponent != nil {
		m.Opponent = *req.Opponent
	}
	if req.Location != nil {
		m.Location = *req.Location
	}
	m.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		UPDATE matches SET match_date = $2, opponent = $3, location = $4, updated_at = $5
		WHERE id = $1`,
		m.ID, m.Date, m.Opponent, m.Location, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}
	return m, nil
}

// ArchiveMatch soft-deletes a match. History stays queryable.
func (r *Repository) ArchiveMatch(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches SET archived_at = now(), updated_at = now()
		WHERE id = $1 AND archived_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to archive match: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("match %s: %w", id, store.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	var observer, phase string
	var settings pqtype.NullRawMessage
	var archivedAt sql.NullTime

	if err := row.Scan(&m.ID, &m.Date, &m.Opponent, &m.Location, &observer, &phase,
		&settings, &m.CreatedAt, &m.UpdatedAt, &archivedAt); err != nil {
		return nil, err
	}

	m.Observer = models.Observer(observer)
	m.Phase = models.Phase(phase)
	if settings.Valid {
		if err := json.Unmarshal(settings.RawMessage, &m.Settings); err != nil {
			return nil, fmt.Errorf("decode match settings: %w", err)
		}
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		m.ArchivedAt = &t
	}
	return &m, nil
}
