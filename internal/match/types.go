package match

import (
	"time"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// CreateMatchRequest carries the finalized pre-match report a new match
// is created from. The action catalog is snapshotted into the match
// settings; later catalog edits never touch an existing match.
type CreateMatchRequest struct {
	Date     time.Time            `json:"date"`
	Opponent string               `json:"opponent"`
	Location string               `json:"location,omitempty"`
	Observer models.Observer      `json:"observer"`
	Settings models.MatchSettings `json:"settings"`
}

// UpdateMatchRequest supports partial edits of scheduling details while
// the match is still in preview.
type UpdateMatchRequest struct {
	Date     *time.Time `json:"date,omitempty"`
	Opponent *string    `json:"opponent,omitempty"`
	Location *string    `json:"location,omitempty"`
}

// MatchFilter narrows list queries.
type MatchFilter struct {
	Phase           *models.Phase `json:"phase,omitempty"`
	IncludeArchived bool          `json:"include_archived,omitempty"`
}
