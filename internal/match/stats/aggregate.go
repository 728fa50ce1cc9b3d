// Package stats derives live match statistics by replaying the event log.
// Every view is rebuilt from scratch on each call: a pure left-fold over a
// log snapshot, never an incremental patch, so the result always matches
// the log it was built from.
package stats

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// ActionTally counts attempts of one tracked action.
type ActionTally struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

// NoteLine is a general note surfaced in summaries.
type NoteLine struct {
	Minute     int             `json:"minute"`
	Text       string          `json:"text"`
	RecordedBy models.Observer `json:"recorded_by,omitempty"`
}

// SubstitutionLine is a substitution surfaced in summaries.
type SubstitutionLine struct {
	Minute    int    `json:"minute"`
	PlayerOut string `json:"player_out,omitempty"`
	PlayerIn  string `json:"player_in,omitempty"`
}

// Anomaly flags same-minute action attempts for the same action logged by
// different observers. These are kept as independent data points, never
// merged or dropped; the flag exists so a human can review them.
type Anomaly struct {
	ActionRef string      `json:"action_ref"`
	Minute    int         `json:"minute"`
	EventIDs  []uuid.UUID `json:"event_ids"`
}

// AggregateView is the derived statistics for one match. It has no
// independent lifecycle: throw it away and replay again whenever the log
// changes.
type AggregateView struct {
	PerAction     map[string]ActionTally `json:"per_action"`
	Notes         []NoteLine             `json:"notes,omitempty"`
	Substitutions []SubstitutionLine     `json:"substitutions,omitempty"`
	Anomalies     []Anomaly              `json:"anomalies,omitempty"`
}

// Insight is the rule-based classification of an overall success rate.
type Insight string

const (
	InsightExcellent  Insight = "excellent"
	InsightGood       Insight = "good"
	InsightNeedsFocus Insight = "needs focus"
)

// Replay folds an ordered log snapshot into an AggregateView. Rejected
// entries are skipped; a committed tombstone removes its target from the
// fold entirely, success counts and progress denominators included.
// The caller supplies the snapshot already in (minute, serverSeq, id)
// order, so two sessions with the same committed set agree on the result.
func Replay(entries []models.LogEntry) AggregateView {
	undone := make(map[uuid.UUID]bool)
	for _, entry := range entries {
		if entry.Status == models.CommitStatusRejected {
			continue
		}
		if entry.Event.Kind == models.EventKindTombstone && entry.Event.Undoes != nil {
			undone[*entry.Event.Undoes] = true
		}
	}

	view := AggregateView{PerAction: make(map[string]ActionTally)}
	type actionSeen struct {
		observers map[models.Observer]bool
		ids       []uuid.UUID
		anomaly   int // index into view.Anomalies, -1 until flagged
	}
	seen := make(map[string]*actionSeen)

	for _, entry := range entries {
		if entry.Status == models.CommitStatusRejected {
			continue
		}
		ev := entry.Event
		if undone[ev.ID] || ev.Kind == models.EventKindTombstone {
			continue
		}

		switch ev.Kind {
		case models.EventKindAction:
			tally := view.PerAction[ev.ActionRef]
			tally.Total++
			if ev.Result == models.ResultSuccess {
				tally.Success++
			}
			view.PerAction[ev.ActionRef] = tally

			key := ev.ActionRef + "@" + strconv.Itoa(ev.Minute)
			s, ok := seen[key]
			if !ok {
				s = &actionSeen{observers: make(map[models.Observer]bool), anomaly: -1}
				seen[key] = s
			}
			s.observers[ev.RecordedBy] = true
			s.ids = append(s.ids, ev.ID)
			if len(s.observers) > 1 {
				if s.anomaly < 0 {
					view.Anomalies = append(view.Anomalies, Anomaly{
						ActionRef: ev.ActionRef,
						Minute:    ev.Minute,
						EventIDs:  append([]uuid.UUID(nil), s.ids...),
					})
					s.anomaly = len(view.Anomalies) - 1
				} else {
					a := &view.Anomalies[s.anomaly]
					a.EventIDs = append(a.EventIDs, ev.ID)
				}
			}

		case models.EventKindNote:
			view.Notes = append(view.Notes, NoteLine{
				Minute:     ev.Minute,
				Text:       ev.Note,
				RecordedBy: ev.RecordedBy,
			})

		case models.EventKindSubstitution:
			view.Substitutions = append(view.Substitutions, SubstitutionLine{
				Minute:    ev.Minute,
				PlayerOut: ev.PlayerOut,
				PlayerIn:  ev.PlayerIn,
			})
		}
	}

	return view
}

// SuccessRate returns success/total for one action, and 0 when the action
// has no logged attempts.
func SuccessRate(view AggregateView, actionRef string) float64 {
	tally := view.PerAction[actionRef]
	if tally.Total == 0 {
		return 0
	}
	return float64(tally.Success) / float64(tally.Total)
}

// GoalProgress returns min(total/goal, 1) for a numeric goal target.
// The second return is false when the goal is absent or not parseable as
// a positive number, in which case progress is undefined.
func GoalProgress(view AggregateView, actionRef, goal string) (float64, bool) {
	target, err := strconv.ParseFloat(strings.TrimSpace(goal), 64)
	if err != nil || target <= 0 {
		return 0, false
	}
	progress := float64(view.PerAction[actionRef].Total) / target
	if progress > 1 {
		progress = 1
	}
	return progress, true
}

// OverallSuccessRate pools every action attempt in the view.
func OverallSuccessRate(view AggregateView) float64 {
	var success, total int
	for _, tally := range view.PerAction {
		success += tally.Success
		total += tally.Total
	}
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}

// InsightBucket classifies the overall success rate into three bands.
func InsightBucket(view AggregateView) Insight {
	rate := OverallSuccessRate(view)
	switch {
	case rate >= 0.75:
		return InsightExcellent
	case rate >= 0.50:
		return InsightGood
	default:
		return InsightNeedsFocus
	}
}

// Summary labels an aggregate view by the phase it was computed at.
type Summary struct {
	Label   string        `json:"label"`
	View    AggregateView `json:"view"`
	Insight Insight       `json:"insight"`
}

// HalftimeSummary replays first-half entries only. halfLength is the
// match-type half duration in minutes, supplied by the caller; entries up
// to and including that minute count as first half. Substitutions and
// general notes are reserved for the final summary.
func HalftimeSummary(entries []models.LogEntry, halfLength int) Summary {
	var firstHalf []models.LogEntry
	for _, entry := range entries {
		if entry.Event.Minute <= halfLength {
			firstHalf = append(firstHalf, entry)
		}
	}
	view := Replay(firstHalf)
	view.Notes = nil
	view.Substitutions = nil
	return Summary{Label: "halftime", View: view, Insight: InsightBucket(view)}
}

// FinalSummary replays the whole log, substitutions and notes included.
func FinalSummary(entries []models.LogEntry) Summary {
	view := Replay(entries)
	return Summary{Label: "final", View: view, Insight: InsightBucket(view)}
}
