package session

import (
	"fmt"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// Transition names the phase transitions a caller may request.
type Transition string

const (
	// TransitionSelect moves Preview to ObserverSelection.
	TransitionSelect Transition = "select"
	// TransitionConfirm moves ObserverSelection to Playing.
	TransitionConfirm Transition = "confirm"
	// TransitionStart moves Preview directly to Playing, skipping
	// observer selection. Both entry paths are valid.
	TransitionStart Transition = "start"
	// TransitionEndHalf moves Playing to Halftime and pauses the clock.
	TransitionEndHalf Transition = "endHalf"
	// TransitionStartSecondHalf moves Halftime to SecondHalf, resetting
	// and restarting the clock.
	TransitionStartSecondHalf Transition = "startSecondHalf"
	// TransitionEndMatch moves SecondHalf to Ended and pauses the clock.
	TransitionEndMatch Transition = "endMatch"
)

// ParseTransition maps a transition name to its Transition value.
func ParseTransition(name string) (Transition, error) {
	switch Transition(name) {
	case TransitionSelect, TransitionConfirm, TransitionStart,
		TransitionEndHalf, TransitionStartSecondHalf, TransitionEndMatch:
		return Transition(name), nil
	default:
		return "", fmt.Errorf("unknown transition: %s", name)
	}
}

// transitionTable is the single source of truth for the phase lifecycle.
// Everything not listed here is a guard violation.
var transitionTable = map[models.Phase]map[Transition]models.Phase{
	models.PhasePreview: {
		TransitionSelect: models.PhaseObserverSelection,
		TransitionStart:  models.PhasePlaying,
	},
	models.PhaseObserverSelection: {
		TransitionConfirm: models.PhasePlaying,
	},
	models.PhasePlaying: {
		TransitionEndHalf: models.PhaseHalftime,
	},
	models.PhaseHalftime: {
		TransitionStartSecondHalf: models.PhaseSecondHalf,
	},
	models.PhaseSecondHalf: {
		TransitionEndMatch: models.PhaseEnded,
	},
	models.PhaseEnded: {},
}

// NextPhase is the pure transition function: it returns the phase that
// applying t to current yields, or a GuardViolation.
func NextPhase(current models.Phase, t Transition) (models.Phase, error) {
	next, ok := transitionTable[current][t]
	if !ok {
		return current, guardErr(current, string(t))
	}
	return next, nil
}

// AllowsAppend reports whether events may be appended in the given phase.
// Halftime is append-allowed with a frozen clock, so coaches can annotate
// during the break.
func AllowsAppend(phase models.Phase) bool {
	switch phase {
	case models.PhasePlaying, models.PhaseSecondHalf, models.PhaseHalftime:
		return true
	default:
		return false
	}
}

// applyClockEffects runs the clock side effects tied to a transition.
// Called after the transition has been validated.
func applyClockEffects(t Transition, clock *Clock) error {
	switch t {
	case TransitionConfirm, TransitionStart:
		clock.Start()
	case TransitionEndHalf, TransitionEndMatch:
		clock.Pause()
	case TransitionStartSecondHalf:
		if err := clock.ResetForSecondHalf(); err != nil {
			return err
		}
		clock.Start()
	}
	return nil
}
