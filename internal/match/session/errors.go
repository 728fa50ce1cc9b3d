package session

import (
	"errors"
	"fmt"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// ErrGuardViolation is the sentinel for operations requested from a phase
// that does not allow them. Check with errors.Is.
var ErrGuardViolation = errors.New("guard violation")

// GuardViolation reports an operation rejected by the phase state machine.
// It is raised locally and synchronously and never reaches storage.
type GuardViolation struct {
	Phase models.Phase
	Op    string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("operation %q not allowed in phase %s", e.Op, e.Phase)
}

func (e *GuardViolation) Is(target error) bool {
	return target == ErrGuardViolation
}

func guardErr(phase models.Phase, op string) error {
	return &GuardViolation{Phase: phase, Op: op}
}
