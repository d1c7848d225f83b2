package orchestrate

import (
	"errors"
	"fmt"
)

// ErrJoin is returned when a record cannot be matched to its counterpart by
// initiative id while assembling a later phase or the outcome reports.
var ErrJoin = errors.New("orchestrate: join by initiative id failed")

// StageError attributes a failure to the stage, phase and unit that raised
// it. Stage failures are never retried.
type StageError struct {
	Stage        string
	Phase        Phase
	InitiativeID string
	Err          error
}

func (e *StageError) Error() string {
	if e.InitiativeID == "" {
		return fmt.Sprintf("%s stage failed in %s phase: %v", e.Stage, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s stage failed in %s phase for %q: %v", e.Stage, e.Phase, e.InitiativeID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func joinError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrJoin, fmt.Sprintf(format, args...))
}
