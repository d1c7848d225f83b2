package contract

import (
	"errors"
	"fmt"
)

// ErrContractViolation is the sentinel wrapped by every ViolationError.
var ErrContractViolation = errors.New("contract: violation")

// ViolationError reports a record that breaks one of its invariants.
type ViolationError struct {
	Record       string
	InitiativeID string
	Reason       string
}

func (e *ViolationError) Error() string {
	if e.InitiativeID == "" {
		return fmt.Sprintf("contract: %s: %s", e.Record, e.Reason)
	}
	return fmt.Sprintf("contract: %s %q: %s", e.Record, e.InitiativeID, e.Reason)
}

func (e *ViolationError) Unwrap() error { return ErrContractViolation }

func violation(record, id, format string, args ...any) error {
	return &ViolationError{Record: record, InitiativeID: id, Reason: fmt.Sprintf(format, args...)}
}
