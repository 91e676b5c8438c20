package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError rejects input before any state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a store failure for a single record.
type PersistenceError struct {
	Op  string
	ID  uuid.UUID
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InconsistentStateError reports an investment that violates its invariants.
// It is never repaired automatically.
type InconsistentStateError struct {
	InvestmentID uuid.UUID
	Reason       string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("investment %s in inconsistent state: %s", e.InvestmentID, e.Reason)
}

// CheckPayout returns an InconsistentStateError if the payout has fallen below
// the principal, whatever the investment's status.
func (i *Investment) CheckPayout() error {
	if i.PayoutAmount.LessThan(i.Principal) {
		return &InconsistentStateError{
			InvestmentID: i.ID,
			Reason:       fmt.Sprintf("%s payout %s below principal %s", i.Status, i.PayoutAmount, i.Principal),
		}
	}
	return nil
}
