package resilience

import (
	"fmt"

	"github.com/hyperengineering/lattice/internal/types"
)

// TransactionStateError indicates a commit or rollback against a
// transaction that is unknown or already terminal. It is a
// programming-contract violation, never retried.
type TransactionStateError struct {
	ID     string
	Status types.TransactionStatus
	Op     string
}

func (e *TransactionStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s: transaction %q not found", e.Op, e.ID)
	}
	return fmt.Sprintf("%s: transaction %q is %s, not pending", e.Op, e.ID, e.Status)
}

// DegradedError signals that an operation exhausted its retries and
// the operation class's safe fallback was substituted. Callers serve
// Fallback to their clients but must not cache it: the failure may be
// transient and a cached fallback would outlive the outage.
type DegradedError struct {
	Op       types.Operation
	Fallback any
	Cause    error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("operation %s degraded to fallback: %v", e.Op, e.Cause)
}

func (e *DegradedError) Unwrap() error {
	return e.Cause
}

// IntegrityError indicates a checksum mismatch. It triggers automatic
// rollback before being surfaced with the mismatch details.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: checksum %s does not match expected %s", e.Actual, e.Expected)
}
