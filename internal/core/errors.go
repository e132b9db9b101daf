package core

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning means a mutual-exclusion claim was rejected because
// another execution occupies the slot. Not an error condition for the
// scheduler; the job simply stays due.
var ErrAlreadyRunning = errors.New("an execution is already queued or running")

// ErrNotFound is returned by lookups for missing rows.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition means a requested execution state change is not
// permitted by the ledger state machine.
var ErrInvalidTransition = errors.New("invalid execution state transition")

// ApprovalRequiredError is the distinct authorization signal for gated
// actions attempted without standing authority and without a usable
// approved request. It carries the pending request created for the
// caller, so the client can offer the approval paths.
type ApprovalRequiredError struct {
	RequestID string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval required (request %s)", e.RequestID)
}

// IsApprovalRequired reports whether err is the approval-required
// signal, returning the pending request id.
func IsApprovalRequired(err error) (string, bool) {
	var ar *ApprovalRequiredError
	if errors.As(err, &ar) {
		return ar.RequestID, true
	}
	return "", false
}
