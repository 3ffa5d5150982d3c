package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account id resolves to nothing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned for operations against a deactivated account.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrWorkflowNotFound is returned when a workflow id is unknown or the
	// workflow is no longer open. Callers must surface it, never swallow it:
	// ignoring it silently would let unpriced usage go unbilled.
	ErrWorkflowNotFound = errors.New("workflow not found or not open")

	// ErrInvalidKey is returned for unknown or revoked access keys.
	ErrInvalidKey = errors.New("invalid or revoked access key")

	// ErrStoreUnavailable wraps transient storage failures. Callers may
	// retry with backoff; a charge is never reported successful unless the
	// ledger write committed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InsufficientCreditsError is a definite decline: the debit would have
// driven the balance negative, so nothing was written. It is surfaced
// to the caller verbatim and never retried automatically.
type InsufficientCreditsError struct {
	Current  int64 `json:"current_credits"`
	Required int64 `json:"required_credits"`
	Deficit  int64 `json:"deficit"`
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d (deficit %d)", e.Current, e.Required, e.Deficit)
}
