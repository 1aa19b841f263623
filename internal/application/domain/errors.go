package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("concurrent modification")
	ErrLedgerConflict          = errors.New("ledger conflict: retries exhausted")
	ErrSyncPartialFailure      = errors.New("sync partially failed")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrNoMailAccount           = errors.New("no mail account connected")
)

// CollaboratorError wraps a failure of an external dependency
// (mail provider, storage). It matches ErrCollaboratorUnavailable.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}

// Retryable is always true; callers pick the backoff.
func (e *CollaboratorError) Retryable() bool {
	return true
}

// Unavailable wraps err as a CollaboratorError unless it already is one.
func Unavailable(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Collaborator: collaborator, Err: err}
}

// ExtractionError reports an email whose shape could not be analyzed.
type ExtractionError struct {
	EmailID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract email %q: %v", e.EmailID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
