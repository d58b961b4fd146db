package models

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed or no-op proposal, or a command
// template parameter that fails whitelist validation. Raised at
// construction time, before anything is registered or executed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown change id or a missing remote file.
type NotFoundError struct {
	Kind string // "change" or "file"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// AlreadyFinalizedError reports an approve or reject attempt against a
// change that has already left PENDING.
type AlreadyFinalizedError struct {
	ID     string
	Status ChangeStatus
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("change %s already finalized (status %s)", e.ID, e.Status)
}

// ExpiredError reports an approval attempt past the expiry window. No
// remote commands run when this is returned.
type ExpiredError struct {
	ID        string
	CreatedAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("change %s expired (created %s)", e.ID, e.CreatedAt.UTC().Format(time.RFC3339))
}
