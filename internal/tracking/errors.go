package tracking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/types"
)

// ErrInvalidArgument indicates a missing or malformed required field
type ErrInvalidArgument struct {
	Field   string
	Message string
}

func (e *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument: %s - %s", e.Field, e.Message)
}

// ErrUnauthorized indicates the call carries no caller identity
type ErrUnauthorized struct{}

func (e *ErrUnauthorized) Error() string {
	return "unauthorized"
}

// ErrForbidden indicates the caller is neither the owner nor an administrator
type ErrForbidden struct {
	UserID uuid.UUID
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: user %s may not access this run", e.UserID)
}

// ErrNotFound indicates a referenced run or content request does not exist
type ErrNotFound struct {
	Kind string
	ID   uuid.UUID
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ErrInvalidState indicates a control action on a run that has already terminated
type ErrInvalidState struct {
	RunID  uuid.UUID
	Status types.RunStatus
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("run %s is %s and accepts no further control actions", e.RunID, e.Status)
}

// ErrStorage wraps a persistence layer failure
type ErrStorage struct {
	Op    string
	Cause error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause)
}

func (e *ErrStorage) Unwrap() error {
	return e.Cause
}

// ErrUpstream indicates the external engine was unreachable or returned non-success
type ErrUpstream struct {
	StatusCode int
	Cause      error
}

func (e *ErrUpstream) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream error: %v", e.Cause)
}

func (e *ErrUpstream) Unwrap() error {
	return e.Cause
}

// ErrTimeout indicates a bounded wait on the external engine was exceeded
type ErrTimeout struct {
	Op    string
	Cause error
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("timeout during %s", e.Op)
}

func (e *ErrTimeout) Unwrap() error {
	return e.Cause
}

func storageErr(op string, err error) error {
	return &ErrStorage{Op: op, Cause: err}
}

// IsRetryable reports whether a caller should retry the operation with backoff.
func IsRetryable(err error) bool {
	var storage *ErrStorage
	var upstream *ErrUpstream
	var timeout *ErrTimeout
	return errors.As(err, &storage) || errors.As(err, &upstream) || errors.As(err, &timeout)
}
