// internal/apperrors/errors.go
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrSessionNotFound     = errors.New("session not found or expired")
	ErrSessionExpired      = errors.New("session expired or already consumed")
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrPropertyNotFound    = errors.New("property not found")
	ErrMaintenanceMode     = errors.New("service temporarily unavailable for maintenance")
)

// StorageError wraps a persistence failure. A job that hits one aborts
// without acking so the queue redelivers it later.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// TransientError marks a downstream failure worth retrying at the
// property level before the property is finalized as failed.
type TransientError struct {
	Stage string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Stage, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func NewTransient(stage string, err error) error {
	return &TransientError{Stage: stage, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
