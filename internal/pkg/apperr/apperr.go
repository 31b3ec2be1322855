package apperr

import (
	"errors"
	"fmt"
)

// The error taxonomy shared by services and the job engine.
//
// Synchronous caller mistakes surface as ValidationError/ConflictError/
// NotFoundError. Step execution failures are split into retryable and fatal;
// the engine never promotes one into the other except by attempt exhaustion.

type ValidationError struct {
	Msg        string
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("%s: %d violation(s)", e.Msg, len(e.Violations))
	}
	return e.Msg
}

func Validation(msg string, violations ...string) *ValidationError {
	return &ValidationError{Msg: msg, Violations: violations}
}

type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func NotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// RetryableExecutionError marks a transient step failure (rate limit,
// network, timeout). The orchestrator schedules a backoff retry for it.
type RetryableExecutionError struct {
	Err error
}

func (e *RetryableExecutionError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableExecutionError) Unwrap() error { return e.Err }

func Retryable(err error) *RetryableExecutionError {
	return &RetryableExecutionError{Err: err}
}

func Retryablef(format string, args ...any) *RetryableExecutionError {
	return &RetryableExecutionError{Err: fmt.Errorf(format, args...)}
}

// FatalExecutionError marks a permanent step failure. The job fails
// immediately, regardless of remaining attempts.
type FatalExecutionError struct {
	Err error
}

func (e *FatalExecutionError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalExecutionError) Unwrap() error { return e.Err }

func Fatal(err error) *FatalExecutionError {
	return &FatalExecutionError{Err: err}
}

func Fatalf(format string, args ...any) *FatalExecutionError {
	return &FatalExecutionError{Err: fmt.Errorf(format, args...)}
}

// MigrationDivergenceError refuses a schema migration commit whose dry-run
// plan no longer matches the live graph.
type MigrationDivergenceError struct {
	Msg string
}

func (e *MigrationDivergenceError) Error() string { return e.Msg }

func MigrationDivergence(format string, args ...any) *MigrationDivergenceError {
	return &MigrationDivergenceError{Msg: fmt.Sprintf(format, args...)}
}

func IsRetryable(err error) bool {
	var re *RetryableExecutionError
	return errors.As(err, &re)
}

func IsFatal(err error) bool {
	var fe *FatalExecutionError
	return errors.As(err, &fe)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsMigrationDivergence(err error) bool {
	var me *MigrationDivergenceError
	return errors.As(err, &me)
}
