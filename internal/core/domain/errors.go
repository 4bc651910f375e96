package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTemporary           = errors.New("temporary failure")
	ErrTransport           = errors.New("transport failure")
	ErrContractViolation   = errors.New("contract violation")
	ErrTransaction         = errors.New("transaction failure")
	ErrPartialStateWrite   = errors.New("partial state write failure")
	ErrRunInProgress       = errors.New("analysis run in progress")
	ErrCallBudgetExhausted = errors.New("external call budget exhausted")
)

// Machine-readable codes surfaced to callers of a pipeline run.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeTransportFailure  = "TRANSPORT_FAILURE"
	CodeContractViolation = "CONTRACT_VIOLATION"
	CodeTransaction       = "TRANSACTION_FAILURE"
	CodePartialStateWrite = "PARTIAL_STATE_WRITE_FAILURE"
	CodeRunInProgress     = "RUN_IN_PROGRESS"
	CodeInternal          = "INTERNAL"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RunError is the single structured error a failed run surfaces.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *RunError) Error() string {
	if e == nil {
		return "analysis run error"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewRunError converts any error into a RunError, keeping the cause for errors.Is.
func NewRunError(err error) *RunError {
	if err == nil {
		return nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr
	}
	return &RunError{
		Code:    ErrorCode(err),
		Message: err.Error(),
		Err:     err,
	}
}

func ErrorCode(err error) string {
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Code != "" {
		return runErr.Code
	}
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrNotFound):
		return CodeNotFound
	case IsKind(err, ErrInvalidInput):
		return CodeInvalidInput
	case IsKind(err, ErrRunInProgress):
		return CodeRunInProgress
	case IsKind(err, ErrTransaction):
		return CodeTransaction
	case IsKind(err, ErrPartialStateWrite):
		return CodePartialStateWrite
	case IsKind(err, ErrContractViolation):
		return CodeContractViolation
	case IsKind(err, ErrTransport), IsKind(err, ErrTemporary), IsKind(err, ErrCallBudgetExhausted):
		return CodeTransportFailure
	case IsKind(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}
