package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code string

const (
	CodeInvalidRequest  Code = "INVALID_REQUEST"
	CodeMalformed       Code = "MALFORMED"
	CodeLimitExceeded   Code = "LIMIT_EXCEEDED"
	CodeBudgetExhausted Code = "BUDGET_EXHAUSTED"
	CodeBudgetExceeded  Code = "BUDGET_EXCEEDED"
	CodeNotFound        Code = "NOT_FOUND"
)

// Error is a structured error with a code, message, and optional details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// InvalidRequest reports input rejected before it reaches storage.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// Malformed reports corrupt stored content or collaborator output. The
// subject is the offending hunk id or path.
func Malformed(subject, reason string, cause error) *Error {
	return &Error{
		Code:    CodeMalformed,
		Message: fmt.Sprintf("%s: %s", subject, reason),
		Details: map[string]any{"subject": subject},
		Err:     cause,
	}
}

// LimitExceeded reports that a hard limit was crossed.
func LimitExceeded(what string, limit, actual int) *Error {
	return &Error{
		Code:    CodeLimitExceeded,
		Message: fmt.Sprintf("%s exceeds limit: %d bytes (max %d)", what, actual, limit),
		Details: map[string]any{"limit": limit, "actual": actual},
	}
}

// BudgetExhausted reports a retrieval kind whose budget was already spent
// when the call started.
func BudgetExhausted(kind string) *Error {
	return &Error{
		Code:    CodeBudgetExhausted,
		Message: fmt.Sprintf("%s budget exhausted", kind),
		Details: map[string]any{"kind": kind},
	}
}

// BudgetExceeded reports a result that would not fit in the remaining
// budget. The caller should ask for less.
func BudgetExceeded(kind string, need, remaining int) *Error {
	return &Error{
		Code:    CodeBudgetExceeded,
		Message: fmt.Sprintf("%s result needs %d bytes, %d remaining", kind, need, remaining),
		Details: map[string]any{"kind": kind, "need": need, "remaining": remaining},
	}
}

// NotFound reports a missing addressable item.
func NotFound(what string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("not found: %s", what),
		Details: map[string]any{"identifier": what},
	}
}

// Is reports whether err (or anything it wraps) is an *Error with code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsSoft reports whether err is a per-kind budget condition that the
// orchestrator recovers from.
func IsSoft(err error) bool {
	return Is(err, CodeBudgetExhausted) || Is(err, CodeBudgetExceeded)
}
