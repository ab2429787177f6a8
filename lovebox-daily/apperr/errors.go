// Package apperr defines the error kinds surfaced by the daily Lovebox run.
// Each error carries a machine-readable code so callers can branch with
// errors.Is without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	// CodeResourceUnavailable indicates a line source or photo directory could not be read.
	CodeResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"
	// CodeEmptyCandidateSet indicates the selector was given nothing to choose from.
	CodeEmptyCandidateSet ErrorCode = "EMPTY_CANDIDATE_SET"
	// CodeGenerationFailed indicates the image service errored or returned no image.
	CodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	// CodeDeliveryFailed indicates the Lovebox API did not accept the message.
	CodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"
	// CodeConfigurationMissing indicates a required recipient or credential is absent.
	CodeConfigurationMissing ErrorCode = "CONFIGURATION_MISSING"
)

var retryableCodes = map[ErrorCode]bool{
	CodeGenerationFailed: true,
	CodeDeliveryFailed:   true,
}

// Error is the unified error type for the run.
type Error struct {
	Code    ErrorCode
	Message string
	// Details holds extra context such as the raw response body of a failed call.
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code, so sentinel
// values like ErrEmptyCandidateSet match any error of that kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the pipeline should attempt the step again.
func (e *Error) Retryable() bool { return retryableCodes[e.Code] }

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrResourceUnavailable  = &Error{Code: CodeResourceUnavailable}
	ErrEmptyCandidateSet    = &Error{Code: CodeEmptyCandidateSet}
	ErrGenerationFailed     = &Error{Code: CodeGenerationFailed}
	ErrDeliveryFailed       = &Error{Code: CodeDeliveryFailed}
	ErrConfigurationMissing = &Error{Code: CodeConfigurationMissing}
)

// ResourceUnavailable creates an error for an unreadable resource.
func ResourceUnavailable(resource string, cause error) *Error {
	return &Error{
		Code:    CodeResourceUnavailable,
		Message: fmt.Sprintf("resource %s could not be read", resource),
		Details: map[string]any{"resource": resource},
		Cause:   cause,
	}
}

// EmptyCandidateSet creates an error for a selection with no candidates.
func EmptyCandidateSet(key string) *Error {
	return &Error{
		Code:    CodeEmptyCandidateSet,
		Message: fmt.Sprintf("no candidates to select from for key %q", key),
		Details: map[string]any{"key": key},
	}
}

// GenerationFailed creates an error for a failed image generation.
func GenerationFailed(message string, cause error) *Error {
	return &Error{Code: CodeGenerationFailed, Message: message, Cause: cause}
}

// DeliveryFailed creates an error for a rejected delivery. body is the raw
// response body, if one was received.
func DeliveryFailed(message string, body []byte, cause error) *Error {
	e := &Error{Code: CodeDeliveryFailed, Message: message, Cause: cause}
	if len(body) > 0 {
		e.WithDetail("body", string(body))
	}
	return e
}

// ConfigurationMissing creates an error for an absent required setting.
func ConfigurationMissing(field string) *Error {
	return &Error{
		Code:    CodeConfigurationMissing,
		Message: fmt.Sprintf("missing required configuration: %s", field),
		Details: map[string]any{"field": field},
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is an *Error whose code is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
