// Package errors defines the classified error taxonomy shared by every
// layer of the sync engine. Errors are constructed once at the remote
// boundary and carried upward as tagged values; downstream code switches
// on Kind instead of re-deriving meaning from message text.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the engine distinguishes.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindNetwork      Kind = "NETWORK"
	KindTimeout      Kind = "TIMEOUT"
	KindService      Kind = "SERVICE"
)

// Severity drives how prominently an error is surfaced to the user.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AppError is the single error type produced by classification.
type AppError struct {
	Kind      Kind
	Message   string
	Operation string // remote operation that produced the error
	Status    int    // HTTP status when known, 0 otherwise
	Severity  Severity
	Cause     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	switch {
	case e.Operation != "" && e.Cause != nil:
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Operation, e.Message, e.Cause)
	case e.Operation != "":
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Operation, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithOperation tags the error with the remote operation name. The first
// tag wins; classification never overwrites an existing one.
func (e *AppError) WithOperation(op string) *AppError {
	if e.Operation == "" {
		e.Operation = op
	}
	return e
}

// Constructor functions for the taxonomy.

// NewValidation creates a validation error: a client-side precondition
// was violated before anything was sent to the backend.
func NewValidation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Severity: SeverityLow}
}

// NewNotFound creates a not-found error for the named resource.
func NewNotFound(resource string) *AppError {
	return &AppError{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Severity: SeverityLow,
	}
}

// NewUnauthorized creates an auth error. The session layer watches for
// these to trigger a refresh.
func NewUnauthorized(message string) *AppError {
	if message == "" {
		message = "session is not valid"
	}
	return &AppError{Kind: KindUnauthorized, Message: message, Severity: SeverityHigh}
}

// NewNetwork creates a transport-level error.
func NewNetwork(message string, cause error) *AppError {
	return &AppError{Kind: KindNetwork, Message: message, Severity: SeverityMedium, Cause: cause}
}

// NewTimeout creates a deadline-exceeded error.
func NewTimeout(message string, cause error) *AppError {
	return &AppError{Kind: KindTimeout, Message: message, Severity: SeverityMedium, Cause: cause}
}

// NewService creates a generic remote-service error. Status may be 0 when
// the failure carried no HTTP metadata.
func NewService(message string, status int, cause error) *AppError {
	return &AppError{
		Kind:     KindService,
		Message:  message,
		Status:   status,
		Severity: SeverityHigh,
		Cause:    cause,
	}
}

// Type checking functions.

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return kindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsUnauthorized reports whether err is an auth error.
func IsUnauthorized(err error) bool { return kindOf(err) == KindUnauthorized }

// IsNetwork reports whether err is a transport error.
func IsNetwork(err error) bool { return kindOf(err) == KindNetwork }

// IsTimeout reports whether err is a deadline error.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsService reports whether err is a generic service error.
func IsService(err error) bool { return kindOf(err) == KindService }

func kindOf(err error) Kind {
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	return ""
}

// KindOf returns the classified kind, or KindService for errors that never
// passed through classification.
func KindOf(err error) Kind {
	if k := kindOf(err); k != "" {
		return k
	}
	return KindService
}

// SeverityOf returns the severity of a classified error. Unclassified
// errors default to medium.
func SeverityOf(err error) Severity {
	var app *AppError
	if errors.As(err, &app) && app.Severity != "" {
		return app.Severity
	}
	return SeverityMedium
}

// StatusOf returns the HTTP status carried by the error, 0 when unknown.
func StatusOf(err error) int {
	var app *AppError
	if errors.As(err, &app) {
		return app.Status
	}
	return 0
}

// IsRetryable reports whether the retry engine may re-execute the failed
// operation at all. Validation, not-found and auth failures are final.
// Network and timeout failures are transient. Service errors are retryable
// when the backend reported a 5xx or nothing at all; a recorded 4xx means
// the request itself is bad and retrying cannot help.
func IsRetryable(err error) bool {
	var app *AppError
	if !errors.As(err, &app) {
		return false
	}
	switch app.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindService:
		return app.Status == 0 || app.Status >= 500 || app.Status == 429
	}
	return false
}
