package errors

import (
	"context"
	"errors"
	"io"
	"net"
)

// Classify normalizes a raw failure into exactly one AppError, tagged with
// the operation that produced it. It is the single classification point of
// the engine: the retry executor calls it on every failed attempt, and all
// layers above see only its output. Already-classified errors pass through
// untouched apart from operation tagging.
func Classify(operation string, err error) *AppError {
	if err == nil {
		return nil
	}

	var app *AppError
	if errors.As(err, &app) {
		return app.WithOperation(operation)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeout("operation deadline exceeded", err).WithOperation(operation)
	case errors.Is(err, context.Canceled):
		// 499: client closed request. Carries a 4xx so the retry
		// policy treats cancellation as final.
		e := NewService("operation canceled", 499, err)
		e.Severity = SeverityLow
		return e.WithOperation(operation)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeout("network timeout", err).WithOperation(operation)
		}
		return NewNetwork("network failure", err).WithOperation(operation)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return NewNetwork("connection interrupted", err).WithOperation(operation)
	}

	return NewService("remote operation failed", 0, err).WithOperation(operation)
}

// FromStatus builds the classified error for an HTTP response status. The
// remote adapter calls it when the backend answered but the answer was a
// failure; transport-level failures never reach here.
func FromStatus(status int, message string) *AppError {
	var e *AppError
	switch {
	case status == 400 || status == 422:
		e = NewValidation(message)
	case status == 401 || status == 403:
		e = NewUnauthorized(message)
	case status == 404 || status == 410:
		e = &AppError{Kind: KindNotFound, Message: message, Severity: SeverityLow}
	case status == 408 || status == 504:
		e = NewTimeout(message, nil)
	default:
		e = NewService(message, status, nil)
	}
	e.Status = status
	return e
}
