// Package notify carries user-visible notifications out of the engine.
// The engine converts classified errors into notifications; whatever UI
// sits above subscribes to a dispatcher and renders them as toasts.
package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
)

// Durations for the two toast classes. High and critical errors stay on
// screen; everything else is transient.
const (
	PersistentDuration = 8 * time.Second
	TransientDuration  = 4 * time.Second
)

// Notification is one user-visible message.
type Notification struct {
	ID        string              `json:"id"`
	Message   string              `json:"message"`
	Severity  apperrors.Severity  `json:"severity"`
	Duration  time.Duration       `json:"duration"`
	Operation string              `json:"operation,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Sink accepts notifications. Implementations must not block.
type Sink interface {
	Notify(n Notification)
}

// FromError builds the notification for a classified error. Severity
// drives the duration: high and critical errors get the persistent
// toast, validation and business errors the transient one.
func FromError(err error) Notification {
	severity := apperrors.SeverityOf(err)
	duration := TransientDuration
	if severity == apperrors.SeverityHigh || severity == apperrors.SeverityCritical {
		duration = PersistentDuration
	}

	message := "something went wrong, please try again"
	var operation string
	var app *apperrors.AppError
	if errors.As(err, &app) {
		message = app.Message
		operation = app.Operation
	}

	return Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Duration:  duration,
		Operation: operation,
		CreatedAt: time.Now(),
	}
}

// Dispatcher fans notifications out to one subscriber channel. When the
// subscriber falls behind, the oldest undelivered notification is
// dropped; a toast that never rendered is not worth blocking a mutation
// for.
type Dispatcher struct {
	ch     chan Notification
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher(buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		ch:     make(chan Notification, buffer),
		logger: logger.Named("notify"),
	}
}

// Notify implements Sink.
func (d *Dispatcher) Notify(n Notification) {
	for {
		select {
		case d.ch <- n:
			return
		default:
		}
		select {
		case dropped := <-d.ch:
			d.logger.Debug("notification dropped, subscriber behind",
				zap.String("id", dropped.ID))
		default:
		}
	}
}

// Subscribe returns the channel notifications arrive on.
func (d *Dispatcher) Subscribe() <-chan Notification {
	return d.ch
}

// LogSink writes notifications to the log, for the headless daemon.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs every notification.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notify")}
}

// Notify implements Sink.
func (s *LogSink) Notify(n Notification) {
	s.logger.Info("user notification",
		zap.String("message", n.Message),
		zap.String("severity", string(n.Severity)),
		zap.Duration("duration", n.Duration),
		zap.String("operation", n.Operation),
	)
}
