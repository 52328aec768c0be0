// Package retry wraps remote operations with per-attempt timeouts,
// error classification, and exponential backoff. It is a pure control-flow
// decorator: the only side effects are those of the wrapped operation.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
	"github.com/zapidan/newsletter-hub-sub004/pkg/observability"
)

// Config defines the retry schedule. The delay before attempt n+1 is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultConfig returns the schedule the web client shipped with:
// three retries at 1s, 2s, 4s under a 30s per-attempt timeout.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		AttemptTimeout: 30 * time.Second,
	}
}

// Operation is one remote call. It must honor ctx, which carries the
// per-attempt deadline.
type Operation func(ctx context.Context) error

// Executor runs operations under the retry policy. All failures leaving
// Do are classified; callers never see raw transport errors.
type Executor struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Collector
	logger  *zap.Logger

	// sleep is swapped out by tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. breaker and metrics may be nil.
func NewExecutor(cfg Config, breaker *gobreaker.CircuitBreaker, metrics *observability.Collector, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Executor{
		cfg:     cfg,
		breaker: breaker,
		metrics: metrics,
		logger:  logger.Named("retry"),
		sleep:   sleepCtx,
	}
}

// Do executes fn under the retry policy, classifying every failure and
// tagging it with op. When a circuit breaker is configured and open, Do
// fails fast with a service error before the first attempt.
func (e *Executor) Do(ctx context.Context, op string, fn Operation) error {
	if e.breaker == nil {
		return e.run(ctx, op, fn)
	}

	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.run(ctx, op, fn)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.NewService("remote surface unavailable", 503, err).WithOperation(op)
	}
	return err
}

func (e *Executor) run(ctx context.Context, op string, fn Operation) error {
	maxAttempts := e.cfg.MaxRetries + 1
	var classified *apperrors.AppError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.attempt(ctx, fn)
		if err == nil {
			e.countAttempt(op, "success")
			return nil
		}

		classified = apperrors.Classify(op, err)
		e.countAttempt(op, "failure")

		if !e.shouldRetry(classified, attempt, maxAttempts) {
			break
		}

		delay := e.backoff(attempt)
		e.logger.Warn("remote operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified),
		)
		if err := e.sleep(ctx, delay); err != nil {
			// The caller gave up mid-backoff.
			return apperrors.Classify(op, err)
		}
	}

	if e.metrics != nil {
		e.metrics.RetryExhausted.WithLabelValues(op).Inc()
	}
	e.logger.Error("remote operation failed permanently",
		zap.String("operation", op),
		zap.String("kind", string(classified.Kind)),
		zap.Error(classified),
	)
	return classified
}

// attempt runs fn once under the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, fn Operation) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// shouldRetry decides whether another attempt may run. Validation,
// not-found and auth errors are final. A service error without HTTP
// metadata gets exactly one retry; everything the taxonomy marks
// retryable follows the full schedule.
func (e *Executor) shouldRetry(err *apperrors.AppError, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if !apperrors.IsRetryable(err) {
		return false
	}
	if err.Kind == apperrors.KindService && err.Status == 0 && attempt >= 2 {
		return false
	}
	return true
}

// backoff returns the delay after the given attempt.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
	if capped := float64(e.cfg.MaxDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

func (e *Executor) countAttempt(op, outcome string) {
	if e.metrics != nil {
		e.metrics.RetryAttempts.WithLabelValues(op, outcome).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
