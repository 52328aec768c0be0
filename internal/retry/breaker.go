package retry

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
)

// BreakerConfig holds the circuit breaker thresholds for one named remote
// surface.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRate float64
}

// NewBreaker builds a circuit breaker around the retry loop. Only
// transport-level failures count toward tripping it: a validation or
// not-found answer means the backend is healthy and answering.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("breaker")

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRate
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch apperrors.KindOf(err) {
			case apperrors.KindNetwork, apperrors.KindTimeout:
				return false
			case apperrors.KindService:
				return apperrors.StatusOf(err) > 0 && apperrors.StatusOf(err) < 500
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
