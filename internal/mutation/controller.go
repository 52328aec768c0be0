// Package mutation orchestrates the optimistic mutation lifecycle:
// snapshot, optimistic apply, remote execute, commit or rollback, settle.
// The cache never corrupts under a failing remote because every write is
// captured before it happens and restored verbatim on failure.
package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
	"github.com/zapidan/newsletter-hub-sub004/internal/retry"
	"github.com/zapidan/newsletter-hub-sub004/pkg/observability"
)

// Mutation describes one optimistic write. The engine facade builds
// these; the controller runs them.
type Mutation struct {
	// Entity and Operation label logs, metrics, and spans.
	Entity    cache.Entity
	Operation string

	// AffectedIDs are the records the mutation touches, for settle-time
	// invalidation.
	AffectedIDs []string

	// Scope selects every cache key the mutation can affect. It bounds
	// the snapshot, the refetch cancellation, and the rollback. A scope
	// that misses a key the mutation writes breaks rollback, so scopes
	// are built from the querykey matchers, never by hand-picking keys.
	Scope querykey.Predicate

	// Input, when non-nil, is validated before anything else runs.
	// Invalid input fails the mutation without touching cache or network.
	Input any

	// Apply writes the anticipated end state through the cache manager
	// and returns the unread adjustment derived from the state it
	// observed before writing.
	Apply func(c *cache.Manager) domain.UnreadDelta

	// Execute performs the remote operation. It runs through the retry
	// engine and must honor ctx.
	Execute func(ctx context.Context) error
}

// Controller runs mutations against one cache manager.
type Controller struct {
	cache   *cache.Manager
	exec    *retry.Executor
	metrics *observability.Collector
	tracer  *observability.TracerProvider
	logger  *zap.Logger
}

// NewController creates a controller. metrics and tracer may be nil.
func NewController(c *cache.Manager, exec *retry.Executor, metrics *observability.Collector, tracer *observability.TracerProvider, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NopTracerProvider("mutation")
	}
	return &Controller{
		cache:   c,
		exec:    exec,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.Named("mutation"),
	}
}

// Run drives one mutation through its lifecycle. On success the
// optimistic state stands; on failure every touched key is restored to
// its pre-mutation snapshot and the classified error is returned. Either
// way the affected views are invalidated so the next read refetches
// truth from the backend.
func (c *Controller) Run(ctx context.Context, m Mutation) error {
	if m.Input != nil {
		if err := domain.ValidateInput(m.Input); err != nil {
			c.logger.Debug("mutation rejected by validation",
				zap.String("operation", m.Operation),
				zap.Error(err),
			)
			return err
		}
	}

	id := uuid.NewString()
	started := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, "mutation."+m.Operation,
		trace.WithAttributes(
			attribute.String("mutation.id", id),
			attribute.String("mutation.entity", string(m.Entity)),
			attribute.Int("mutation.affected", len(m.AffectedIDs)),
		),
	)
	defer span.End()

	log := c.logger.With(
		zap.String("mutation_id", id),
		zap.String("entity", string(m.Entity)),
		zap.String("operation", m.Operation),
	)

	if c.metrics != nil {
		c.metrics.MutationsStarted.WithLabelValues(string(m.Entity), m.Operation).Inc()
	}

	// Start: a refetch racing the optimistic write would clobber it with
	// pre-mutation data, so in-flight fetches for the scope die first.
	c.cache.CancelRefetches(m.Scope)
	snapshot := c.cache.Snapshot(m.Scope)

	// Apply: anticipated end state plus the aggregate delta computed
	// from pre-mutation state.
	delta := m.Apply(c.cache)
	c.cache.AdjustUnread(delta)
	log.Debug("optimistic state applied", zap.Int("unread_delta", delta.Total))

	// Execute through the retry engine; all failures come back
	// classified.
	err := c.exec.Do(ctx, m.Operation, m.Execute)

	committed := err == nil
	if committed {
		// Commit: the optimistic write stands, the snapshot is dropped.
		log.Debug("mutation committed", zap.Duration("elapsed", time.Since(started)))
	} else {
		// Rollback: everything in scope rewinds verbatim, aggregate
		// included.
		c.cache.Restore(snapshot)
		span.RecordError(err)
		log.Warn("mutation rolled back",
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
	}

	if c.metrics != nil {
		c.metrics.ObserveMutation(string(m.Entity), m.Operation, committed, time.Since(started))
	}

	// Settle: refetch truth regardless of outcome so transient drift
	// between overlapping mutations self-heals.
	c.cache.InvalidateRelated(m.Entity, m.AffectedIDs, "mutation")

	return err
}
