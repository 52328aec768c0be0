package di

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/auth"
	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/config"
	"github.com/zapidan/newsletter-hub-sub004/internal/engine"
	"github.com/zapidan/newsletter-hub-sub004/internal/mutation"
	"github.com/zapidan/newsletter-hub-sub004/internal/notify"
	"github.com/zapidan/newsletter-hub-sub004/internal/realtime"
	"github.com/zapidan/newsletter-hub-sub004/internal/remote"
	"github.com/zapidan/newsletter-hub-sub004/internal/retry"
	"github.com/zapidan/newsletter-hub-sub004/pkg/observability"
)

// Container holds the assembled engine and everything the daemon needs
// to serve and shut it down.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Collector
	Tracer     *observability.TracerProvider
	Cache      *cache.Manager
	Executor   *retry.Executor
	Session    *auth.Manager
	Remote     *remote.SupabaseClient
	Controller *mutation.Controller
	Dispatcher *notify.Dispatcher
	Engine     *engine.Engine

	// Listener is nil when the realtime feed is disabled.
	Listener *realtime.Listener
}

// Start launches the background pieces that need a lifecycle of their
// own. Safe to call once.
func (c *Container) Start(ctx context.Context) {
	if c.Listener != nil {
		c.Listener.Start(ctx)
	}
}

// Shutdown stops background work and flushes telemetry.
func (c *Container) Shutdown(ctx context.Context) {
	if c.Listener != nil {
		c.Listener.Close()
	}
	c.Cache.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Tracer.Shutdown(shutdownCtx); err != nil {
		c.Logger.Warn("tracer shutdown failed", zap.Error(err))
	}
	_ = c.Logger.Sync()
}
