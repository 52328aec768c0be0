// Package di assembles the sync engine. The providers here are shared
// between the manual container and the Wire injector, so both paths
// build the exact same object graph.
package di

import (
	"fmt"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

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

func provideConfig() (*config.Config, error) {
	return config.Load()
}

// provideLogger builds the process logger from the logging section.
func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Logging.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func provideCollector(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.Observability.MetricsNamespace)
}

func provideTracer(cfg *config.Config) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return observability.NopTracerProvider("couriersync"), nil
	}
	return observability.InitTracing("couriersync", string(cfg.Environment), cfg.Observability.TracingEndpoint)
}

func provideCache(cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) *cache.Manager {
	return cache.NewManager(cache.Options{
		StaleTime:      cfg.Cache.StaleTime,
		DebounceWindow: cfg.Invalidation.DebounceInterval,
	}, metrics, logger)
}

func provideBreaker(cfg *config.Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return retry.NewBreaker(retry.BreakerConfig{
		Name:        "supabase",
		MaxRequests: cfg.Remote.BreakerMaxRequests,
		Interval:    cfg.Remote.BreakerInterval,
		Timeout:     cfg.Remote.BreakerTimeout,
		MinRequests: cfg.Remote.BreakerMinRequests,
		FailureRate: cfg.Remote.BreakerFailureRate,
	}, logger)
}

func provideExecutor(cfg *config.Config, breaker *gobreaker.CircuitBreaker, metrics *observability.Collector, logger *zap.Logger) *retry.Executor {
	return retry.NewExecutor(retry.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		Multiplier:     cfg.Retry.Multiplier,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	}, breaker, metrics, logger)
}

// provideSupabase creates the backend adapter and the session manager
// together: the session manager signs requests for the adapter, and the
// adapter performs the session manager's token refresh.
func provideSupabase(cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) (*remote.SupabaseClient, *auth.Manager, error) {
	session := auth.NewManager(nil, cfg.Auth.RefreshMargin, logger)
	client, err := remote.NewSupabaseClient(cfg.Remote.SupabaseURL, cfg.Remote.SupabaseKey, session, metrics, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating supabase client: %w", err)
	}
	session.SetRefresher(client)
	return client, session, nil
}

func provideController(c *cache.Manager, exec *retry.Executor, metrics *observability.Collector, tracer *observability.TracerProvider, logger *zap.Logger) *mutation.Controller {
	return mutation.NewController(c, exec, metrics, tracer, logger)
}

func provideDispatcher(logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(64, logger)
}

func provideEngine(c *cache.Manager, ctrl *mutation.Controller, exec *retry.Executor, client *remote.SupabaseClient, session *auth.Manager, dispatcher *notify.Dispatcher, logger *zap.Logger) *engine.Engine {
	return engine.New(c, ctrl, exec, client.Surface(), session, dispatcher, logger)
}

// provideListener returns nil when the realtime feed is disabled.
func provideListener(cfg *config.Config, c *cache.Manager, session *auth.Manager, metrics *observability.Collector, logger *zap.Logger) *realtime.Listener {
	if !cfg.Realtime.Enabled {
		return nil
	}
	return realtime.NewListener(realtime.Config{
		URL:               cfg.Realtime.URL,
		PingInterval:      cfg.Realtime.PingInterval,
		ReconnectBaseWait: cfg.Realtime.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Realtime.ReconnectMaxWait,
	}, c, session, metrics, logger)
}
