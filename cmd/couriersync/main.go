// couriersync runs the newsletter sync engine as a local daemon: it
// keeps the query cache warm, applies optimistic mutations against the
// backend, and serves health, metrics, and cache inspection endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/config"
	"github.com/zapidan/newsletter-hub-sub004/internal/di"
)

func main() {
	configFile := pflag.String("config", "", "path to the YAML config file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	pflag.Parse()

	if *configFile != "" {
		os.Setenv("SYNC_CONFIG_FILE", *configFile)
	}
	if *logLevel != "" {
		os.Setenv("LOG_LEVEL", *logLevel)
	}

	container, err := di.NewContainer()
	if err != nil {
		log.Fatalf("initialization failed: %v", err)
	}

	logger := container.Logger
	cfg := container.Config

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container.Start(ctx)

	watcher := startConfigWatcher(cfg, *configFile, logger)
	if watcher != nil {
		defer watcher.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      newRouter(container),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("ops server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}
	container.Shutdown(shutdownCtx)
}

// startConfigWatcher reloads the config file on change. Only the logging
// level applies live; everything else needs a restart.
func startConfigWatcher(cfg *config.Config, path string, logger *zap.Logger) *config.Watcher {
	if path == "" {
		path = os.Getenv("SYNC_CONFIG_FILE")
	}
	if path == "" {
		return nil
	}
	watcher, err := config.NewWatcher(cfg, path, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
		return nil
	}
	watcher.OnChange(func(next *config.Config) {
		logger.Info("configuration reloaded",
			zap.String("log_level", next.Logging.Level),
		)
	})
	return watcher
}

func newRouter(container *di.Container) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: container.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		container.Metrics.GetRegistry(),
		promhttp.HandlerOpts{},
	))

	r.Get("/debug/cache", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(container.Cache.Stats())
	})

	return r
}
