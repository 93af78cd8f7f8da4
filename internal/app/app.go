// Package app wires the service together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jonesrussell/castflow/internal/aggregator"
	"github.com/jonesrussell/castflow/internal/api"
	"github.com/jonesrussell/castflow/internal/cache"
	"github.com/jonesrussell/castflow/internal/coalesce"
	"github.com/jonesrussell/castflow/internal/config"
	"github.com/jonesrussell/castflow/internal/gate"
	"github.com/jonesrussell/castflow/internal/hub"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/metrics"
	"github.com/jonesrussell/castflow/internal/models"
	"github.com/jonesrussell/castflow/internal/resolver"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	defaultIdleTimeout = 120 * time.Second
)

// App holds the assembled service. All shared state (cache, circuits, gate)
// is constructed exactly once here and passed down by reference.
type App struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	version    string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "castflow"),
		logger.String("version", opts.Version),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	shared := cache.New(cache.Config{
		MaxEntries:  cfg.Cache.MaxEntries,
		MaxBytes:    cfg.Cache.MaxBytes,
		StaleWindow: cfg.Cache.StaleWindow,
		OnEvict:     m.CacheEvictions.Inc,
	})

	g := gate.New(gate.Config{
		Workers:        cfg.Gate.Workers,
		RequestTimeout: cfg.Gate.RequestTimeout,
		MaxRetries:     cfg.Gate.MaxRetries,
		Breaker: gate.BreakerConfig{
			FailureThreshold: cfg.Gate.FailureThreshold,
			ResetTimeout:     cfg.Gate.ResetTimeout,
		},
	}, appLogger, m)

	client := hub.NewClient(hub.Config{
		BaseURL:  cfg.Hub.URL,
		PageSize: cfg.Hub.PageSize,
	}, g, appLogger)

	batchCfg := coalesce.Config{
		Window:   cfg.Export.BatchWindow,
		MaxBatch: cfg.Export.MaxBatch,
	}
	resolveBatcher := coalesce.New[uint64]("resolve", batchCfg, appLogger, m)
	reactionBatcher := coalesce.New[int]("reactions", batchCfg, appLogger, m)
	parentBatcher := coalesce.New[*models.Post]("parents", batchCfg, appLogger, m)

	res := resolver.New(client, shared, resolveBatcher, cfg.Cache.ResolveTTL, appLogger)
	agg := aggregator.New(aggregator.Config{
		BundleTTL: cfg.Cache.BundleTTL,
	}, client, shared, reactionBatcher, parentBatcher, appLogger, m)

	router := api.NewRouter(cfg, res, agg, g, shared, registry, appLogger)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return &App{
		config:     cfg,
		logger:     appLogger,
		httpServer: server,
		version:    opts.Version,
	}, nil
}

// Run starts the HTTP server and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.logger.Info("Starting HTTP server",
			logger.String("address", a.config.Server.Address),
			logger.String("hub", a.config.Hub.URL),
			logger.Bool("debug", a.config.Debug),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()),
		)
	case <-ctx.Done():
		a.logger.Info("Context cancelled, shutting down")
	case err := <-serverErr:
		a.logger.Error("Server error", logger.Error(err))
		return err
	}

	return a.shutdownHTTPServer()
}

// shutdownHTTPServer gracefully shuts down the HTTP server
func (a *App) shutdownHTTPServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
		return err
	}
	a.logger.Info("HTTP server stopped")
	return nil
}

// Close cleans up resources
func (a *App) Close() error {
	return a.logger.Sync()
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
