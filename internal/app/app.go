package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alex-user-go/holidays/internal/config"
	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/handler"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/obs"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/search/cache"
	"github.com/alex-user-go/holidays/internal/search/ratelimit"
	"github.com/alex-user-go/holidays/internal/store"
)

// Run initializes and runs the application.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize metrics
	metrics := obs.NewMetrics(logger)

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	janitor := store.NewJanitor(cfg.PurgeSchedule, logger, stores.purgers...)
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer janitor.Stop()

	// Initialize cache
	resultsCache := cache.NewCache(cfg.ResultsCacheTTL)
	defer resultsCache.Close()

	// Initialize rate limiter (searches per minute per IP)
	limiter := ratelimit.New(cfg.RateLimitPerMinute, time.Minute)
	defer limiter.Close()

	nav := flow.NewNavigator(flow.Config{
		Backend:    proxy.NewClient(cfg.ProxyURL, logger),
		Sessions:   stores.sessions,
		SessionTTL: cfg.SessionTTL,
		Durable:    stores.durable,
		Cache:      resultsCache,
		Metrics:    metrics,
		Logger:     logger,
	})

	h := handler.New(nav, limiter, metrics, logger, cfg.PriceRefreshTimeout)

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     NewRouter(h, metrics, logger, cfg.SessionTTL, cfg.SecureCookies),
		ReadTimeout: 10 * time.Second,
		// Price streams stay open until the refresh deadline.
		WriteTimeout: cfg.PriceRefreshTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreDriver, "proxy_url", cfg.ProxyURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
		return err
	}

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// NewRouter mounts the booking flow with its middleware chain. The session
// middleware runs first so request logs carry the session id.
func NewRouter(h *handler.Handler, metrics *obs.Metrics, logger *slog.Logger, sessionTTL time.Duration, secureCookies bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Session(sessionTTL, secureCookies))
	r.Use(middleware.Logging(logger))

	r.Get("/healthz", obs.HealthHandler(logger))
	r.Get("/metrics", metrics.MetricsHandler())
	r.Group(h.Routes)
	return r
}

// stores holds the backends selected by STORE_DRIVER.
type stores struct {
	sessions store.Store
	durable  store.Store
	purgers  []store.Purger
	closers  []func() error
}

func (s *stores) close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}
	switch cfg.StoreDriver {
	case config.DriverRedis:
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, rdb.Close)
		s.sessions = store.NewRedis(rdb, "holidays:")
		s.durable = s.sessions
	case config.DriverSQLite:
		db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		mem := store.NewMemory()
		s.sessions = mem
		s.durable = db
		s.purgers = append(s.purgers, mem, db)
	default:
		mem := store.NewMemory()
		s.sessions = mem
		s.durable = mem
		s.purgers = append(s.purgers, mem)
	}
	logger.Info("stores ready", "driver", cfg.StoreDriver)
	return s, nil
}
