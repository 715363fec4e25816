package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-user-go/holidays/internal/config"
	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/handler"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/obs"
	"github.com/alex-user-go/holidays/internal/search/cache"
	"github.com/alex-user-go/holidays/internal/search/ratelimit"
	"github.com/alex-user-go/holidays/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRouter(t *testing.T) {
	logger := discardLogger()
	metrics := obs.NewMetrics(logger)
	resultsCache := cache.NewCache(time.Minute)
	defer resultsCache.Close()
	limiter := ratelimit.New(10, time.Minute)
	defer limiter.Close()

	nav := flow.NewNavigator(flow.Config{
		Sessions:   store.NewMemory(),
		SessionTTL: time.Hour,
		Cache:      resultsCache,
		Metrics:    metrics,
		Logger:     logger,
	})
	router := NewRouter(handler.New(nav, limiter, metrics, logger, time.Second), metrics, logger, time.Hour, true)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "health", path: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK},
		{name: "no previous search", path: "/search", wantStatus: http.StatusNoContent},
		{name: "results before search", path: "/results", wantStatus: http.StatusConflict},
		{name: "unknown route", path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			cookies := rec.Result().Cookies()
			require.Len(t, cookies, 1)
			assert.Equal(t, middleware.SessionCookie, cookies[0].Name)
			assert.True(t, cookies[0].Secure)
		})
	}
}

func TestOpenStores(t *testing.T) {
	tests := []struct {
		name        string
		driver      string
		wantPurgers int
		splitStores bool
	}{
		{name: "memory", driver: config.DriverMemory, wantPurgers: 1},
		{name: "sqlite", driver: config.DriverSQLite, wantPurgers: 2, splitStores: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				StoreDriver: tt.driver,
				SQLitePath:  filepath.Join(t.TempDir(), "holidays.db"),
			}
			s, err := openStores(context.Background(), cfg, discardLogger())
			require.NoError(t, err)
			defer s.close()

			assert.Len(t, s.purgers, tt.wantPurgers)
			if tt.splitStores {
				assert.NotSame(t, s.sessions, s.durable)
			}

			ctx := context.Background()
			require.NoError(t, s.durable.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := s.durable.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		})
	}
}
