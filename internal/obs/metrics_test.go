package obs_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alex-user-go/holidays/internal/obs"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := obs.NewMetrics(slog.New(slog.NewTextHandler(io.Discard, nil)))

	m.IncRequests()
	m.IncRequests()
	m.IncSearches()
	m.IncStaleDropped()
	m.IncBookings()
	m.IncBookingFailures()

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Requests)
	assert.Equal(t, int64(1), s.Searches)
	assert.Equal(t, int64(1), s.StaleDropped)
	assert.Equal(t, int64(1), s.Bookings)
	assert.Equal(t, int64(1), s.BookingFailures)
	assert.Zero(t, s.Quotes)
}

func TestMetricsHandler(t *testing.T) {
	m := obs.NewMetrics(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.IncPriceRefreshFailures()
	m.IncCacheHits()

	rec := httptest.NewRecorder()
	m.MetricsHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	body := rec.Body.String()
	assert.Contains(t, body, "# TYPE price_refresh_failures_total counter\nprice_refresh_failures_total 1\n")
	assert.Contains(t, body, "cache_hits_total 1\n")
	assert.Contains(t, body, "bookings_total 0\n")
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	obs.HealthHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
