package obs

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks application metrics using atomic counters.
type Metrics struct {
	requests             atomic.Int64
	cacheHits            atomic.Int64
	proxyErrors          atomic.Int64
	searches             atomic.Int64
	quotes               atomic.Int64
	bookings             atomic.Int64
	bookingFailures      atomic.Int64
	staleDropped         atomic.Int64
	priceRefreshFailures atomic.Int64
	rateLimited          atomic.Int64
	logger               *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requests.Add(1)
}

// IncCacheHits increments the result-set cache hits counter.
func (m *Metrics) IncCacheHits() {
	m.cacheHits.Add(1)
}

// IncProxyErrors increments the failed proxy calls counter.
func (m *Metrics) IncProxyErrors() {
	m.proxyErrors.Add(1)
}

// IncSearches increments the submitted searches counter.
func (m *Metrics) IncSearches() {
	m.searches.Add(1)
}

// IncQuotes increments the prepared quotes counter.
func (m *Metrics) IncQuotes() {
	m.quotes.Add(1)
}

// IncBookings increments the accepted bookings counter.
func (m *Metrics) IncBookings() {
	m.bookings.Add(1)
}

// IncBookingFailures increments the rejected or failed bookings counter.
func (m *Metrics) IncBookingFailures() {
	m.bookingFailures.Add(1)
}

// IncStaleDropped increments the counter of responses discarded because a
// newer request had started.
func (m *Metrics) IncStaleDropped() {
	m.staleDropped.Add(1)
}

// IncPriceRefreshFailures increments the failed delayed price loads counter.
func (m *Metrics) IncPriceRefreshFailures() {
	m.priceRefreshFailures.Add(1)
}

// IncRateLimited increments the rejected-by-rate-limit counter.
func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
}

// Snapshot returns current metric values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:             m.requests.Load(),
		CacheHits:            m.cacheHits.Load(),
		ProxyErrors:          m.proxyErrors.Load(),
		Searches:             m.searches.Load(),
		Quotes:               m.quotes.Load(),
		Bookings:             m.bookings.Load(),
		BookingFailures:      m.bookingFailures.Load(),
		StaleDropped:         m.staleDropped.Load(),
		PriceRefreshFailures: m.priceRefreshFailures.Load(),
		RateLimited:          m.rateLimited.Load(),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	Requests             int64
	CacheHits            int64
	ProxyErrors          int64
	Searches             int64
	Quotes               int64
	Bookings             int64
	BookingFailures      int64
	StaleDropped         int64
	PriceRefreshFailures int64
	RateLimited          int64
}

// HealthHandler returns a handler for /healthz requests.
func HealthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write health response", "error", err)
		}
	}
}

type counter struct {
	name  string
	help  string
	value int64
}

// MetricsHandler returns a handler for /metrics requests in Prometheus format.
func (m *Metrics) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := m.Snapshot()
		counters := []counter{
			{"requests_total", "Total number of requests", s.Requests},
			{"cache_hits_total", "Total number of result-set cache hits", s.CacheHits},
			{"proxy_errors_total", "Total number of failed proxy calls", s.ProxyErrors},
			{"searches_total", "Total number of submitted searches", s.Searches},
			{"quotes_total", "Total number of prepared quotes", s.Quotes},
			{"bookings_total", "Total number of accepted bookings", s.Bookings},
			{"booking_failures_total", "Total number of failed bookings", s.BookingFailures},
			{"stale_responses_dropped_total", "Total number of responses dropped as stale", s.StaleDropped},
			{"price_refresh_failures_total", "Total number of failed delayed price loads", s.PriceRefreshFailures},
			{"rate_limited_total", "Total number of requests rejected by the rate limiter", s.RateLimited},
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)

		for _, c := range counters {
			if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.value); err != nil {
				m.logger.Error("failed to write metrics", "error", err)
				return
			}
		}
	}
}
