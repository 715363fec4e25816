package handler_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/handler"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/obs"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/proxy/proxytest"
	"github.com/alex-user-go/holidays/internal/search/cache"
	"github.com/alex-user-go/holidays/internal/search/ratelimit"
	"github.com/alex-user-go/holidays/internal/search/types"
	"github.com/alex-user-go/holidays/internal/store"
)

const searchBody = `{
	"origin_code": "MAD",
	"destination_code": "PMI",
	"start_date": "2026-07-01",
	"num_nights": 7,
	"rooms": [{"passengers": [{"type": "ADULT", "age": 35}, {"type": "ADULT", "age": 33}]}],
	"product_type": "PACKAGE"
}`

type testEnv struct {
	t       *testing.T
	proxy   *proxytest.Server
	server  *httptest.Server
	client  *http.Client
	metrics *obs.Metrics
	limiter *ratelimit.Limiter
}

type envOptions struct {
	proxy        proxytest.Options
	priceTimeout time.Duration
	ratePerMin   int
}

func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if opts.proxy.Seed == 0 {
		opts.proxy.Seed = 1
	}
	opts.proxy.Logger = logger
	backend := proxytest.New(opts.proxy)
	proxySrv := httptest.NewServer(backend)
	t.Cleanup(proxySrv.Close)

	if opts.priceTimeout == 0 {
		opts.priceTimeout = 2 * time.Second
	}
	if opts.ratePerMin == 0 {
		opts.ratePerMin = 10
	}

	metrics := obs.NewMetrics(logger)
	resultsCache := cache.NewCache(time.Minute)
	t.Cleanup(resultsCache.Close)
	limiter := ratelimit.New(opts.ratePerMin, time.Minute)
	t.Cleanup(limiter.Close)

	nav := flow.NewNavigator(flow.Config{
		Backend:    proxy.NewClient(proxySrv.URL, logger),
		Sessions:   store.NewMemory(),
		SessionTTL: time.Hour,
		Cache:      resultsCache,
		Metrics:    metrics,
		Logger:     logger,
	})
	h := handler.New(nav, limiter, metrics, logger, opts.priceTimeout)

	r := chi.NewRouter()
	r.Use(middleware.Session(time.Hour, false))
	r.Use(middleware.Logging(logger))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		t:       t,
		proxy:   backend,
		server:  srv,
		client:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		metrics: metrics,
		limiter: limiter,
	}
}

func (e *testEnv) do(method, path, body string) *http.Response {
	e.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(method, path, body string, wantStatus int, out any) {
	e.t.Helper()
	resp := e.do(method, path, body)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	require.Equal(e.t, wantStatus, resp.StatusCode, "body: %s", raw)
	if out != nil {
		require.NoError(e.t, json.Unmarshal(raw, out))
	}
}

type event struct {
	name string
	data map[string]any
}

// events reads a server-sent event stream to its end.
func (e *testEnv) events(path string) []event {
	e.t.Helper()
	resp := e.do(http.MethodGet, path, "")
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	require.Equal(e.t, "text/event-stream", resp.Header.Get("Content-Type"))

	var (
		out     []event
		current event
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(e.t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "" && current.name != "":
			out = append(out, current)
			current = event{}
		}
	}
	require.NoError(e.t, scanner.Err())
	return out
}

func names(events []event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.name
	}
	return out
}

func (e *testEnv) browse() handler.ResultsResponse {
	e.t.Helper()
	var accepted handler.StateResponse
	e.doJSON(http.MethodPost, "/search", searchBody, http.StatusAccepted, &accepted)
	require.Equal(e.t, flow.PhaseAwaitingResults, accepted.Phase)

	var results handler.ResultsResponse
	e.doJSON(http.MethodGet, accepted.Next, "", http.StatusOK, &results)
	require.Equal(e.t, flow.PhaseBrowsing, results.Phase)
	return results
}

func (e *testEnv) quote(budgetID string) handler.QuoteResponse {
	e.t.Helper()
	e.doJSON(http.MethodPost, "/packages/"+budgetID+"/rooms",
		`{"room_index": 0, "option": {"code": "DBL", "name": "Double", "board": "BB"}}`, http.StatusOK, nil)

	var selected handler.StateResponse
	e.doJSON(http.MethodPost, "/packages/"+budgetID+"/select", "", http.StatusOK, &selected)
	require.Equal(e.t, flow.PhaseQuoting, selected.Phase)

	var q handler.QuoteResponse
	e.doJSON(http.MethodGet, selected.Next, "", http.StatusOK, &q)
	return q
}

func TestBookingFlow(t *testing.T) {
	env := newEnv(t, envOptions{})

	results := env.browse()
	require.Len(t, results.Records, 4)
	assert.Equal(t, 4, results.TotalRecords)
	assert.Equal(t, 1, results.Page)

	// Cheapest plan per hotel survives, and the zero-priced one is flagged.
	unpriced := 0
	for _, rec := range results.Records {
		assert.True(t, strings.HasSuffix(rec.BudgetID, "-BB"), rec.BudgetID)
		if !rec.PriceResolved {
			unpriced++
		}
	}
	assert.Equal(t, 1, unpriced)

	prices := env.events("/results/prices")
	got := names(prices)
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, []string{handler.EventInteractive, handler.EventPlaceholders}, got[:2])
	assert.Equal(t, handler.EventDone, got[len(got)-1])
	assert.Equal(t, handler.EventInteractive, got[len(got)-2])

	patched := 0
	for _, ev := range prices {
		if ev.name == handler.EventPrice {
			patched++
			assert.Positive(t, ev.data["amount"])
		}
	}
	assert.Equal(t, 4, patched)
	done := prices[len(prices)-1].data
	assert.Equal(t, true, done["ok"])

	var refreshed handler.ResultsResponse
	env.doJSON(http.MethodGet, "/results?sort=PRICE_ASC", "", http.StatusOK, &refreshed)
	for _, rec := range refreshed.Records {
		assert.True(t, rec.PriceResolved, rec.BudgetID)
	}

	q := env.quote("PMI-H001-BB")
	require.NotNil(t, q.Quote)
	assert.NotEmpty(t, q.Quote.Token)
	assert.Equal(t, "PMI-H001-BB", q.Package.Record.BudgetID)

	quotePrices := env.events("/quote/prices")
	var finalPrice float64
	for _, ev := range quotePrices {
		if ev.name == handler.EventPrice {
			finalPrice = ev.data["amount"].(float64)
		}
	}
	assert.InDelta(t, 1092.0, finalPrice, 0.001)

	var svc map[string]any
	env.doJSON(http.MethodPost, "/quote/services", `{"service_id": "insurance", "add": true}`, http.StatusOK, &svc)
	assert.InDelta(t, 1127.0, svc["service"].(map[string]any)["total_amount"], 0.001)

	var booked map[string]any
	env.doJSON(http.MethodPost, "/book", `{"holder": {"name": "Ana"}}`, http.StatusOK, &booked)
	assert.Equal(t, string(flow.PhaseBooked), booked["phase"])
	assert.True(t, strings.HasPrefix(booked["reference"].(string), "BK-"))
	assert.Equal(t, 1, env.proxy.Calls(proxy.ActionBookPackage))

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Searches)
	assert.Equal(t, int64(1), snap.Bookings)
}

func TestSearchHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		exhaust    bool
		wantStatus int
		wantError  string
	}{
		{name: "accepted", body: searchBody, wantStatus: http.StatusAccepted},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantError: "request body is required"},
		{name: "malformed json", body: "{", wantStatus: http.StatusBadRequest},
		{
			name:       "missing destination",
			body:       `{"origin_code": "MAD", "start_date": "2026-07-01", "num_nights": 7, "rooms": [{"passengers": [{"type": "ADULT", "age": 30}]}]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "destination_code is required",
		},
		{
			name:       "invalid child age",
			body:       `{"origin_code": "MAD", "destination_code": "PMI", "start_date": "2026-07-01", "num_nights": 7, "rooms": [{"passengers": [{"type": "ADULT", "age": 30}, {"type": "CHILD", "age": 19}]}]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "room 1: invalid passenger: child age 19 outside 0-17",
		},
		{name: "rate limit exceeded", body: searchBody, exhaust: true, wantStatus: http.StatusTooManyRequests, wantError: "rate limit exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, envOptions{})
			if tt.exhaust {
				for range 10 {
					env.limiter.Allow("127.0.0.1")
				}
			}

			var resp map[string]any
			env.doJSON(http.MethodPost, "/search", tt.body, tt.wantStatus, &resp)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp["error"])
			}
		})
	}
}

func TestLastSearchHandler(t *testing.T) {
	env := newEnv(t, envOptions{})

	resp := env.do(http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	env.doJSON(http.MethodPost, "/search", searchBody, http.StatusAccepted, nil)

	var params types.SearchParams
	env.doJSON(http.MethodGet, "/search", "", http.StatusOK, &params)
	assert.Equal(t, "PMI", params.DestinationCode)
	assert.Equal(t, 7, params.NumNights)
}

func TestResultsHandler_NoResults(t *testing.T) {
	env := newEnv(t, envOptions{})

	body := strings.Replace(searchBody, `"PMI"`, `"XXX"`, 1)
	env.doJSON(http.MethodPost, "/search", body, http.StatusAccepted, nil)

	var resp map[string]string
	env.doJSON(http.MethodGet, "/results", "", http.StatusNotFound, &resp)
	assert.Equal(t, flow.NoResultsMessage, resp["error"])

	var notice map[string]string
	env.doJSON(http.MethodGet, "/notice", "", http.StatusOK, &notice)
	assert.Equal(t, flow.NoResultsMessage, notice["message"])

	// One-shot.
	env.doJSON(http.MethodGet, "/notice", "", http.StatusOK, &notice)
	assert.Empty(t, notice["message"])
}

func TestResultsHandler_BusinessFailure(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.proxy.Fail(proxy.ActionSearchPackages, "No availability for these dates.")

	env.doJSON(http.MethodPost, "/search", searchBody, http.StatusAccepted, nil)

	var resp map[string]string
	env.doJSON(http.MethodGet, "/results", "", http.StatusUnprocessableEntity, &resp)
	assert.Equal(t, "No availability for these dates.", resp["error"])
}

func TestResultsHandler_StaleURL(t *testing.T) {
	env := newEnv(t, envOptions{})
	results := env.browse()

	var resp map[string]string
	env.doJSON(http.MethodGet, "/results?availToken="+results.AvailToken+"&state=999", "", http.StatusConflict, &resp)
	assert.Equal(t, "this page is out of date, please reload", resp["error"])
}

func TestResultsHandler_Filters(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()

	var results handler.ResultsResponse
	env.doJSON(http.MethodGet, "/results?stars=4,5&sort=PRICE_DESC", "", http.StatusOK, &results)
	require.Len(t, results.Records, 2)
	assert.Equal(t, "H004", results.Records[0].HotelCode)
	assert.Equal(t, "H001", results.Records[1].HotelCode)

	env.doJSON(http.MethodGet, "/results?size=2&page=2", "", http.StatusOK, &results)
	assert.Len(t, results.Records, 2)
	assert.Equal(t, 2, results.TotalPages)

	// Past the end is empty, not an error.
	env.doJSON(http.MethodGet, "/results?page=9", "", http.StatusOK, &results)
	assert.Empty(t, results.Records)

	var far handler.ResultsResponse
	env.doJSON(http.MethodGet, "/results?page=4611686018427387904&size=4", "", http.StatusOK, &far)
	assert.Empty(t, far.Records)

	// A zero ceiling keeps only the hotel still waiting for its price.
	var capped handler.ResultsResponse
	env.doJSON(http.MethodGet, "/results?max_price=0", "", http.StatusOK, &capped)
	require.Len(t, capped.Records, 1)
	assert.Equal(t, "H003", capped.Records[0].HotelCode)
	assert.True(t, capped.Filter.PriceCeiling)
}

func TestSelectPackageHandler(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*proxytest.Server)
		wantStatus int
		wantError  string
	}{
		{name: "allowed", setup: func(*proxytest.Server) {}, wantStatus: http.StatusOK},
		{
			name:       "selling denied",
			setup:      func(s *proxytest.Server) { s.SetSellingAllowed(false) },
			wantStatus: http.StatusForbidden,
			wantError:  "Sales are closed for this agency.",
		},
		{
			name:       "selling check refused",
			setup:      func(s *proxytest.Server) { s.Fail(proxy.ActionCheckAllowedSelling, "Agency suspended.") },
			wantStatus: http.StatusForbidden,
			wantError:  "Agency suspended.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, envOptions{})
			env.browse()
			tt.setup(env.proxy)

			env.doJSON(http.MethodPost, "/packages/PMI-H002-BB/rooms",
				`{"room_index": 0, "option": {"code": "DBL"}}`, http.StatusOK, nil)

			var resp map[string]any
			env.doJSON(http.MethodPost, "/packages/PMI-H002-BB/select", "", tt.wantStatus, &resp)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp["error"])
			}
		})
	}
}

func TestSelectPackageHandler_RoomsIncomplete(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()

	env.doJSON(http.MethodPost, "/packages/PMI-H002-BB/select", "", http.StatusBadRequest, nil)
	env.doJSON(http.MethodPost, "/packages/UNKNOWN/rooms", `{"room_index": 0, "option": {"code": "DBL"}}`, http.StatusNotFound, nil)
}

func TestQuotePricesHandler_Timeout(t *testing.T) {
	env := newEnv(t, envOptions{
		proxy:        proxytest.Options{QuoteDelay: time.Second},
		priceTimeout: 50 * time.Millisecond,
	})
	env.browse()
	env.quote("PMI-H001-BB")

	events := env.events("/quote/prices")
	got := names(events)

	errorsSeen := 0
	for _, name := range got {
		if name == handler.EventError {
			errorsSeen++
		}
		assert.NotEqual(t, handler.EventPrice, name)
	}
	assert.Equal(t, 1, errorsSeen)
	assert.Equal(t, handler.EventDone, got[len(got)-1])
	done := events[len(events)-1].data
	assert.Equal(t, false, done["ok"])
	assert.Equal(t, "timeout", done["code"])
	assert.NotContains(t, done, "message", "the error event carries the only readable message")

	interactive := events[len(events)-2]
	assert.Equal(t, handler.EventInteractive, interactive.name)
	assert.Equal(t, true, interactive.data["enabled"])
}

func TestServiceHandler_Reverted(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()
	env.quote("PMI-H001-BB")

	var resp map[string]any
	env.doJSON(http.MethodPost, "/quote/services", `{"service_id": "spa", "add": true}`, http.StatusUnprocessableEntity, &resp)
	assert.Equal(t, "This service is not available.", resp["error"])

	svc := resp["service"].(map[string]any)
	assert.Equal(t, false, svc["selected"])
	assert.Equal(t, true, svc["reverted"])
}

func TestBookHandler_FailureKeepsQuote(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()
	env.quote("PMI-H001-BB")
	env.proxy.Fail(proxy.ActionBookPackage, "Payment declined.")

	var resp map[string]string
	env.doJSON(http.MethodPost, "/book", `{}`, http.StatusUnprocessableEntity, &resp)
	assert.Equal(t, "Payment declined.", resp["error"])

	var q handler.QuoteResponse
	env.doJSON(http.MethodGet, "/quote", "", http.StatusOK, &q)
	assert.Equal(t, flow.PhaseQuoting, q.Phase)
	assert.NotEmpty(t, q.Quote.Token)
}

func TestBackHandler(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()
	env.quote("PMI-H001-BB")
	searches := env.proxy.Calls(proxy.ActionSearchPackages)

	var back handler.StateResponse
	env.doJSON(http.MethodPost, "/quote/back", "", http.StatusOK, &back)
	assert.Equal(t, flow.PhaseBrowsing, back.Phase)
	assert.Equal(t, searches+1, env.proxy.Calls(proxy.ActionSearchPackages))

	var results handler.ResultsResponse
	env.doJSON(http.MethodGet, back.Next, "", http.StatusOK, &results)
	assert.Len(t, results.Records, 4)
}

func TestQuoteExtras(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()
	q := env.quote("PMI-H001-BB")

	var printed map[string]string
	env.doJSON(http.MethodPost, "/quote/print", "", http.StatusOK, &printed)
	assert.Equal(t, "/quotes/"+q.Quote.Token+".pdf", printed["pdf_url"])

	resp := env.do(http.MethodPost, "/quote/email", `{"email": "ana@example.com"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	env.doJSON(http.MethodPost, "/quote/email", `{}`, http.StatusBadRequest, nil)

	var details map[string]any
	env.doJSON(http.MethodGet, "/packages/PMI-H001-BB/details", "", http.StatusOK, &details)
	assert.Equal(t, "Grand Hotel", details["hotel_details"].(map[string]any)["name"])
}

func TestValidateHandlers(t *testing.T) {
	env := newEnv(t, envOptions{})

	var exp map[string]any
	env.doJSON(http.MethodPost, "/validate/expedient", `{"expedient": "EXP12345"}`, http.StatusOK, &exp)
	assert.Equal(t, true, exp["valid"])

	env.doJSON(http.MethodPost, "/validate/expedient", `{"expedient": "123"}`, http.StatusOK, &exp)
	assert.Equal(t, false, exp["valid"])
	assert.Equal(t, "Unknown expedient.", exp["message"])

	var pax map[string]any
	env.doJSON(http.MethodPost, "/validate/passengers",
		`{"passengers": [{"document": "X0000000"}, {"document": "12345678Z"}]}`, http.StatusOK, &pax)
	assert.Equal(t, false, pax["valid"])
	assert.Equal(t, []any{"X0000000"}, pax["duplicates"])

	env.doJSON(http.MethodPost, "/validate/passengers", `{"passengers": []}`, http.StatusBadRequest, nil)
}

func TestAbandonHandler(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.browse()

	var st handler.StateResponse
	env.doJSON(http.MethodPost, "/abandon", "", http.StatusOK, &st)
	assert.Equal(t, flow.PhaseSearching, st.Phase)
	assert.Equal(t, "/", st.Next)

	env.doJSON(http.MethodGet, "/results/prices", "", http.StatusConflict, nil)
}

func TestLocations(t *testing.T) {
	env := newEnv(t, envOptions{})

	var dest []proxy.Location
	env.doJSON(http.MethodGet, "/destinations?origin=MAD", "", http.StatusOK, &dest)
	assert.NotEmpty(t, dest)

	var orig []proxy.Location
	env.doJSON(http.MethodGet, "/origins", "", http.StatusOK, &orig)
	assert.Equal(t, "MAD", orig[0].Code)
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantSize  int
		wantStars []int
		wantMeals []string
		wantMax   float64
		wantCap   bool
		wantError string
	}{
		{name: "defaults", query: "", wantPage: 1, wantSize: 10},
		{name: "csv stars", query: "stars=3,4", wantPage: 1, wantSize: 10, wantStars: []int{3, 4}},
		{name: "repeated meals", query: "meal=ai&meal=hb", wantPage: 1, wantSize: 10, wantMeals: []string{"AI", "HB"}},
		{name: "page and size", query: "page=3&size=20", wantPage: 3, wantSize: 20},
		{name: "bad stars", query: "stars=7", wantError: "stars must be integers between 0 and 5"},
		{name: "bad page", query: "page=0", wantError: "page must be a positive integer"},
		{name: "size too large", query: "size=500", wantError: "size must not exceed 100"},
		{name: "price ceiling", query: "max_price=250", wantPage: 1, wantSize: 10, wantMax: 250, wantCap: true},
		{name: "zero price ceiling", query: "max_price=0", wantPage: 1, wantSize: 10, wantCap: true},
		{name: "negative price", query: "max_price=-1", wantError: "max_price must be a non-negative number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/results?"+tt.query, nil)
			filter, page, size, err := handler.ParseFilter(req)

			if tt.wantError != "" {
				assert.EqualError(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantSize, size)
			assert.Equal(t, tt.wantMax, filter.MaxPrice)
			assert.Equal(t, tt.wantCap, filter.PriceCeiling)
			for _, s := range tt.wantStars {
				assert.True(t, filter.SelectedStars[s])
			}
			for _, m := range tt.wantMeals {
				assert.True(t, filter.SelectedMealPlans[m])
			}
		})
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		wantIP     string
	}{
		{
			name:       "X-Forwarded-For single IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "192.168.1.1:12345",
			wantIP:     "203.0.113.195",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18, 150.172.238.178"},
			remoteAddr: "192.168.1.1:12345",
			wantIP:     "203.0.113.195",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.50"},
			remoteAddr: "192.168.1.1:12345",
			wantIP:     "203.0.113.50",
		},
		{
			name:       "fallback to RemoteAddr",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.1:12345",
			wantIP:     "192.168.1.1",
		},
		{
			name:       "IPv6 RemoteAddr",
			headers:    map[string]string{},
			remoteAddr: "[::1]:12345",
			wantIP:     "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.wantIP, handler.ExtractIP(req))
		})
	}
}

func TestResultPricesHandler_StreamsBeforeRefresh(t *testing.T) {
	env := newEnv(t, envOptions{proxy: proxytest.Options{Latency: 100 * time.Millisecond}})
	env.browse()

	resp := env.do(http.MethodGet, "/results/prices", "")
	reader := bufio.NewReader(resp.Body)

	start := time.Now()
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(line, []byte("event: "+handler.EventInteractive)))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
