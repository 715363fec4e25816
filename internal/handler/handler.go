package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/loader"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/obs"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/search"
	"github.com/alex-user-go/holidays/internal/search/ratelimit"
	"github.com/alex-user-go/holidays/internal/search/types"
)

// DefaultReinitHooks are the client re-initialization routines a delayed
// response may ask for.
var DefaultReinitHooks = []string{"tooltips", "carousel", "services", "datepicker"}

const maxBodyBytes = 1 << 20

// Handler handles HTTP requests.
type Handler struct {
	nav          *flow.Navigator
	rateLimiter  *ratelimit.Limiter
	metrics      *obs.Metrics
	logger       *slog.Logger
	priceTimeout time.Duration
	reinitHooks  []string
}

// New creates a new Handler.
func New(
	nav *flow.Navigator,
	rateLimiter *ratelimit.Limiter,
	metrics *obs.Metrics,
	logger *slog.Logger,
	priceTimeout time.Duration,
) *Handler {
	return &Handler{
		nav:          nav,
		rateLimiter:  rateLimiter,
		metrics:      metrics,
		logger:       logger,
		priceTimeout: priceTimeout,
		reinitHooks:  DefaultReinitHooks,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.count)

	r.Get("/search", h.LastSearchHandler)
	r.Post("/search", h.SearchHandler)
	r.Get("/results", h.ResultsHandler)
	r.Get("/results/prices", h.ResultPricesHandler)
	r.Get("/notice", h.NoticeHandler)
	r.Get("/destinations", h.DestinationsHandler)
	r.Get("/origins", h.OriginsHandler)

	r.Route("/packages/{budgetID}", func(r chi.Router) {
		r.Post("/rooms", h.SelectRoomHandler)
		r.Post("/select", h.SelectPackageHandler)
		r.Get("/details", h.PackageDetailsHandler)
	})

	r.Route("/quote", func(r chi.Router) {
		r.Get("/", h.QuoteHandler)
		r.Get("/prices", h.QuotePricesHandler)
		r.Post("/back", h.BackHandler)
		r.Post("/services", h.ServiceHandler)
		r.Post("/print", h.PrintHandler)
		r.Post("/email", h.EmailHandler)
	})

	r.Post("/book", h.BookHandler)
	r.Post("/abandon", h.AbandonHandler)
	r.Post("/validate/expedient", h.ValidateExpedientHandler)
	r.Post("/validate/passengers", h.ValidatePassengersHandler)
}

func (h *Handler) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.metrics.IncRequests()
		next.ServeHTTP(w, r)
	})
}

// StateResponse tells the browser where the flow stands and which URL to
// load next.
type StateResponse struct {
	Phase      flow.Phase `json:"phase"`
	State      int        `json:"state"`
	AvailToken string     `json:"avail_token,omitempty"`
	Next       string     `json:"next,omitempty"`
}

func stateResponse(st *flow.State) StateResponse {
	resp := StateResponse{Phase: st.Phase, State: st.Counter, AvailToken: st.AvailToken}
	switch st.Phase {
	case flow.PhaseSearching:
		resp.Next = "/"
	case flow.PhaseAwaitingResults, flow.PhaseBrowsing:
		resp.Next = flowURL("/results", st)
	case flow.PhaseQuoting:
		resp.Next = flowURL("/quote", st)
	case flow.PhaseBooked:
		if st.Booking != nil && st.Booking.RedirectURL != "" {
			resp.Next = st.Booking.RedirectURL
		}
	}
	return resp
}

// flowURL carries the availability token and state counter so a reload
// can resume the session.
func flowURL(path string, st *flow.State) string {
	q := url.Values{}
	if st.AvailToken != "" {
		q.Set("availToken", st.AvailToken)
	}
	q.Set("state", strconv.Itoa(st.Counter))
	return path + "?" + q.Encode()
}

// resume validates the availToken/state pair of a reloaded URL. Requests
// without them are accepted as is.
func (h *Handler) resume(ctx context.Context, r *http.Request) error {
	query := r.URL.Query()
	raw := query.Get("state")
	if raw == "" {
		return nil
	}
	counter, err := strconv.Atoi(raw)
	if err != nil {
		return badRequest("state must be an integer")
	}
	_, err = h.nav.Resume(ctx, middleware.SessionID(ctx), query.Get("availToken"), counter)
	return err
}

// requestError is a client mistake reported with status 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// ParseFilter reads the filter and page of a results request.
func ParseFilter(r *http.Request) (types.FilterState, int, int, error) {
	query := r.URL.Query()
	var filter types.FilterState

	sortBy, err := types.ParseSortBy(query.Get("sort"))
	if err != nil {
		return filter, 0, 0, badRequest("%v", err)
	}
	filter.SortBy = sortBy

	if raw := query.Get("max_price"); raw != "" {
		maxPrice, err := strconv.ParseFloat(raw, 64)
		if err != nil || maxPrice < 0 {
			return filter, 0, 0, badRequest("max_price must be a non-negative number")
		}
		filter.MaxPrice = maxPrice
		filter.PriceCeiling = true
	}

	for _, raw := range splitList(query["stars"]) {
		stars, err := strconv.Atoi(raw)
		if err != nil || stars < 0 || stars > 5 {
			return filter, 0, 0, badRequest("stars must be integers between 0 and 5")
		}
		if filter.SelectedStars == nil {
			filter.SelectedStars = make(map[int]bool)
		}
		filter.SelectedStars[stars] = true
	}

	for _, meal := range splitList(query["meal"]) {
		if filter.SelectedMealPlans == nil {
			filter.SelectedMealPlans = make(map[string]bool)
		}
		filter.SelectedMealPlans[strings.ToUpper(meal)] = true
	}

	page, err := positiveInt(query.Get("page"), 1, "page")
	if err != nil {
		return filter, 0, 0, err
	}
	size, err := positiveInt(query.Get("size"), search.DefaultPageSize, "size")
	if err != nil {
		return filter, 0, 0, err
	}
	if size > search.FetchSize {
		return filter, 0, 0, badRequest("size must not exceed %d", search.FetchSize)
	}
	return filter, page, size, nil
}

// splitList accepts both repeated parameters and comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func positiveInt(raw string, def int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, badRequest("%s must be a positive integer", name)
	}
	return n, nil
}

// ExtractIP extracts the client IP from the request.
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr.
func ExtractIP(r *http.Request) string {
	// Check X-Forwarded-For (first IP in the list)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr (strip port)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// statusFor maps an error to its HTTP status and the message shown to the
// visitor.
func statusFor(err error) (int, string) {
	var (
		reqErr *requestError
		bizErr *proxy.BusinessError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.Is(err, flow.ErrSellingDenied) && errors.As(err, &bizErr):
		return http.StatusForbidden, bizErr.Message
	case errors.As(err, &bizErr):
		return http.StatusUnprocessableEntity, bizErr.Message
	case errors.Is(err, flow.ErrNoResults):
		return http.StatusNotFound, flow.NoResultsMessage
	case errors.Is(err, flow.ErrUnknownBudget):
		return http.StatusNotFound, "package not found"
	case errors.Is(err, flow.ErrRoomsIncomplete), errors.Is(err, flow.ErrInvalidRoom),
		errors.Is(err, search.ErrInvalidPage), errors.Is(err, types.ErrInvalidPassenger):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, flow.ErrStaleResponse):
		return http.StatusConflict, "superseded by a newer request"
	case errors.Is(err, flow.ErrStaleState):
		return http.StatusConflict, "this page is out of date, please reload"
	case errors.Is(err, flow.ErrWrongPhase), errors.Is(err, flow.ErrInvalidTransition),
		errors.Is(err, flow.ErrNoSearchParams):
		return http.StatusConflict, err.Error()
	case errors.Is(err, proxy.ErrTimeout), errors.Is(err, loader.ErrTimeout):
		return http.StatusGatewayTimeout, "the tour operator did not answer in time"
	case errors.Is(err, proxy.ErrUnavailable):
		return http.StatusBadGateway, "the tour operator is unavailable"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}

// fail logs err and writes it as a JSON error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	attrs := []any{
		"request_id", middleware.RequestID(r.Context()),
		"session_id", middleware.SessionID(r.Context()),
		"op", op,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Debug("request rejected", attrs...)
	}
	writeError(w, status, msg)
}

// writeJSON writes v as a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Can't change status after WriteHeader, just log
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
