package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alex-user-go/holidays/internal/inflight"
	"github.com/alex-user-go/holidays/internal/obs"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/search/cache"
	"github.com/alex-user-go/holidays/internal/search/types"
	"github.com/alex-user-go/holidays/internal/store"
)

var (
	ErrNoResults      = errors.New("no results")
	ErrStaleResponse  = errors.New("response superseded by a newer request")
	ErrStaleState     = errors.New("state does not match the current session")
	ErrUnknownBudget  = errors.New("unknown budget")
	ErrSellingDenied  = errors.New("selling not allowed")
	ErrNoSearchParams = errors.New("no search parameters")
)

// Messages persisted as one-shot notices for the search page.
const (
	NoResultsMessage    = "No packages were found for your search. Please try different dates or destinations."
	SearchFailedMessage = "The search could not be completed. Please try again."
)

// Backend is the subset of the proxy client the flow depends on.
type Backend interface {
	SearchPackages(ctx context.Context, req proxy.SearchRequest) (*proxy.SearchResponse, error)
	PaginatePackages(ctx context.Context, req proxy.PaginateRequest) (*proxy.PaginateResponse, error)
	PackageDetails(ctx context.Context, ref proxy.BudgetRef) (*proxy.DetailsResponse, error)
	CheckAllowedSelling(ctx context.Context) (*proxy.SellingResponse, error)
	PrepareQuote(ctx context.Context, ref proxy.BudgetRef) (*proxy.QuoteResponse, error)
	DelayedQuote(ctx context.Context, req proxy.DelayedQuoteRequest) (*proxy.DelayedQuoteResponse, error)
	UpdateOptionalService(ctx context.Context, req proxy.ServiceRequest) (*proxy.ServiceResponse, error)
	BookPackage(ctx context.Context, bookingData map[string]any) (*proxy.BookingResponse, error)
	Destinations(ctx context.Context, originCode string) ([]proxy.Location, error)
	Origins(ctx context.Context, destinationCode string) ([]proxy.Location, error)
	ValidateExpedient(ctx context.Context, expedient string) (*proxy.ValidationResponse, error)
	ValidatePassengers(ctx context.Context, passengers []map[string]any) (*proxy.PassengerValidation, error)
	PrintQuote(ctx context.Context, quoteData map[string]any) (*proxy.PrintResponse, error)
	SendQuoteEmail(ctx context.Context, emailData map[string]any) error
}

// Config holds the Navigator's collaborators.
type Config struct {
	Backend Backend
	// Sessions keeps per-visitor flow state; entries expire after SessionTTL.
	Sessions   store.Store
	SessionTTL time.Duration
	// Durable keeps values that outlive a session, like the last search.
	Durable store.Store
	Cache   *cache.Cache
	Metrics *obs.Metrics
	Logger  *slog.Logger
}

// Navigator drives the booking flow of every visitor. Each operation
// loads the visitor's State, applies one transition and persists it.
type Navigator struct {
	backend    Backend
	sessions   store.Store
	sessionTTL time.Duration
	durable    store.Store
	cache      *cache.Cache
	guard      *inflight.Guard
	locks      *sessionLocks
	metrics    *obs.Metrics
	logger     *slog.Logger
}

// NewNavigator creates a Navigator.
func NewNavigator(cfg Config) *Navigator {
	n := &Navigator{
		backend:    cfg.Backend,
		sessions:   cfg.Sessions,
		sessionTTL: cfg.SessionTTL,
		durable:    cfg.Durable,
		cache:      cfg.Cache,
		locks:      newSessionLocks(),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if n.durable == nil {
		n.durable = n.sessions
	}
	n.guard = inflight.New(n.dropStale)
	return n
}

func stateKey(sessionID string) string  { return "session:" + sessionID + ":state" }
func noticeKey(sessionID string) string { return "session:" + sessionID + ":notice" }
func lastSearchKey(sessionID string) string {
	return "search:" + sessionID + ":params"
}

func (n *Navigator) dropStale(key string) {
	n.metrics.IncStaleDropped()
	n.logger.Debug("dropped stale response", "key", key)
}

func (n *Navigator) load(ctx context.Context, sessionID string) (*State, error) {
	st, err := store.GetJSON[*State](ctx, n.sessions, stateKey(sessionID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && st == nil) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return st, nil
}

func (n *Navigator) save(ctx context.Context, sessionID string, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	if err := store.SetJSON(ctx, n.sessions, stateKey(sessionID), st, n.sessionTTL); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// cancel aborts any in-flight request of the session under key and makes
// its response stale.
func (n *Navigator) cancel(ctx context.Context, key string) {
	tk, _ := n.guard.Begin(ctx, key)
	tk.Done()
}

// State returns the visitor's current state.
func (n *Navigator) State(ctx context.Context, sessionID string) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()
	return n.load(ctx, sessionID)
}

// SubmitSearch discards any previous journey and records a new search. The
// returned state carries the token and counter for the results URL.
func (n *Navigator) SubmitSearch(ctx context.Context, sessionID string, params types.SearchParams) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.SetSearchParams(params); err != nil {
		return nil, err
	}

	n.cancel(ctx, resultsKey(sessionID))
	n.cancel(ctx, pricesKey(sessionID))
	n.cache.InvalidatePrefix(sessionID)
	_ = n.sessions.Delete(ctx, noticeKey(sessionID))

	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	if err := store.SetJSON(ctx, n.durable, lastSearchKey(sessionID), params, 0); err != nil {
		n.logger.Warn("failed to persist last search", "session_id", sessionID, "error", err)
	}

	n.metrics.IncSearches()
	n.logger.Info("search submitted",
		"session_id", sessionID,
		"origin", params.OriginCode,
		"destination", params.DestinationCode,
		"start_date", params.StartDate,
		"nights", params.NumNights,
		"rooms", len(params.Rooms),
	)
	return st, nil
}

// LastSearch returns the most recent search parameters of the visitor,
// used to pre-fill the search form.
func (n *Navigator) LastSearch(ctx context.Context, sessionID string) (*types.SearchParams, error) {
	p, err := store.GetJSON[types.SearchParams](ctx, n.durable, lastSearchKey(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// TakeNotice returns and clears the one-shot message left by a failed
// search. An empty string means there is none.
func (n *Navigator) TakeNotice(ctx context.Context, sessionID string) (string, error) {
	raw, err := store.Take(ctx, n.sessions, noticeKey(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Resume checks that the availability token and counter carried by a
// reloaded URL match the stored state, so the page can continue without
// searching again.
func (n *Navigator) Resume(ctx context.Context, sessionID, availToken string, counter int) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Phase == PhaseSearching {
		return nil, fmt.Errorf("%w: no active search", ErrStaleState)
	}
	if availToken != st.AvailToken || counter != st.Counter {
		n.logger.Info("rejected stale resume",
			"session_id", sessionID,
			"state", counter,
			"current_state", st.Counter,
		)
		return nil, fmt.Errorf("%w: state %d, current %d", ErrStaleState, counter, st.Counter)
	}
	return st, nil
}

// Abandon clears the visitor's journey.
func (n *Navigator) Abandon(ctx context.Context, sessionID string) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.Reset()

	n.cancel(ctx, resultsKey(sessionID))
	n.cancel(ctx, pricesKey(sessionID))
	n.cancel(ctx, quotePriceKey(sessionID))
	n.cache.InvalidatePrefix(sessionID)

	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	n.logger.Info("flow abandoned", "session_id", sessionID)
	return st, nil
}

// Destinations lists destinations, optionally reachable from origin.
func (n *Navigator) Destinations(ctx context.Context, originCode string) ([]proxy.Location, error) {
	locs, err := n.backend.Destinations(ctx, originCode)
	if err != nil {
		n.proxyFailed("destinations", err)
		return nil, err
	}
	return locs, nil
}

// Origins lists origins, optionally serving destination.
func (n *Navigator) Origins(ctx context.Context, destinationCode string) ([]proxy.Location, error) {
	locs, err := n.backend.Origins(ctx, destinationCode)
	if err != nil {
		n.proxyFailed("origins", err)
		return nil, err
	}
	return locs, nil
}

func (n *Navigator) proxyFailed(op string, err error) {
	var bizErr *proxy.BusinessError
	if errors.As(err, &bizErr) {
		n.logger.Info("proxy refused request", "op", op, "message", bizErr.Message)
		return
	}
	n.metrics.IncProxyErrors()
	n.logger.Warn("proxy call failed", "op", op, "error", err)
}
