package flow

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/alex-user-go/holidays/internal/loader"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/search"
	"github.com/alex-user-go/holidays/internal/search/types"
)

func resultsKey(sessionID string) string { return "results:" + sessionID }
func pricesKey(sessionID string) string  { return "prices:" + sessionID }

// LoadResults runs the search recorded by SubmitSearch. Only the most
// recent request of a session may apply its response; an older one returns
// ErrStaleResponse. An empty or failed search leaves a one-shot notice and
// returns the flow to SEARCHING.
//
// In BROWSING it returns the current result set without searching again.
func (n *Navigator) LoadResults(ctx context.Context, sessionID string) (*search.ResultSet, *State, error) {
	unlock := n.locks.lock(sessionID)

	st, err := n.load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	switch st.Phase {
	case PhaseBrowsing:
		defer unlock()
		rs, err := n.resultSet(ctx, sessionID, st)
		return rs, st, err
	case PhaseAwaitingResults:
	default:
		unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongPhase, st.Phase)
	}
	if st.SearchParams == nil {
		unlock()
		return nil, nil, ErrNoSearchParams
	}

	params := *st.SearchParams
	key := resultsKey(sessionID)
	tk, fetchCtx := n.guard.Begin(ctx, key)
	unlock()
	defer tk.Done()

	resp, fetchErr := n.backend.SearchPackages(fetchCtx, proxy.SearchRequest{
		Params:    params,
		ItemCount: search.FetchSize,
	})

	unlock = n.locks.lock(sessionID)
	defer unlock()

	if !tk.Current() {
		n.dropStale(key)
		return nil, nil, ErrStaleResponse
	}
	st, err = n.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if st.Phase != PhaseAwaitingResults {
		n.dropStale(key)
		return nil, nil, ErrStaleResponse
	}

	if fetchErr != nil {
		n.proxyFailed("search_packages", fetchErr)
		msg := SearchFailedMessage
		var bizErr *proxy.BusinessError
		if errors.As(fetchErr, &bizErr) {
			msg = bizErr.Message
		}
		return nil, st, n.failSearch(ctx, sessionID, st, msg, fetchErr)
	}

	rs := search.NewResultSet(resp.AvailToken, resp.Budgets, resp.Hotels, resp.Flights)
	if rs.Empty() {
		return nil, st, n.failSearch(ctx, sessionID, st, NoResultsMessage, ErrNoResults)
	}

	if err := st.ShowResults(resp.AvailToken); err != nil {
		return nil, nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, nil, err
	}
	n.cache.Put(n.cache.Key(sessionID, st.AvailToken), rs)

	n.logger.Info("search results loaded",
		"session_id", sessionID,
		"budgets", len(resp.Budgets),
		"hotels", len(rs.Records),
		"dropped", rs.Dropped,
		"unpriced", rs.Unpriced,
	)
	return rs, st, nil
}

// failSearch persists the notice and returns the flow to SEARCHING.
func (n *Navigator) failSearch(ctx context.Context, sessionID string, st *State, message string, cause error) error {
	if err := st.FailSearch(); err != nil {
		return err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return err
	}
	if err := n.sessions.Set(ctx, noticeKey(sessionID), []byte(message), n.sessionTTL); err != nil {
		n.logger.Warn("failed to persist notice", "session_id", sessionID, "error", err)
	}
	n.logger.Info("search returned to form", "session_id", sessionID, "reason", cause)
	if errors.Is(cause, ErrNoResults) {
		return cause
	}
	return fmt.Errorf("search: %w", cause)
}

// resultSet returns the session's cached result set. An evicted set is
// fetched again with the held token and the cache-preferring flag, so the
// proxy does not repeat the search. The caller holds the session lock.
func (n *Navigator) resultSet(ctx context.Context, sessionID string, st *State) (*search.ResultSet, error) {
	if st.SearchParams == nil {
		return nil, ErrNoSearchParams
	}

	key := n.cache.Key(sessionID, st.AvailToken)
	rs, hit, err := n.cache.GetOrFetch(ctx, key, func() (*search.ResultSet, error) {
		resp, err := n.backend.SearchPackages(ctx, proxy.SearchRequest{
			Params:     *st.SearchParams,
			ItemCount:  search.FetchSize,
			AvailToken: st.AvailToken,
			FromCache:  true,
		})
		if err != nil {
			return nil, err
		}
		return search.NewResultSet(cmp.Or(resp.AvailToken, st.AvailToken), resp.Budgets, resp.Hotels, resp.Flights), nil
	})
	if err != nil {
		n.proxyFailed("search_packages", err)
		return nil, err
	}
	if hit {
		n.metrics.IncCacheHits()
	}

	if st.RefreshToken(rs.AvailToken) {
		if err := n.save(ctx, sessionID, st); err != nil {
			return nil, err
		}
		n.cache.Put(n.cache.Key(sessionID, st.AvailToken), rs)
	}
	return rs, nil
}

// Results returns one page of the session's results under filter.
func (n *Navigator) Results(ctx context.Context, sessionID string, filter types.FilterState, page, pageSize int) (*search.View, *State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := st.require(PhaseBrowsing); err != nil {
		return nil, nil, err
	}

	rs, err := n.resultSet(ctx, sessionID, st)
	if err != nil {
		return nil, nil, err
	}
	view, err := rs.View(filter, page, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return view, st, nil
}

// RefreshResultPrices fetches the authoritative prices of the session's
// results and patches the cached set. It is the background half of the
// delayed price load on the results page.
func (n *Navigator) RefreshResultPrices(ctx context.Context, sessionID string) (*loader.Refinement, error) {
	unlock := n.locks.lock(sessionID)
	st, err := n.load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	if err := st.require(PhaseBrowsing); err != nil {
		unlock()
		return nil, err
	}
	token := st.AvailToken

	key := pricesKey(sessionID)
	tk, fetchCtx := n.guard.Begin(ctx, key)
	unlock()
	defer tk.Done()

	resp, err := n.backend.PaginatePackages(fetchCtx, proxy.PaginateRequest{
		AvailToken:  token,
		PageNumber:  1,
		RowsPerPage: search.FetchSize,
		Force:       true,
	})

	unlock = n.locks.lock(sessionID)
	defer unlock()

	if !tk.Current() {
		n.dropStale(key)
		return nil, ErrStaleResponse
	}
	if err != nil {
		n.metrics.IncPriceRefreshFailures()
		n.proxyFailed("paginate_packages", err)
		return nil, err
	}

	st, err = n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Phase != PhaseBrowsing || st.AvailToken != token {
		n.dropStale(key)
		return nil, ErrStaleResponse
	}
	rs, err := n.resultSet(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(resp.Budgets))
	for _, b := range resp.Budgets {
		id := search.BudgetID(b)
		if price, ok := search.Price(b); ok && id != "" {
			prices[id] = price
		}
	}

	patched := rs.PatchPrices(resp.AvailToken, prices)
	if st.RefreshToken(patched.AvailToken) {
		if err := n.save(ctx, sessionID, st); err != nil {
			return nil, err
		}
	}
	n.cache.Put(n.cache.Key(sessionID, st.AvailToken), patched)

	return &loader.Refinement{AvailToken: st.AvailToken, Prices: prices}, nil
}

// SelectRoom records the room chosen for one requested room of a budget.
func (n *Navigator) SelectRoom(ctx context.Context, sessionID, budgetID string, roomIndex int, opt RoomOption) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.require(PhaseBrowsing); err != nil {
		return nil, err
	}
	rs, err := n.resultSet(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}
	if _, ok := rs.Find(budgetID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBudget, budgetID)
	}
	if err := st.SelectRoom(budgetID, roomIndex, opt); err != nil {
		return nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ConfirmPackage selects a budget for quoting. Every requested room must
// have a choice. The sales-permission gate is consulted first: an explicit
// refusal stops the selection, a failure to reach it does not.
func (n *Navigator) ConfirmPackage(ctx context.Context, sessionID, budgetID string) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.require(PhaseBrowsing); err != nil {
		return nil, err
	}
	rs, err := n.resultSet(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}
	rec, ok := rs.Find(budgetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBudget, budgetID)
	}
	if !st.RoomsComplete(budgetID) {
		return nil, ErrRoomsIncomplete
	}

	if err := n.checkSelling(ctx, sessionID); err != nil {
		return nil, err
	}

	pkg := SelectedPackage{
		Record:       rec,
		Budget:       rec.Raw,
		Hotel:        rs.Hotels[rec.HotelCode],
		Flights:      rs.Flights,
		SearchParams: *st.SearchParams,
	}
	if err := st.SetSelectedPackage(pkg); err != nil {
		return nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}

	n.logger.Info("package selected",
		"session_id", sessionID,
		"budget_id", budgetID,
		"hotel_code", rec.HotelCode,
		"price", rec.Price,
	)
	return st, nil
}

func (n *Navigator) checkSelling(ctx context.Context, sessionID string) error {
	resp, err := n.backend.CheckAllowedSelling(ctx)
	if err != nil {
		var bizErr *proxy.BusinessError
		if errors.As(err, &bizErr) {
			return fmt.Errorf("%w: %w", ErrSellingDenied, err)
		}
		n.metrics.IncProxyErrors()
		n.logger.Warn("selling check unavailable, allowing", "session_id", sessionID, "error", err)
		return nil
	}
	if !resp.Allowed {
		return fmt.Errorf("%w: %w", ErrSellingDenied, &proxy.BusinessError{
			Action:  proxy.ActionCheckAllowedSelling,
			Message: cmp.Or(resp.Message, "Selling is currently not allowed."),
		})
	}
	return nil
}

// PackageDetails enriches one budget of the session with hotel details.
func (n *Navigator) PackageDetails(ctx context.Context, sessionID, budgetID string) (map[string]any, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var (
		rec types.ResultRecord
		rs  *search.ResultSet
	)
	switch st.Phase {
	case PhaseBrowsing:
		rs, err = n.resultSet(ctx, sessionID, st)
		if err != nil {
			return nil, err
		}
		r, ok := rs.Find(budgetID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBudget, budgetID)
		}
		rec = r
	case PhaseQuoting:
		if st.SelectedPackage == nil || st.SelectedPackage.Record.BudgetID != budgetID {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBudget, budgetID)
		}
		rec = st.SelectedPackage.Record
	default:
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, st.Phase)
	}

	resp, err := n.backend.PackageDetails(ctx, proxy.BudgetRef{
		AvailToken:   st.AvailToken,
		BudgetID:     rec.BudgetID,
		HotelCode:    rec.HotelCode,
		ProviderCode: rec.ProviderCode,
	})
	if err != nil {
		n.proxyFailed("get_package_details", err)
		return nil, err
	}
	if st.RefreshToken(resp.AvailToken) {
		if err := n.save(ctx, sessionID, st); err != nil {
			return nil, err
		}
		if rs != nil {
			n.cache.Put(n.cache.Key(sessionID, st.AvailToken), rs)
		}
	}
	return resp.HotelDetails, nil
}
