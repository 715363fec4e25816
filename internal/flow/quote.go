package flow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/alex-user-go/holidays/internal/loader"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/search"
)

func quotePriceKey(sessionID string) string { return "quote-price:" + sessionID }
func expedientKey(sessionID string) string  { return "expedient:" + sessionID }
func passengersKey(sessionID string) string { return "passengers:" + sessionID }

// OpenQuote rebuilds the quote page from the stored package. The quote is
// prepared on the first call only; a reload returns the stored one.
func (n *Navigator) OpenQuote(ctx context.Context, sessionID string) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.require(PhaseQuoting); err != nil {
		return nil, err
	}
	if st.Quote != nil && st.Quote.Token != "" {
		return st, nil
	}

	pkg := st.SelectedPackage
	resp, err := n.backend.PrepareQuote(ctx, proxy.BudgetRef{
		AvailToken:   st.AvailToken,
		BudgetID:     pkg.Record.BudgetID,
		HotelCode:    pkg.Record.HotelCode,
		ProviderCode: pkg.Record.ProviderCode,
	})
	if err != nil {
		n.proxyFailed("prepare_quote", err)
		return nil, err
	}

	st.RefreshToken(resp.AvailToken)
	if err := st.SetQuote(resp.QuoteToken, resp.Quote, pkg.Record.Price); err != nil {
		return nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}

	n.metrics.IncQuotes()
	n.logger.Info("quote prepared", "session_id", sessionID, "budget_id", pkg.Record.BudgetID)
	return st, nil
}

// RefreshQuotePrice fetches the authoritative price of the quoted package.
// It is the background half of the delayed price load on the quote page.
func (n *Navigator) RefreshQuotePrice(ctx context.Context, sessionID string) (*loader.Refinement, error) {
	unlock := n.locks.lock(sessionID)
	st, err := n.load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	if err := st.require(PhaseQuoting); err != nil {
		unlock()
		return nil, err
	}
	budgetID := st.SelectedPackage.Record.BudgetID
	req := proxy.DelayedQuoteRequest{
		BudgetID:    budgetID,
		AvailToken:  st.AvailToken,
		ProductType: st.SelectedPackage.SearchParams.ProductType,
	}

	key := quotePriceKey(sessionID)
	tk, fetchCtx := n.guard.Begin(ctx, key)
	unlock()
	defer tk.Done()

	resp, err := n.backend.DelayedQuote(fetchCtx, req)

	unlock = n.locks.lock(sessionID)
	defer unlock()

	if !tk.Current() {
		n.dropStale(key)
		return nil, ErrStaleResponse
	}
	if err != nil {
		n.metrics.IncPriceRefreshFailures()
		n.proxyFailed("delayed_quote", err)
		return nil, err
	}

	st, err = n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Phase != PhaseQuoting || st.SelectedPackage.Record.BudgetID != budgetID {
		n.dropStale(key)
		return nil, ErrStaleResponse
	}

	total := float64(resp.TotalAmount)
	st.RefreshToken(resp.AvailToken)
	if err := st.SetQuotePrice(total, resp.TitleHTML, resp.BreakdownHTML); err != nil {
		return nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}

	return &loader.Refinement{
		AvailToken: st.AvailToken,
		Prices:     map[string]float64{budgetID: total},
		Reinit:     resp.Reinit,
	}, nil
}

// GoBack returns from the quote to the results. The search is repeated
// with the held availability token and the cache-preferring flag, never
// with a fresh token.
func (n *Navigator) GoBack(ctx context.Context, sessionID string) (*search.ResultSet, *State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := st.require(PhaseQuoting); err != nil {
		return nil, nil, err
	}
	if st.SearchParams == nil {
		return nil, nil, ErrNoSearchParams
	}

	n.cancel(ctx, quotePriceKey(sessionID))

	resp, err := n.backend.SearchPackages(ctx, proxy.SearchRequest{
		Params:     *st.SearchParams,
		ItemCount:  search.FetchSize,
		AvailToken: st.AvailToken,
		FromCache:  true,
	})
	if err != nil {
		n.proxyFailed("search_packages", err)
		return nil, nil, err
	}

	rs := search.NewResultSet(cmp.Or(resp.AvailToken, st.AvailToken), resp.Budgets, resp.Hotels, resp.Flights)
	if err := st.BackToResults(rs.AvailToken); err != nil {
		return nil, nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, nil, err
	}
	n.cache.Put(n.cache.Key(sessionID, st.AvailToken), rs)

	n.logger.Info("returned to results", "session_id", sessionID, "hotels", len(rs.Records))
	return rs, st, nil
}

// ServiceResult is the outcome of toggling an optional service. On failure
// Selected holds the reverted value.
type ServiceResult struct {
	ServiceID   string  `json:"service_id"`
	Selected    bool    `json:"selected"`
	TotalAmount float64 `json:"total_amount"`
	Reverted    bool    `json:"reverted"`
	Message     string  `json:"message,omitempty"`
}

// ToggleOptionalService adds or removes an add-on. When the proxy refuses
// or cannot be reached, the result is reverted and returned with the error.
func (n *Navigator) ToggleOptionalService(ctx context.Context, sessionID, serviceID string, add bool) (*ServiceResult, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.require(PhaseQuoting); err != nil {
		return nil, err
	}

	var current float64
	if st.Quote != nil {
		current = st.Quote.TotalAmount
	}

	resp, err := n.backend.UpdateOptionalService(ctx, proxy.ServiceRequest{
		AvailToken: st.AvailToken,
		ServiceID:  serviceID,
		Add:        add,
	})
	if err != nil {
		n.proxyFailed("update_optional_service", err)
		res := &ServiceResult{ServiceID: serviceID, Selected: !add, TotalAmount: current, Reverted: true}
		var bizErr *proxy.BusinessError
		if errors.As(err, &bizErr) {
			res.Message = bizErr.Message
		}
		return res, err
	}

	total := float64(resp.TotalAmount)
	st.RefreshToken(resp.AvailToken)
	if err := st.SetService(serviceID, add, total); err != nil {
		return nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	return &ServiceResult{ServiceID: serviceID, Selected: add, TotalAmount: total}, nil
}

// Book submits the booking. Any failure leaves the quote untouched for
// the visitor to retry; nothing proceeds automatically.
func (n *Navigator) Book(ctx context.Context, sessionID string, bookingData map[string]any) (*State, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.require(PhaseQuoting); err != nil {
		return nil, err
	}
	if st.Quote == nil || st.Quote.Token == "" {
		return nil, fmt.Errorf("%w: quote not prepared", ErrWrongPhase)
	}

	data := make(map[string]any, len(bookingData)+3)
	maps.Copy(data, bookingData)
	data["quoteToken"] = st.Quote.Token
	data["availToken"] = st.AvailToken
	data["budgetId"] = st.SelectedPackage.Record.BudgetID

	resp, err := n.backend.BookPackage(ctx, data)
	if err != nil {
		n.metrics.IncBookingFailures()
		n.proxyFailed("book_package", err)
		return nil, err
	}

	budgetID := st.SelectedPackage.Record.BudgetID
	if err := st.MarkBooked(Booking{Reference: resp.BookingReference, RedirectURL: resp.RedirectURL}); err != nil {
		return nil, err
	}
	if err := n.save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	n.cache.InvalidatePrefix(sessionID)

	n.metrics.IncBookings()
	n.logger.Info("booking accepted",
		"session_id", sessionID,
		"budget_id", budgetID,
		"reference", resp.BookingReference,
	)
	return st, nil
}

// ValidateExpedient checks an expedient number. A newer validation for the
// same visitor cancels this one, which then returns ErrStaleResponse.
func (n *Navigator) ValidateExpedient(ctx context.Context, sessionID, expedient string) (*proxy.ValidationResponse, error) {
	key := expedientKey(sessionID)
	tk, fetchCtx := n.guard.Begin(ctx, key)
	defer tk.Done()

	resp, err := n.backend.ValidateExpedient(fetchCtx, expedient)
	if err != nil {
		if !tk.Current() {
			n.dropStale(key)
			return nil, ErrStaleResponse
		}
		n.proxyFailed("validate_expedient", err)
		return nil, err
	}

	var out *proxy.ValidationResponse
	if !tk.Apply(func() { out = resp }) {
		return nil, ErrStaleResponse
	}
	return out, nil
}

// ValidatePassengers checks the passenger list for duplicates, with the
// same latest-wins rule as ValidateExpedient.
func (n *Navigator) ValidatePassengers(ctx context.Context, sessionID string, passengers []map[string]any) (*proxy.PassengerValidation, error) {
	key := passengersKey(sessionID)
	tk, fetchCtx := n.guard.Begin(ctx, key)
	defer tk.Done()

	resp, err := n.backend.ValidatePassengers(fetchCtx, passengers)
	if err != nil {
		if !tk.Current() {
			n.dropStale(key)
			return nil, ErrStaleResponse
		}
		n.proxyFailed("validate_passengers", err)
		return nil, err
	}

	var out *proxy.PassengerValidation
	if !tk.Apply(func() { out = resp }) {
		return nil, ErrStaleResponse
	}
	return out, nil
}

func (n *Navigator) quoteData(st *State, extra map[string]any) map[string]any {
	data := make(map[string]any, len(extra)+6)
	maps.Copy(data, extra)
	data["quoteToken"] = st.Quote.Token
	data["availToken"] = st.AvailToken
	data["budgetId"] = st.SelectedPackage.Record.BudgetID
	data["hotelName"] = st.SelectedPackage.Hotel.Name
	data["totalAmount"] = st.Quote.TotalAmount
	data["services"] = st.Quote.Services
	return data
}

func (n *Navigator) quotedState(ctx context.Context, sessionID string) (*State, error) {
	st, err := n.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := st.require(PhaseQuoting); err != nil {
		return nil, err
	}
	if st.Quote == nil || st.Quote.Token == "" {
		return nil, fmt.Errorf("%w: quote not prepared", ErrWrongPhase)
	}
	return st, nil
}

// PrintQuote renders the current quote as a PDF and returns its URL.
func (n *Navigator) PrintQuote(ctx context.Context, sessionID string, extra map[string]any) (string, error) {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.quotedState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	resp, err := n.backend.PrintQuote(ctx, n.quoteData(st, extra))
	if err != nil {
		n.proxyFailed("print_quote", err)
		return "", err
	}
	return resp.PDFURL, nil
}

// SendQuoteEmail mails the current quote.
func (n *Navigator) SendQuoteEmail(ctx context.Context, sessionID string, emailData map[string]any) error {
	unlock := n.locks.lock(sessionID)
	defer unlock()

	st, err := n.quotedState(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := n.backend.SendQuoteEmail(ctx, n.quoteData(st, emailData)); err != nil {
		n.proxyFailed("send_quote_email", err)
		return err
	}
	n.logger.Info("quote emailed", "session_id", sessionID)
	return nil
}
