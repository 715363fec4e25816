package flow_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/obs"
	"github.com/alex-user-go/holidays/internal/proxy"
	"github.com/alex-user-go/holidays/internal/search/cache"
	"github.com/alex-user-go/holidays/internal/search/types"
	"github.com/alex-user-go/holidays/internal/store"
)

// fakeBackend answers every action from its function fields and records
// the requests it received.
type fakeBackend struct {
	mu       sync.Mutex
	searches []proxy.SearchRequest
	bookings []map[string]any
	services []proxy.ServiceRequest

	search    func(ctx context.Context, req proxy.SearchRequest) (*proxy.SearchResponse, error)
	paginate  func(ctx context.Context, req proxy.PaginateRequest) (*proxy.PaginateResponse, error)
	selling   func(ctx context.Context) (*proxy.SellingResponse, error)
	quote     func(ctx context.Context, ref proxy.BudgetRef) (*proxy.QuoteResponse, error)
	delayed   func(ctx context.Context, req proxy.DelayedQuoteRequest) (*proxy.DelayedQuoteResponse, error)
	service   func(ctx context.Context, req proxy.ServiceRequest) (*proxy.ServiceResponse, error)
	book      func(ctx context.Context, data map[string]any) (*proxy.BookingResponse, error)
	expedient func(ctx context.Context, v string) (*proxy.ValidationResponse, error)
}

func sampleBudgets() []types.Budget {
	return []types.Budget{
		{"budgetId": "b1", "hotelCode": "H1", "priceBreakdown": map[string]any{"totalAmount": 900.0}, "mealPlanCode": "AI"},
		{"budgetId": "b2", "hotelCode": "H2", "priceBreakdown": map[string]any{"totalAmount": 700.0}, "mealPlanCode": "HB"},
		{"budgetId": "b3", "hotelCode": "H1", "priceBreakdown": map[string]any{"totalAmount": 850.0}, "mealPlanCode": "AI"},
	}
}

func sampleHotels() []types.Hotel {
	return []types.Hotel{
		{Code: "H1", Name: "Grand Palace", Category: "5EST"},
		{Code: "H2", Name: "Beach Inn", Category: "3EST"},
	}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		search: func(ctx context.Context, req proxy.SearchRequest) (*proxy.SearchResponse, error) {
			token := "tok-1"
			if req.AvailToken != "" {
				token = req.AvailToken
			}
			return &proxy.SearchResponse{AvailToken: token, Budgets: sampleBudgets(), Hotels: sampleHotels()}, nil
		},
		paginate: func(ctx context.Context, req proxy.PaginateRequest) (*proxy.PaginateResponse, error) {
			return &proxy.PaginateResponse{AvailToken: req.AvailToken, Budgets: sampleBudgets(), Hotels: sampleHotels()}, nil
		},
		selling: func(ctx context.Context) (*proxy.SellingResponse, error) {
			return &proxy.SellingResponse{Allowed: true}, nil
		},
		quote: func(ctx context.Context, ref proxy.BudgetRef) (*proxy.QuoteResponse, error) {
			return &proxy.QuoteResponse{AvailToken: "tok-2", QuoteToken: "q-" + ref.BudgetID}, nil
		},
		delayed: func(ctx context.Context, req proxy.DelayedQuoteRequest) (*proxy.DelayedQuoteResponse, error) {
			return &proxy.DelayedQuoteResponse{AvailToken: req.AvailToken, TotalAmount: 880}, nil
		},
		service: func(ctx context.Context, req proxy.ServiceRequest) (*proxy.ServiceResponse, error) {
			return &proxy.ServiceResponse{AvailToken: req.AvailToken, TotalAmount: 920}, nil
		},
		book: func(ctx context.Context, data map[string]any) (*proxy.BookingResponse, error) {
			return &proxy.BookingResponse{BookingReference: "BK-1"}, nil
		},
		expedient: func(ctx context.Context, v string) (*proxy.ValidationResponse, error) {
			return &proxy.ValidationResponse{Valid: true}, nil
		},
	}
}

func (f *fakeBackend) Searches() []proxy.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proxy.SearchRequest(nil), f.searches...)
}

func (f *fakeBackend) SearchPackages(ctx context.Context, req proxy.SearchRequest) (*proxy.SearchResponse, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	f.mu.Unlock()
	return f.search(ctx, req)
}

func (f *fakeBackend) PaginatePackages(ctx context.Context, req proxy.PaginateRequest) (*proxy.PaginateResponse, error) {
	return f.paginate(ctx, req)
}

func (f *fakeBackend) PackageDetails(ctx context.Context, ref proxy.BudgetRef) (*proxy.DetailsResponse, error) {
	return &proxy.DetailsResponse{AvailToken: ref.AvailToken, HotelDetails: map[string]any{"code": ref.HotelCode}}, nil
}

func (f *fakeBackend) CheckAllowedSelling(ctx context.Context) (*proxy.SellingResponse, error) {
	return f.selling(ctx)
}

func (f *fakeBackend) PrepareQuote(ctx context.Context, ref proxy.BudgetRef) (*proxy.QuoteResponse, error) {
	return f.quote(ctx, ref)
}

func (f *fakeBackend) DelayedQuote(ctx context.Context, req proxy.DelayedQuoteRequest) (*proxy.DelayedQuoteResponse, error) {
	return f.delayed(ctx, req)
}

func (f *fakeBackend) UpdateOptionalService(ctx context.Context, req proxy.ServiceRequest) (*proxy.ServiceResponse, error) {
	f.mu.Lock()
	f.services = append(f.services, req)
	f.mu.Unlock()
	return f.service(ctx, req)
}

func (f *fakeBackend) BookPackage(ctx context.Context, data map[string]any) (*proxy.BookingResponse, error) {
	f.mu.Lock()
	f.bookings = append(f.bookings, data)
	f.mu.Unlock()
	return f.book(ctx, data)
}

func (f *fakeBackend) Destinations(ctx context.Context, originCode string) ([]proxy.Location, error) {
	return []proxy.Location{{Code: "CUN", Name: "Cancun"}}, nil
}

func (f *fakeBackend) Origins(ctx context.Context, destinationCode string) ([]proxy.Location, error) {
	return []proxy.Location{{Code: "MAD", Name: "Madrid"}}, nil
}

func (f *fakeBackend) ValidateExpedient(ctx context.Context, expedient string) (*proxy.ValidationResponse, error) {
	return f.expedient(ctx, expedient)
}

func (f *fakeBackend) ValidatePassengers(ctx context.Context, passengers []map[string]any) (*proxy.PassengerValidation, error) {
	return &proxy.PassengerValidation{Valid: true}, nil
}

func (f *fakeBackend) PrintQuote(ctx context.Context, quoteData map[string]any) (*proxy.PrintResponse, error) {
	return &proxy.PrintResponse{PDFURL: "https://example.test/" + quoteData["quoteToken"].(string) + ".pdf"}, nil
}

func (f *fakeBackend) SendQuoteEmail(ctx context.Context, emailData map[string]any) error {
	return nil
}

type harness struct {
	nav     *flow.Navigator
	backend *fakeBackend
	cache   *cache.Cache
	store   *store.Memory
	metrics *obs.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.NewCache(time.Minute)
	t.Cleanup(c.Close)

	h := &harness{
		backend: newFakeBackend(),
		cache:   c,
		store:   store.NewMemory(),
		metrics: obs.NewMetrics(logger),
	}
	h.nav = flow.NewNavigator(flow.Config{
		Backend:    h.backend,
		Sessions:   h.store,
		SessionTTL: time.Hour,
		Cache:      c,
		Metrics:    h.metrics,
		Logger:     logger,
	})
	return h
}

// browse submits a one-room search and loads its results.
func (h *harness) browse(t *testing.T, sid string) *flow.State {
	t.Helper()
	ctx := context.Background()
	_, err := h.nav.SubmitSearch(ctx, sid, searchParams(1))
	require.NoError(t, err)
	_, st, err := h.nav.LoadResults(ctx, sid)
	require.NoError(t, err)
	return st
}

// quote moves a browsing session to QUOTING on budget b3 with a prepared quote.
func (h *harness) quote(t *testing.T, sid string) *flow.State {
	t.Helper()
	ctx := context.Background()
	h.browse(t, sid)
	_, err := h.nav.SelectRoom(ctx, sid, "b3", 0, flow.RoomOption{Code: "DBL", Name: "Double"})
	require.NoError(t, err)
	_, err = h.nav.ConfirmPackage(ctx, sid, "b3")
	require.NoError(t, err)
	st, err := h.nav.OpenQuote(ctx, sid)
	require.NoError(t, err)
	return st
}
