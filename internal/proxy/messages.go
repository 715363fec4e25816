package proxy

import (
	"github.com/alex-user-go/holidays/internal/search/types"
)

// SearchRequest starts or repeats a package search.
type SearchRequest struct {
	Params    types.SearchParams
	ItemCount int
	// AvailToken and FromCache are set when repeating a search for an
	// existing session, so the proxy can serve it from its cache.
	AvailToken string
	FromCache  bool
}

// SearchResponse is the first page of a search.
type SearchResponse struct {
	AvailToken   string           `json:"availToken"`
	Budgets      []types.Budget   `json:"budgets"`
	Hotels       []types.Hotel    `json:"hotels"`
	Flights      []map[string]any `json:"flights"`
	TotalBudgets int              `json:"totalBudgets"`
}

// PaginateRequest fetches another server page. Force asks the proxy to
// recompute prices instead of returning provisional ones.
type PaginateRequest struct {
	AvailToken  string
	PageNumber  int
	RowsPerPage int
	Force       bool
}

// PaginateResponse is one server page.
type PaginateResponse struct {
	AvailToken string         `json:"availToken"`
	Budgets    []types.Budget `json:"budgets"`
	Hotels     []types.Hotel  `json:"hotels"`
}

// BudgetRef identifies one budget inside an availability session.
type BudgetRef struct {
	AvailToken   string
	BudgetID     string
	HotelCode    string
	ProviderCode string
}

// DetailsResponse enriches one hotel's budget.
type DetailsResponse struct {
	AvailToken   string         `json:"availToken"`
	HotelDetails map[string]any `json:"hotelDetails"`
}

// SellingResponse is the answer of the sales-permission gate.
type SellingResponse struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message"`
}

// QuoteResponse is a bookable quote created from a budget.
type QuoteResponse struct {
	AvailToken string         `json:"availToken"`
	QuoteToken string         `json:"quoteToken"`
	Quote      map[string]any `json:"quote"`
}

// DelayedQuoteRequest asks for the authoritative price of a quoted budget.
type DelayedQuoteRequest struct {
	BudgetID    string
	AvailToken  string
	ProductType string
}

// DelayedQuoteResponse carries the refined quote price. Reinit lists named
// client hooks to run after the refreshed fragments are applied.
type DelayedQuoteResponse struct {
	AvailToken    string   `json:"availToken"`
	TitleHTML     string   `json:"titleHtml"`
	BreakdownHTML string   `json:"breakdownHtml"`
	TotalAmount   Amount   `json:"totalAmount"`
	Reinit        []string `json:"reinit"`
}

// ServiceRequest toggles an optional add-on service.
type ServiceRequest struct {
	AvailToken string
	ServiceID  string
	Add        bool
}

// ServiceResponse is the new total after toggling a service.
type ServiceResponse struct {
	AvailToken  string `json:"availToken"`
	TotalAmount Amount `json:"totalAmount"`
}

// BookingResponse is returned by an accepted booking.
type BookingResponse struct {
	RedirectURL      string `json:"redirect_url"`
	BookingReference string `json:"bookingReference"`
}

// Location is one selectable origin or destination.
type Location struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ValidationResponse is the result of a single-field server validation.
type ValidationResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// PassengerValidation lists passengers already booked elsewhere.
type PassengerValidation struct {
	Valid      bool     `json:"valid"`
	Duplicates []string `json:"duplicates"`
}

// PrintResponse points at a generated quote PDF.
type PrintResponse struct {
	PDFURL string `json:"pdf_url"`
}
