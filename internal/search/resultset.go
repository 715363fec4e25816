package search

import (
	"github.com/alex-user-go/holidays/internal/search/types"
)

// ResultSet is one fetched and deduplicated search response. It is immutable
// once built and safe to share between requests.
type ResultSet struct {
	AvailToken  string
	Records     []types.ResultRecord
	Hotels      map[string]types.Hotel
	Flights     []map[string]any
	ObservedMax float64
	Dropped     int
	Unpriced    int
}

// NewResultSet deduplicates budgets against the hotel catalog.
func NewResultSet(availToken string, budgets []types.Budget, hotels []types.Hotel, flights []map[string]any) *ResultSet {
	catalog := make(map[string]types.Hotel, len(hotels))
	for _, h := range hotels {
		catalog[h.Code] = h
	}

	dedup := Deduplicate(budgets, catalog)
	return &ResultSet{
		AvailToken:  availToken,
		Records:     dedup.Records,
		Hotels:      catalog,
		Flights:     flights,
		ObservedMax: ObservedMax(dedup.Records),
		Dropped:     dedup.Dropped,
		Unpriced:    dedup.Unpriced,
	}
}

// Empty reports whether no hotel survived deduplication.
func (rs *ResultSet) Empty() bool {
	return len(rs.Records) == 0
}

// DefaultFilter returns a filter whose price ceiling sits at the observed max.
func (rs *ResultSet) DefaultFilter() types.FilterState {
	return types.FilterState{SortBy: types.SortPriceAsc, MaxPrice: rs.ObservedMax}
}

// Find returns the record for a budget id.
func (rs *ResultSet) Find(budgetID string) (types.ResultRecord, bool) {
	for _, r := range rs.Records {
		if r.BudgetID == budgetID {
			return r, true
		}
	}
	return types.ResultRecord{}, false
}

// View is one visible page over a filtered and sorted result set.
type View struct {
	Records      []types.ResultRecord `json:"records"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	TotalPages   int                  `json:"total_pages"`
	TotalRecords int                  `json:"total_records"`
	Filter       types.FilterState    `json:"filter"`
	Facets       types.Facets         `json:"facets"`
}

// View applies state and returns the requested page. Without a chosen
// ceiling MaxPrice is set to the observed max.
func (rs *ResultSet) View(state types.FilterState, pageNumber, pageSize int) (*View, error) {
	if !state.PriceCeiling {
		state.MaxPrice = rs.ObservedMax
	}
	if state.SortBy == "" {
		state.SortBy = types.SortPriceAsc
	}

	filtered := Apply(rs.Records, state, rs.ObservedMax)
	page, err := Page(filtered, pageNumber, pageSize)
	if err != nil {
		return nil, err
	}

	return &View{
		Records:      page,
		Page:         pageNumber,
		PageSize:     pageSize,
		TotalPages:   TotalPages(len(filtered), pageSize),
		TotalRecords: len(filtered),
		Filter:       state,
		Facets:       BuildFacets(rs.Records),
	}, nil
}

// PatchPrices returns a copy of the set with refreshed prices keyed by budget
// id. Records without a patch keep their current price.
func (rs *ResultSet) PatchPrices(availToken string, prices map[string]float64) *ResultSet {
	patched := *rs
	patched.Records = make([]types.ResultRecord, len(rs.Records))
	copy(patched.Records, rs.Records)
	for i, r := range patched.Records {
		if p, ok := prices[r.BudgetID]; ok {
			patched.Records[i].Price = p
			patched.Records[i].PriceResolved = true
		}
	}
	if availToken != "" {
		patched.AvailToken = availToken
	}
	patched.ObservedMax = ObservedMax(patched.Records)
	patched.Unpriced = 0
	for _, r := range patched.Records {
		if !r.PriceResolved {
			patched.Unpriced++
		}
	}
	return &patched
}
