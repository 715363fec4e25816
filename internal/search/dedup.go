package search

import (
	"github.com/alex-user-go/holidays/internal/search/types"
)

// DedupResult is the outcome of collapsing raw budgets into one record per hotel.
type DedupResult struct {
	// Records holds one entry per hotel code in first-occurrence order.
	Records []types.ResultRecord
	// Dropped counts budgets without a hotel reference.
	Dropped int
	// Unpriced counts kept records whose price could not be resolved.
	Unpriced int
}

// Deduplicate keeps the cheapest budget per hotel code. Ties keep the first
// one seen. A budget whose price cannot be resolved counts as price 0 and so
// wins against any priced duplicate.
func Deduplicate(budgets []types.Budget, catalog map[string]types.Hotel) DedupResult {
	var (
		result DedupResult
		index  = make(map[string]int)
	)

	for _, b := range budgets {
		normalized := normalizeBudget(b, catalog)
		if normalized == nil {
			result.Dropped++
			continue
		}

		// Dedup by hotel code, keep lowest price
		if i, ok := index[normalized.HotelCode]; ok {
			if normalized.Price < result.Records[i].Price {
				result.Records[i] = *normalized
			}
			continue
		}
		index[normalized.HotelCode] = len(result.Records)
		result.Records = append(result.Records, *normalized)
	}

	for _, r := range result.Records {
		if !r.PriceResolved {
			result.Unpriced++
		}
	}
	return result
}
