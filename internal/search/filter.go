package search

import (
	"cmp"
	"slices"

	"github.com/alex-user-go/holidays/internal/search/types"
)

// Apply filters and sorts records according to state. observedMax is the
// highest price in the unfiltered set; the price ceiling only applies when
// the user moved it below that value. Apply never mutates its input.
func Apply(records []types.ResultRecord, state types.FilterState, observedMax float64) []types.ResultRecord {
	priceActive := state.MaxPrice < observedMax

	out := make([]types.ResultRecord, 0, len(records))
	for _, r := range records {
		if priceActive && r.Price > state.MaxPrice {
			continue
		}
		if len(state.SelectedStars) > 0 && !state.SelectedStars[r.Stars] {
			continue
		}
		if len(state.SelectedMealPlans) > 0 && !state.SelectedMealPlans[r.MealPlanCode] {
			continue
		}
		out = append(out, r)
	}

	slices.SortStableFunc(out, compareFor(state.SortBy))
	return out
}

func compareFor(sortBy types.SortBy) func(a, b types.ResultRecord) int {
	switch sortBy {
	case types.SortPriceDesc:
		return func(a, b types.ResultRecord) int { return cmp.Compare(b.Price, a.Price) }
	case types.SortStarsDesc:
		return func(a, b types.ResultRecord) int { return cmp.Compare(b.Stars, a.Stars) }
	default:
		return func(a, b types.ResultRecord) int { return cmp.Compare(a.Price, b.Price) }
	}
}

// ObservedMax returns the highest price among records, 0 for an empty set.
func ObservedMax(records []types.ResultRecord) float64 {
	var highest float64
	for _, r := range records {
		highest = max(highest, r.Price)
	}
	return highest
}

// BuildFacets lists the price range, star ratings and meal plans present in records.
func BuildFacets(records []types.ResultRecord) types.Facets {
	facets := types.Facets{Stars: []int{}, MealPlans: []string{}}
	if len(records) == 0 {
		return facets
	}

	stars := make(map[int]bool)
	meals := make(map[string]bool)
	facets.MinPrice = records[0].Price
	for _, r := range records {
		facets.MinPrice = min(facets.MinPrice, r.Price)
		facets.MaxPrice = max(facets.MaxPrice, r.Price)
		if !stars[r.Stars] {
			stars[r.Stars] = true
			facets.Stars = append(facets.Stars, r.Stars)
		}
		if r.MealPlanCode != "" && !meals[r.MealPlanCode] {
			meals[r.MealPlanCode] = true
			facets.MealPlans = append(facets.MealPlans, r.MealPlanCode)
		}
	}
	slices.Sort(facets.Stars)
	slices.Sort(facets.MealPlans)
	return facets
}
