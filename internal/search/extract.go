package search

import (
	"math"
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"github.com/alex-user-go/holidays/internal/search/types"
)

// lookup walks a dotted path through nested maps and slices.
// Numeric segments index into slices.
func lookup(b map[string]any, path string) (any, bool) {
	var cur any = b
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case types.Budget:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := cast.ToIntE(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// firstString returns the first non-empty string found at any of paths.
func firstString(b types.Budget, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(b, p)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(cast.ToString(v)); s != "" {
			return s
		}
	}
	return ""
}

// BudgetID returns the budget identifier used to key price patches and selections.
func BudgetID(b types.Budget) string {
	return firstString(b, "budgetId", "id")
}

// HotelCode returns the hotel reference of a budget, or "" when it has none.
func HotelCode(b types.Budget) string {
	return firstString(b, "hotelCode", "hotel.code", "hotelServices.0.hotelCode")
}

// ProviderCode returns the provider that priced the budget.
func ProviderCode(b types.Budget) string {
	return firstString(b, "providerCode", "hotelServices.0.providerCode")
}

// Price extracts the total price. The second return is false when no finite
// price could be resolved; the price is then 0.
func Price(b types.Budget) (float64, bool) {
	for _, p := range []string{"priceBreakdown.totalAmount", "price.amount", "totalAmount"} {
		v, ok := lookup(b, p)
		if !ok {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return f, true
	}
	return 0, false
}

// MealPlanCode returns the board basis code of a budget.
func MealPlanCode(b types.Budget) string {
	return strings.ToUpper(firstString(b, "mealPlanCode", "mealPlan.code", "hotelServices.0.mealPlan.code"))
}

// Stars resolves a 0-5 star rating from the budget or, failing that, from the
// hotel catalog entry.
func Stars(b types.Budget, hotel *types.Hotel) int {
	if v, ok := lookup(b, "stars"); ok {
		if n, err := cast.ToIntE(v); err == nil {
			return clampStars(n)
		}
	}
	category := firstString(b, "hotel.category")
	if category == "" && hotel != nil {
		category = hotel.Category
	}
	return StarsFromCategory(category)
}

// StarsFromCategory reads the leading digit of a category code such as "4EST" or "3*".
func StarsFromCategory(category string) int {
	category = strings.TrimSpace(category)
	if category == "" || !unicode.IsDigit(rune(category[0])) {
		return 0
	}
	return clampStars(int(category[0] - '0'))
}

func clampStars(n int) int {
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}

// normalizeBudget projects a budget into a ResultRecord. It returns nil when
// the budget carries no hotel reference.
func normalizeBudget(b types.Budget, catalog map[string]types.Hotel) *types.ResultRecord {
	hotelCode := HotelCode(b)
	if hotelCode == "" {
		return nil
	}

	var hotel *types.Hotel
	if h, ok := catalog[hotelCode]; ok {
		hotel = &h
	}

	price, resolved := Price(b)
	record := &types.ResultRecord{
		HotelCode:     hotelCode,
		BudgetID:      BudgetID(b),
		ProviderCode:  ProviderCode(b),
		Price:         price,
		PriceResolved: resolved,
		Stars:         Stars(b, hotel),
		MealPlanCode:  MealPlanCode(b),
		Raw:           b,
	}
	if hotel != nil {
		record.HotelName = hotel.Name
	}
	return record
}
