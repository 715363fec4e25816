package search_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-user-go/holidays/internal/search"
	"github.com/alex-user-go/holidays/internal/search/types"
)

func TestResultSet_View(t *testing.T) {
	rs := search.NewResultSet("tok-1", scenarioA(), []types.Hotel{{Code: "H1", Name: "One", Category: "3EST"}}, nil)

	assert.Equal(t, "tok-1", rs.AvailToken)
	assert.Equal(t, 150.0, rs.ObservedMax)
	assert.False(t, rs.Empty())

	view, err := rs.View(types.FilterState{}, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, view.TotalRecords)
	assert.Equal(t, 3, view.TotalPages)
	assert.Equal(t, []string{"b2", "b8"}, ids(view.Records))
	assert.Equal(t, 150.0, view.Filter.MaxPrice, "unset ceiling defaults to observed max")
	assert.False(t, view.Filter.PriceCeiling)
	assert.Equal(t, types.SortPriceAsc, view.Filter.SortBy)
	assert.Equal(t, 90.0, view.Facets.MinPrice)

	h1, ok := rs.Find("b6")
	require.True(t, ok)
	assert.Equal(t, "One", h1.HotelName)
	assert.Equal(t, 3, h1.Stars)

	_, err = rs.View(types.FilterState{}, 0, 2)
	assert.ErrorIs(t, err, search.ErrInvalidPage)
}

func TestResultSet_PatchPrices(t *testing.T) {
	rs := search.NewResultSet("tok-1", []types.Budget{
		budget("b1", "H1", nil),
		budget("b2", "H2", 200),
	}, nil, nil)
	require.Equal(t, 1, rs.Unpriced)

	patched := rs.PatchPrices("tok-2", map[string]float64{"b1": 450, "zz": 1})

	assert.Equal(t, "tok-2", patched.AvailToken)
	assert.Equal(t, 450.0, patched.ObservedMax)
	assert.Zero(t, patched.Unpriced)
	assert.True(t, patched.Records[0].PriceResolved)

	// original untouched
	assert.Equal(t, "tok-1", rs.AvailToken)
	assert.Zero(t, rs.Records[0].Price)
}

func TestResultSet_DefaultFilter(t *testing.T) {
	rs := search.NewResultSet("t", scenarioA(), nil, nil)
	state := rs.DefaultFilter()

	assert.Equal(t, rs.ObservedMax, state.MaxPrice)
	assert.Len(t, search.Apply(rs.Records, state, rs.ObservedMax), len(rs.Records))
}

func TestResultSet_NonFinitePriceKeepsCeiling(t *testing.T) {
	rs := search.NewResultSet("t", []types.Budget{
		budget("b1", "H1", "NaN"),
		budget("b2", "H2", 500),
		budget("b3", "H3", 100),
	}, nil, nil)

	assert.Equal(t, 500.0, rs.ObservedMax)
	assert.Equal(t, 1, rs.Unpriced)

	view, err := rs.View(types.FilterState{MaxPrice: 200, PriceCeiling: true}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b3"}, ids(view.Records))

	_, err = json.Marshal(view)
	assert.NoError(t, err)
}

func TestResultSet_ZeroCeiling(t *testing.T) {
	rs := search.NewResultSet("t", []types.Budget{
		budget("b1", "H1", nil),
		budget("b2", "H2", 500),
		budget("b3", "H3", 100),
	}, nil, nil)

	view, err := rs.View(types.FilterState{PriceCeiling: true}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids(view.Records), "only the unpriced record fits a zero ceiling")
	assert.Zero(t, view.Filter.MaxPrice)
}
