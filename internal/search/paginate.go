package search

import (
	"errors"

	"github.com/alex-user-go/holidays/internal/search/types"
)

const (
	// DefaultPageSize is the number of records shown per local page.
	DefaultPageSize = 10
	// FetchSize is how many budgets one remote search retrieves.
	FetchSize = 100
)

// ErrInvalidPage is returned for a page number below 1 or a non-positive page size.
var ErrInvalidPage = errors.New("invalid page request")

// TotalPages returns ceil(n/pageSize).
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 || n <= 0 {
		return 0
	}
	return (n + pageSize - 1) / pageSize
}

// Page returns the records in [(pageNumber-1)*pageSize, pageNumber*pageSize).
// A page past the end is empty, not an error.
func Page(records []types.ResultRecord, pageNumber, pageSize int) ([]types.ResultRecord, error) {
	if pageNumber < 1 || pageSize <= 0 {
		return nil, ErrInvalidPage
	}

	if pageNumber > TotalPages(len(records), pageSize) {
		return []types.ResultRecord{}, nil
	}
	start := (pageNumber - 1) * pageSize
	end := min(start+pageSize, len(records))
	return records[start:end], nil
}
