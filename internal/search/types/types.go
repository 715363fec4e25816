package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PassengerType distinguishes adults from children in a room request.
type PassengerType string

const (
	PassengerAdult PassengerType = "ADULT"
	PassengerChild PassengerType = "CHILD"
)

// ErrInvalidPassenger is returned when a passenger's age is out of range for its type.
var ErrInvalidPassenger = errors.New("invalid passenger")

// Passenger is one traveller inside a room.
type Passenger struct {
	Type PassengerType `json:"type"`
	Age  int           `json:"age"`
}

// Validate checks the age bounds for the passenger type.
func (p Passenger) Validate() error {
	switch p.Type {
	case PassengerChild:
		if p.Age < 0 || p.Age > 17 {
			return fmt.Errorf("%w: child age %d outside 0-17", ErrInvalidPassenger, p.Age)
		}
	case PassengerAdult:
		if p.Age < 18 || p.Age > 120 {
			return fmt.Errorf("%w: adult age %d outside 18-120", ErrInvalidPassenger, p.Age)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPassenger, p.Type)
	}
	return nil
}

// RoomRequest lists the passengers sharing one requested room.
type RoomRequest struct {
	Passengers []Passenger `json:"passengers"`
}

// Adults counts the adult passengers in the room.
func (r RoomRequest) Adults() int {
	n := 0
	for _, p := range r.Passengers {
		if p.Type == PassengerAdult {
			n++
		}
	}
	return n
}

// SearchParams is the immutable input of one package search.
type SearchParams struct {
	OriginCode      string        `json:"origin_code"`
	DestinationCode string        `json:"destination_code"`
	StartDate       string        `json:"start_date"`
	NumNights       int           `json:"num_nights"`
	Rooms           []RoomRequest `json:"rooms"`
	ProductType     string        `json:"product_type"`
	OnlyHotel       bool          `json:"only_hotel"`
}

// Validate checks the search parameters before they are persisted.
func (p SearchParams) Validate() error {
	if !p.OnlyHotel && strings.TrimSpace(p.OriginCode) == "" {
		return errors.New("origin_code is required")
	}
	if strings.TrimSpace(p.DestinationCode) == "" {
		return errors.New("destination_code is required")
	}
	if p.StartDate == "" {
		return errors.New("start_date is required")
	}
	if _, err := time.Parse("2006-01-02", p.StartDate); err != nil {
		return errors.New("start_date must be in YYYY-MM-DD format")
	}
	if p.NumNights <= 0 {
		return errors.New("num_nights must be a positive integer")
	}
	if len(p.Rooms) == 0 {
		return errors.New("at least one room is required")
	}
	for i, room := range p.Rooms {
		if room.Adults() == 0 {
			return fmt.Errorf("room %d needs at least one adult", i+1)
		}
		for _, pax := range room.Passengers {
			if err := pax.Validate(); err != nil {
				return fmt.Errorf("room %d: %w", i+1, err)
			}
		}
	}
	return nil
}

// Budget is one priced package candidate as returned by the tour operator.
// It is treated as read-only; only a handful of nested fields are projected.
type Budget map[string]any

// Hotel is a catalog entry returned alongside a search.
type Hotel struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Zone     string `json:"zone,omitempty"`
}

// ResultRecord is the normalized, per-hotel view of a budget.
type ResultRecord struct {
	HotelCode     string  `json:"hotel_code"`
	HotelName     string  `json:"hotel_name,omitempty"`
	BudgetID      string  `json:"budget_id"`
	ProviderCode  string  `json:"provider_code,omitempty"`
	Price         float64 `json:"price"`
	PriceResolved bool    `json:"price_resolved"`
	Stars         int     `json:"stars"`
	MealPlanCode  string  `json:"meal_plan_code,omitempty"`
	Raw           Budget  `json:"-"`
}

// SortBy selects the ordering of a filtered result list.
type SortBy string

const (
	SortPriceAsc  SortBy = "PRICE_ASC"
	SortPriceDesc SortBy = "PRICE_DESC"
	SortStarsDesc SortBy = "STARS_DESC"
)

// ParseSortBy converts a raw value to a SortBy. Empty input means PRICE_ASC.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToUpper(strings.TrimSpace(s))) {
	case "", SortPriceAsc:
		return SortPriceAsc, nil
	case SortPriceDesc:
		return SortPriceDesc, nil
	case SortStarsDesc:
		return SortStarsDesc, nil
	}
	return "", fmt.Errorf("unknown sort order %q", s)
}

// FilterState holds the user's filter selections over a result set.
// MaxPrice only binds when PriceCeiling is set; otherwise the ceiling sits at
// the observed max. A ceiling of 0 keeps only unpriced records.
type FilterState struct {
	SortBy            SortBy          `json:"sort_by"`
	MaxPrice          float64         `json:"max_price"`
	PriceCeiling      bool            `json:"price_ceiling"`
	SelectedStars     map[int]bool    `json:"selected_stars,omitempty"`
	SelectedMealPlans map[string]bool `json:"selected_meal_plans,omitempty"`
}

// Facets describes the filter options available over a result set.
type Facets struct {
	MinPrice  float64  `json:"min_price"`
	MaxPrice  float64  `json:"max_price"`
	Stars     []int    `json:"stars"`
	MealPlans []string `json:"meal_plans"`
}
