package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/alex-user-go/holidays/internal/search/types"
)

var (
	ErrInvalidTransition = errors.New("invalid flow transition")
	ErrWrongPhase        = errors.New("operation not available in the current phase")
	ErrRoomsIncomplete   = errors.New("a room must be chosen for every requested room")
	ErrInvalidRoom       = errors.New("invalid room selection")
)

// RoomOption is one room choice offered inside a budget.
type RoomOption struct {
	Code  string  `json:"code"`
	Name  string  `json:"name,omitempty"`
	Board string  `json:"board,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// SelectedPackage is the budget chosen for quoting, captured with
// everything the quote page needs so it never re-fetches availability.
type SelectedPackage struct {
	Record       types.ResultRecord `json:"record"`
	Budget       types.Budget       `json:"budget"`
	Hotel        types.Hotel        `json:"hotel"`
	Flights      []map[string]any   `json:"flights,omitempty"`
	SearchParams types.SearchParams `json:"search_params"`
	Rooms        []RoomOption       `json:"rooms"`
	SelectedAt   time.Time          `json:"selected_at"`
}

// Quote is the bookable quote of the selected package.
type Quote struct {
	Token         string          `json:"token"`
	Data          map[string]any  `json:"data,omitempty"`
	TotalAmount   float64         `json:"total_amount"`
	PriceFinal    bool            `json:"price_final"`
	TitleHTML     string          `json:"title_html,omitempty"`
	BreakdownHTML string          `json:"breakdown_html,omitempty"`
	Services      map[string]bool `json:"services,omitempty"`
}

// Booking is what survives a completed booking.
type Booking struct {
	Reference   string `json:"reference,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// State is one visitor's booking flow. It is only changed through its
// methods; each phase change bumps Counter, which travels in result and
// quote URLs so a reload can be matched against the stored state.
type State struct {
	Phase           Phase                   `json:"phase"`
	Counter         int                     `json:"state"`
	SearchParams    *types.SearchParams     `json:"search_params,omitempty"`
	AvailToken      string                  `json:"avail_token,omitempty"`
	SelectedRooms   map[string][]RoomOption `json:"selected_rooms,omitempty"`
	SelectedPackage *SelectedPackage        `json:"selected_package,omitempty"`
	Quote           *Quote                  `json:"quote,omitempty"`
	Booking         *Booking                `json:"booking,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// NewState returns an empty flow waiting for a search.
func NewState() *State {
	return &State{Phase: PhaseSearching}
}

func (s *State) transition(to Phase) error {
	if !IsTransitionAllowed(s.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, to)
	}
	s.Phase = to
	s.Counter++
	return nil
}

func (s *State) require(phases ...Phase) error {
	for _, p := range phases {
		if s.Phase == p {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
}

// Reset discards everything and returns to SEARCHING. The counter keeps
// growing so URLs issued before the reset no longer match.
func (s *State) Reset() {
	*s = State{Phase: PhaseSearching, Counter: s.Counter + 1}
}

// SetSearchParams starts a new search. Any previous journey is discarded.
func (s *State) SetSearchParams(p types.SearchParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.Reset()
	s.SearchParams = &p
	return s.transition(PhaseAwaitingResults)
}

// RefreshToken stores the most recent availability token. Empty tokens are
// ignored; it reports whether the token changed.
func (s *State) RefreshToken(token string) bool {
	if token == "" || token == s.AvailToken {
		return false
	}
	s.AvailToken = token
	return true
}

// ShowResults moves a pending search to BROWSING.
func (s *State) ShowResults(token string) error {
	if err := s.transition(PhaseBrowsing); err != nil {
		return err
	}
	s.RefreshToken(token)
	return nil
}

// FailSearch returns a pending search to SEARCHING. The search parameters
// are kept so the form can be pre-filled.
func (s *State) FailSearch() error {
	params := s.SearchParams
	if err := s.transition(PhaseSearching); err != nil {
		return err
	}
	counter := s.Counter
	*s = State{Phase: PhaseSearching, Counter: counter, SearchParams: params}
	return nil
}

// RoomCount is the number of rooms searched.
func (s *State) RoomCount() int {
	if s.SearchParams == nil {
		return 0
	}
	return len(s.SearchParams.Rooms)
}

// SelectRoom records the choice for one requested room of a budget.
func (s *State) SelectRoom(budgetID string, roomIndex int, opt RoomOption) error {
	if err := s.require(PhaseBrowsing); err != nil {
		return err
	}
	n := s.RoomCount()
	if roomIndex < 0 || roomIndex >= n {
		return fmt.Errorf("%w: room %d of %d", ErrInvalidRoom, roomIndex+1, n)
	}
	if opt.Code == "" {
		return fmt.Errorf("%w: room code is required", ErrInvalidRoom)
	}

	if s.SelectedRooms == nil {
		s.SelectedRooms = make(map[string][]RoomOption)
	}
	rooms := s.SelectedRooms[budgetID]
	if len(rooms) != n {
		rooms = make([]RoomOption, n)
	}
	rooms[roomIndex] = opt
	s.SelectedRooms[budgetID] = rooms
	return nil
}

// RoomsComplete reports whether every requested room has a choice for
// budgetID.
func (s *State) RoomsComplete(budgetID string) bool {
	rooms := s.SelectedRooms[budgetID]
	if len(rooms) != s.RoomCount() {
		return false
	}
	for _, r := range rooms {
		if r.Code == "" {
			return false
		}
	}
	return true
}

// SetSelectedPackage captures the package to quote and moves to QUOTING.
// It happens once per quote attempt; going back clears it.
func (s *State) SetSelectedPackage(pkg SelectedPackage) error {
	if err := s.require(PhaseBrowsing); err != nil {
		return err
	}
	if !s.RoomsComplete(pkg.Record.BudgetID) {
		return ErrRoomsIncomplete
	}
	pkg.Rooms = append([]RoomOption(nil), s.SelectedRooms[pkg.Record.BudgetID]...)
	if pkg.SelectedAt.IsZero() {
		pkg.SelectedAt = time.Now()
	}
	if err := s.transition(PhaseQuoting); err != nil {
		return err
	}
	s.SelectedPackage = &pkg
	s.Quote = nil
	return nil
}

// SetQuote stores the quote created for the selected package. An
// authoritative price already delivered by the price refresh is kept.
func (s *State) SetQuote(token string, data map[string]any, total float64) error {
	if err := s.require(PhaseQuoting); err != nil {
		return err
	}
	q := &Quote{Token: token, Data: data, TotalAmount: total, Services: map[string]bool{}}
	if prev := s.Quote; prev != nil {
		if prev.Services != nil {
			q.Services = prev.Services
		}
		if prev.PriceFinal {
			q.TotalAmount = prev.TotalAmount
			q.PriceFinal = true
			q.TitleHTML = prev.TitleHTML
			q.BreakdownHTML = prev.BreakdownHTML
		}
	}
	s.Quote = q
	return nil
}

// SetQuotePrice stores the authoritative quote price.
func (s *State) SetQuotePrice(total float64, titleHTML, breakdownHTML string) error {
	if err := s.require(PhaseQuoting); err != nil {
		return err
	}
	if s.Quote == nil {
		s.Quote = &Quote{Services: map[string]bool{}}
	}
	s.Quote.TotalAmount = total
	s.Quote.PriceFinal = true
	s.Quote.TitleHTML = titleHTML
	s.Quote.BreakdownHTML = breakdownHTML
	return nil
}

// SetService records an optional service and the resulting total.
func (s *State) SetService(serviceID string, selected bool, total float64) error {
	if err := s.require(PhaseQuoting); err != nil {
		return err
	}
	if s.Quote == nil {
		s.Quote = &Quote{}
	}
	if s.Quote.Services == nil {
		s.Quote.Services = map[string]bool{}
	}
	s.Quote.Services[serviceID] = selected
	s.Quote.TotalAmount = total
	return nil
}

// BackToResults leaves the quote and returns to BROWSING with the token
// the results were served under.
func (s *State) BackToResults(token string) error {
	if err := s.transition(PhaseBrowsing); err != nil {
		return err
	}
	s.RefreshToken(token)
	s.SelectedPackage = nil
	s.Quote = nil
	return nil
}

// MarkBooked ends the flow. Only the booking outcome is kept.
func (s *State) MarkBooked(b Booking) error {
	if err := s.transition(PhaseBooked); err != nil {
		return err
	}
	counter := s.Counter
	*s = State{Phase: PhaseBooked, Counter: counter, Booking: &b}
	return nil
}
