// Package proxytest provides an in-process tour-operator proxy that speaks
// the action-dispatched wire format of package proxy. It backs the mock
// proxy command and the HTTP tests.
package proxytest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/alex-user-go/holidays/internal/proxy"
)

// Options tunes the simulated proxy. The zero value answers instantly and
// never fails.
type Options struct {
	// Latency is the base delay of every action; a random jitter of up to
	// the same amount is added.
	Latency time.Duration
	// FailureRate is the share of search calls answered with 503.
	FailureRate float64
	// QuoteDelay is the extra delay of delayed_quote.
	QuoteDelay time.Duration
	// Seed fixes the random source; zero seeds from the clock.
	Seed   int64
	Logger *slog.Logger
}

type catalogHotel struct {
	code     string
	name     string
	category string
	nightly  float64
}

// catalog is the fixed hotel list served for every destination.
var catalog = []catalogHotel{
	{code: "H001", name: "Grand Hotel", category: "4EST", nightly: 150},
	{code: "H002", name: "City Center Inn", category: "3EST", nightly: 110},
	{code: "H003", name: "Budget Stay", category: "2EST", nightly: 70},
	{code: "H004", name: "Luxury Palace", category: "5EST", nightly: 300},
}

// mealPlans are offered for every hotel, each as its own budget.
var mealPlans = []struct {
	code   string
	factor float64
}{
	{code: "BB", factor: 1.0},
	{code: "HB", factor: 1.2},
	{code: "AI", factor: 1.5},
}

var destinations = []proxy.Location{
	{Code: "PMI", Name: "Palma de Mallorca"},
	{Code: "TFS", Name: "Tenerife Sur"},
	{Code: "CUN", Name: "Cancun"},
}

var origins = []proxy.Location{
	{Code: "MAD", Name: "Madrid"},
	{Code: "BCN", Name: "Barcelona"},
}

// optionalServices maps add-on ids to their price.
var optionalServices = map[string]float64{
	"insurance": 35,
	"transfer":  20,
}

// refineFactor is applied once when prices are recomputed.
const refineFactor = 1.04

type availability struct {
	budgets []map[string]any
	hotels  []map[string]any
	nights  int
	refined bool
}

type quote struct {
	budgetID string
	total    float64
	refined  bool
	services map[string]bool
}

// Server is the simulated proxy. It is safe for concurrent use.
type Server struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	seq      int
	avail    map[string]*availability
	quotes   map[string]*quote
	calls    map[proxy.Action]int
	failures map[proxy.Action]string
	selling  bool
}

// New creates a Server.
func New(opts Options) *Server {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		logger:   logger,
		rng:      rand.New(rand.NewSource(seed)),
		avail:    make(map[string]*availability),
		quotes:   make(map[string]*quote),
		calls:    make(map[proxy.Action]int),
		failures: make(map[proxy.Action]string),
		selling:  true,
	}
}

// Fail makes every later call of action answer success:false with message.
// An empty message clears it.
func (s *Server) Fail(action proxy.Action, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.failures, action)
		return
	}
	s.failures[action] = message
}

// SetSellingAllowed switches the sales-permission gate.
func (s *Server) SetSellingAllowed(allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selling = allowed
}

// Calls returns how many times action was received.
func (s *Server) Calls(action proxy.Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

// ServeHTTP dispatches one form-encoded action.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	action := proxy.Action(r.PostForm.Get("action"))

	s.mu.Lock()
	s.calls[action]++
	forced := s.failures[action]
	latency := s.latency()
	unavailable := action == proxy.ActionSearchPackages && s.rng.Float64() < s.opts.FailureRate
	s.mu.Unlock()

	if action == proxy.ActionDelayedQuote {
		latency += s.opts.QuoteDelay
	}
	if err := sleep(r.Context(), latency); err != nil {
		return
	}
	if unavailable {
		http.Error(w, "provider unavailable", http.StatusServiceUnavailable)
		return
	}
	if forced != "" {
		s.write(w, false, forced)
		return
	}

	data, msg := s.dispatch(action, r.PostForm)
	if msg != "" {
		s.write(w, false, msg)
		return
	}
	s.write(w, true, data)
}

func (s *Server) latency() time.Duration {
	if s.opts.Latency <= 0 {
		return 0
	}
	return s.opts.Latency + time.Duration(s.rng.Int63n(int64(s.opts.Latency)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// dispatch runs one action. A non-empty message is a business failure.
func (s *Server) dispatch(action proxy.Action, form map[string][]string) (any, string) {
	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case proxy.ActionSearchPackages:
		return s.search(get)
	case proxy.ActionPaginatePackages:
		return s.paginate(get)
	case proxy.ActionGetPackageDetails:
		return s.details(get)
	case proxy.ActionCheckAllowedSelling:
		if !s.selling {
			return map[string]any{"allowed": false, "message": "Sales are closed for this agency."}, ""
		}
		return map[string]any{"allowed": true}, ""
	case proxy.ActionPrepareQuote:
		return s.prepareQuote(get)
	case proxy.ActionDelayedQuote:
		return s.delayedQuote(get)
	case proxy.ActionUpdateOptionalService:
		return s.toggleService(get)
	case proxy.ActionBookPackage:
		return s.book(get)
	case proxy.ActionGetDestinations:
		return destinations, ""
	case proxy.ActionGetOrigins:
		return origins, ""
	case proxy.ActionValidateExpedient:
		exp := strings.TrimSpace(get("expedient"))
		if len(exp) < 6 || !strings.HasPrefix(strings.ToUpper(exp), "EXP") {
			return map[string]any{"valid": false, "message": "Unknown expedient."}, ""
		}
		return map[string]any{"valid": true}, ""
	case proxy.ActionValidatePassengers:
		return s.validatePassengers(get)
	case proxy.ActionPrintQuote:
		var data map[string]any
		if err := json.Unmarshal([]byte(get("quote_data")), &data); err != nil {
			return nil, "invalid quote data"
		}
		return map[string]any{"pdf_url": fmt.Sprintf("/quotes/%s.pdf", cast.ToString(data["quoteToken"]))}, ""
	case proxy.ActionSendQuoteEmail:
		return nil, ""
	}
	return nil, fmt.Sprintf("unknown action %q", action)
}

func (s *Server) nextToken(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *Server) search(get func(string) string) (any, string) {
	if token := get("avail_token"); token != "" && get("fromCache") == "true" {
		if av, ok := s.avail[token]; ok {
			return s.page(token, av, 1, len(av.budgets)), ""
		}
	}

	nights := cast.ToInt(get("num_nights"))
	if nights <= 0 {
		return nil, "num_nights must be positive"
	}
	dest := strings.ToUpper(get("destination_code"))
	known := false
	for _, d := range destinations {
		known = known || d.Code == dest
	}

	av := &availability{nights: nights}
	if known {
		av.budgets, av.hotels = generate(dest, nights)
	}
	token := s.nextToken("avail")
	s.avail[token] = av

	count := cast.ToInt(get("item_count"))
	if count <= 0 {
		count = len(av.budgets)
	}
	resp := s.page(token, av, 1, count)
	resp["totalBudgets"] = len(av.budgets)
	resp["flights"] = []map[string]any{{"origin": get("origin_code"), "destination": dest, "date": get("start_date")}}
	return resp, ""
}

// generate builds one budget per hotel and meal plan. The cheapest plan of
// the budget hotel has no provisional price yet.
func generate(dest string, nights int) ([]map[string]any, []map[string]any) {
	var budgets, hotels []map[string]any
	for _, h := range catalog {
		hotels = append(hotels, map[string]any{
			"code":     h.code,
			"name":     h.name,
			"category": h.category,
			"zone":     dest,
		})
		for i, mp := range mealPlans {
			breakdown := map[string]any{}
			if h.code != "H003" || i != 0 {
				breakdown["totalAmount"] = round(h.nightly * mp.factor * float64(nights))
			}
			budgets = append(budgets, map[string]any{
				"budgetId":       fmt.Sprintf("%s-%s-%s", dest, h.code, mp.code),
				"hotelCode":      h.code,
				"providerCode":   "PRV" + strconv.Itoa(i+1),
				"mealPlanCode":   mp.code,
				"priceBreakdown": breakdown,
			})
		}
	}
	return budgets, hotels
}

func (s *Server) page(token string, av *availability, number, rows int) map[string]any {
	start := (number - 1) * rows
	end := min(start+rows, len(av.budgets))
	budgets := []map[string]any{}
	if start < len(av.budgets) {
		budgets = av.budgets[start:end]
	}
	return map[string]any{
		"availToken": token,
		"budgets":    budgets,
		"hotels":     av.hotels,
	}
}

func (s *Server) paginate(get func(string) string) (any, string) {
	token := get("avail_token")
	av, ok := s.avail[token]
	if !ok {
		return nil, "Your search has expired."
	}
	number := max(cast.ToInt(get("page_number")), 1)
	rows := cast.ToInt(get("rows_per_page"))
	if rows <= 0 {
		rows = len(av.budgets)
	}

	if get("force") == "true" && !av.refined {
		av.refined = true
		for _, b := range av.budgets {
			pb := b["priceBreakdown"].(map[string]any)
			total := cast.ToFloat64(pb["totalAmount"])
			if total == 0 {
				total = nightlyFor(cast.ToString(b["hotelCode"])) * float64(av.nights)
			}
			b["priceBreakdown"] = map[string]any{"totalAmount": round(total * refineFactor)}
		}
	}
	return s.page(token, av, number, rows), ""
}

func nightlyFor(code string) float64 {
	for _, h := range catalog {
		if h.code == code {
			return h.nightly
		}
	}
	return 0
}

func (s *Server) budget(token, budgetID string) (map[string]any, string) {
	av, ok := s.avail[token]
	if !ok {
		return nil, "Your search has expired."
	}
	for _, b := range av.budgets {
		if b["budgetId"] == budgetID {
			return b, ""
		}
	}
	return nil, "This package is no longer available."
}

func (s *Server) details(get func(string) string) (any, string) {
	if _, msg := s.budget(get("avail_token"), get("budget_id")); msg != "" {
		return nil, msg
	}
	code := get("hotel_code")
	for _, h := range catalog {
		if h.code == code {
			return map[string]any{
				"availToken": get("avail_token"),
				"hotelDetails": map[string]any{
					"code":        h.code,
					"name":        h.name,
					"description": h.name + " is a " + h.category[:1] + " star hotel.",
					"facilities":  []string{"pool", "wifi"},
				},
			}, ""
		}
	}
	return nil, "Unknown hotel."
}

func (s *Server) prepareQuote(get func(string) string) (any, string) {
	b, msg := s.budget(get("avail_token"), get("budget_id"))
	if msg != "" {
		return nil, msg
	}
	total := cast.ToFloat64(b["priceBreakdown"].(map[string]any)["totalAmount"])

	av := s.avail[get("avail_token")]
	qt := s.nextToken("quote")
	s.quotes[qt] = &quote{
		budgetID: get("budget_id"),
		total:    total,
		refined:  av.refined,
		services: make(map[string]bool),
	}

	// The quote continues in a fresh availability session.
	token := s.nextToken("avail")
	s.avail[token] = av

	services := make([]map[string]any, 0, len(optionalServices))
	for id, price := range optionalServices {
		services = append(services, map[string]any{"id": id, "price": price})
	}
	return map[string]any{
		"availToken": token,
		"quoteToken": qt,
		"quote": map[string]any{
			"budgetId":    get("budget_id"),
			"totalAmount": total,
			"services":    services,
		},
	}, ""
}

func (s *Server) quoteFor(budgetID string) *quote {
	for _, q := range s.quotes {
		if q.budgetID == budgetID {
			return q
		}
	}
	return nil
}

func (s *Server) delayedQuote(get func(string) string) (any, string) {
	q := s.quoteFor(get("budget_id"))
	if q == nil {
		return nil, "No quote for this package."
	}
	if !q.refined {
		q.refined = true
		q.total = round(q.total * refineFactor)
	}
	return map[string]any{
		"availToken":    get("avail_token"),
		"titleHtml":     fmt.Sprintf("<h2>%s</h2>", q.budgetID),
		"breakdownHtml": fmt.Sprintf("<p>Total %.2f EUR</p>", q.total),
		// Sent as a string; clients must accept both.
		"totalAmount": strconv.FormatFloat(q.total, 'f', 2, 64),
		"reinit":      []string{"tooltips", "services"},
	}, ""
}

func (s *Server) toggleService(get func(string) string) (any, string) {
	id := get("serviceId")
	price, ok := optionalServices[id]
	if !ok {
		return nil, "This service is not available."
	}
	token := get("avail_token")
	av, ok := s.avail[token]
	if !ok {
		return nil, "Your search has expired."
	}

	var q *quote
	for _, b := range av.budgets {
		if q = s.quoteFor(cast.ToString(b["budgetId"])); q != nil {
			break
		}
	}
	if q == nil {
		return nil, "No quote for this package."
	}

	add := get("addService") == "true"
	switch {
	case add && !q.services[id]:
		q.total = round(q.total + price)
	case !add && q.services[id]:
		q.total = round(q.total - price)
	}
	q.services[id] = add
	return map[string]any{"availToken": token, "totalAmount": q.total}, ""
}

func (s *Server) book(get func(string) string) (any, string) {
	var data map[string]any
	if err := json.Unmarshal([]byte(get("booking_data")), &data); err != nil {
		return nil, "invalid booking data"
	}
	qt := cast.ToString(data["quoteToken"])
	if _, ok := s.quotes[qt]; !ok {
		return nil, "The quote has expired."
	}
	ref := s.nextToken("BK")
	delete(s.quotes, qt)
	return map[string]any{"bookingReference": ref, "redirect_url": "/booking/" + ref}, ""
}

// blockedDocument is reported as already booked.
const blockedDocument = "X0000000"

func (s *Server) validatePassengers(get func(string) string) (any, string) {
	var passengers []map[string]any
	if err := json.Unmarshal([]byte(get("passengers")), &passengers); err != nil {
		return nil, "invalid passengers"
	}
	duplicates := []string{}
	for _, p := range passengers {
		if doc := cast.ToString(p["document"]); doc == blockedDocument {
			duplicates = append(duplicates, doc)
		}
	}
	return map[string]any{"valid": len(duplicates) == 0, "duplicates": duplicates}, ""
}

func (s *Server) write(w http.ResponseWriter, success bool, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": success, "data": data}); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
