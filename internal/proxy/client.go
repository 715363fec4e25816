package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the tour-operator proxy endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Client. Deadlines are applied per action, so the
// underlying http.Client carries no global timeout.
func NewClient(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// call posts form with the given action and decodes the success payload into out.
func (c *Client) call(ctx context.Context, action Action, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, action.Timeout())
	defer cancel()

	if form == nil {
		form = url.Values{}
	}
	form.Set("action", string(action))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("proxy call failed", "action", action, "error", err, "duration_ms", time.Since(start).Milliseconds())
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", action, ErrTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", action, err)
		}
		return fmt.Errorf("%s: %w: %v", action, ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %w: status %d: %s", action, ErrUnavailable, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", action, ErrTimeout)
		}
		return fmt.Errorf("%s: %w: failed to parse response: %v", action, ErrUnavailable, err)
	}

	c.logger.Debug("proxy call", "action", action, "success", env.Success, "duration_ms", time.Since(start).Milliseconds())

	if !env.Success {
		return &BusinessError{Action: action, Message: failureMessage(env.Data)}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: %w: failed to parse data: %v", action, ErrUnavailable, err)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SearchPackages runs search_packages.
func (c *Client) SearchPackages(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	rooms, err := encodeJSON(req.Params.Rooms)
	if err != nil {
		return nil, fmt.Errorf("encode rooms: %w", err)
	}

	form := url.Values{}
	form.Set("origin_code", req.Params.OriginCode)
	form.Set("destination_code", req.Params.DestinationCode)
	form.Set("start_date", req.Params.StartDate)
	form.Set("num_nights", strconv.Itoa(req.Params.NumNights))
	form.Set("rooms", rooms)
	form.Set("item_count", strconv.Itoa(req.ItemCount))
	form.Set("product_type", req.Params.ProductType)
	form.Set("only_hotel", strconv.FormatBool(req.Params.OnlyHotel))
	if req.AvailToken != "" {
		form.Set("avail_token", req.AvailToken)
	}
	if req.FromCache {
		form.Set("fromCache", "true")
	}

	var out SearchResponse
	if err := c.call(ctx, ActionSearchPackages, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaginatePackages runs paginate_packages.
func (c *Client) PaginatePackages(ctx context.Context, req PaginateRequest) (*PaginateResponse, error) {
	form := url.Values{}
	form.Set("avail_token", req.AvailToken)
	form.Set("page_number", strconv.Itoa(req.PageNumber))
	form.Set("rows_per_page", strconv.Itoa(req.RowsPerPage))
	if req.Force {
		form.Set("force", "true")
	}

	var out PaginateResponse
	if err := c.call(ctx, ActionPaginatePackages, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func budgetForm(ref BudgetRef) url.Values {
	form := url.Values{}
	form.Set("avail_token", ref.AvailToken)
	form.Set("budget_id", ref.BudgetID)
	form.Set("hotel_code", ref.HotelCode)
	form.Set("provider_code", ref.ProviderCode)
	return form
}

// PackageDetails runs get_package_details.
func (c *Client) PackageDetails(ctx context.Context, ref BudgetRef) (*DetailsResponse, error) {
	var out DetailsResponse
	if err := c.call(ctx, ActionGetPackageDetails, budgetForm(ref), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckAllowedSelling runs check_allowed_selling.
func (c *Client) CheckAllowedSelling(ctx context.Context) (*SellingResponse, error) {
	var out SellingResponse
	if err := c.call(ctx, ActionCheckAllowedSelling, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareQuote runs prepare_quote.
func (c *Client) PrepareQuote(ctx context.Context, ref BudgetRef) (*QuoteResponse, error) {
	var out QuoteResponse
	if err := c.call(ctx, ActionPrepareQuote, budgetForm(ref), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DelayedQuote runs delayed_quote.
func (c *Client) DelayedQuote(ctx context.Context, req DelayedQuoteRequest) (*DelayedQuoteResponse, error) {
	form := url.Values{}
	form.Set("budget_id", req.BudgetID)
	form.Set("avail_token", req.AvailToken)
	form.Set("product_type", req.ProductType)

	var out DelayedQuoteResponse
	if err := c.call(ctx, ActionDelayedQuote, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateOptionalService runs update_optional_service.
func (c *Client) UpdateOptionalService(ctx context.Context, req ServiceRequest) (*ServiceResponse, error) {
	form := url.Values{}
	form.Set("avail_token", req.AvailToken)
	form.Set("serviceId", req.ServiceID)
	form.Set("addService", strconv.FormatBool(req.Add))

	var out ServiceResponse
	if err := c.call(ctx, ActionUpdateOptionalService, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BookPackage runs book_package.
func (c *Client) BookPackage(ctx context.Context, bookingData map[string]any) (*BookingResponse, error) {
	data, err := encodeJSON(bookingData)
	if err != nil {
		return nil, fmt.Errorf("encode booking data: %w", err)
	}
	form := url.Values{}
	form.Set("booking_data", data)

	var out BookingResponse
	if err := c.call(ctx, ActionBookPackage, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Destinations runs get_destinations, optionally narrowed to one origin.
func (c *Client) Destinations(ctx context.Context, originCode string) ([]Location, error) {
	form := url.Values{}
	if originCode != "" {
		form.Set("origin_code", originCode)
	}
	var out []Location
	if err := c.call(ctx, ActionGetDestinations, form, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Origins runs get_origins, optionally narrowed to one destination.
func (c *Client) Origins(ctx context.Context, destinationCode string) ([]Location, error) {
	form := url.Values{}
	if destinationCode != "" {
		form.Set("destination_code", destinationCode)
	}
	var out []Location
	if err := c.call(ctx, ActionGetOrigins, form, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateExpedient runs validate_expedient.
func (c *Client) ValidateExpedient(ctx context.Context, expedient string) (*ValidationResponse, error) {
	form := url.Values{}
	form.Set("expedient", expedient)

	var out ValidationResponse
	if err := c.call(ctx, ActionValidateExpedient, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidatePassengers runs validate_passengers.
func (c *Client) ValidatePassengers(ctx context.Context, passengers []map[string]any) (*PassengerValidation, error) {
	data, err := encodeJSON(passengers)
	if err != nil {
		return nil, fmt.Errorf("encode passengers: %w", err)
	}
	form := url.Values{}
	form.Set("passengers", data)

	var out PassengerValidation
	if err := c.call(ctx, ActionValidatePassengers, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrintQuote runs print_quote.
func (c *Client) PrintQuote(ctx context.Context, quoteData map[string]any) (*PrintResponse, error) {
	data, err := encodeJSON(quoteData)
	if err != nil {
		return nil, fmt.Errorf("encode quote data: %w", err)
	}
	form := url.Values{}
	form.Set("quote_data", data)

	var out PrintResponse
	if err := c.call(ctx, ActionPrintQuote, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendQuoteEmail runs send_quote_email.
func (c *Client) SendQuoteEmail(ctx context.Context, emailData map[string]any) error {
	data, err := encodeJSON(emailData)
	if err != nil {
		return fmt.Errorf("encode email data: %w", err)
	}
	form := url.Values{}
	form.Set("email_data", data)
	return c.call(ctx, ActionSendQuoteEmail, form, nil)
}
