// Package proxy is the client of the tour-operator proxy. Every call is a
// form-encoded POST to one endpoint, dispatched by its "action" field, and
// answered with a {"success": bool, "data": ...} envelope.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Action names a proxy operation.
type Action string

const (
	ActionSearchPackages        Action = "search_packages"
	ActionPaginatePackages      Action = "paginate_packages"
	ActionGetPackageDetails     Action = "get_package_details"
	ActionCheckAllowedSelling   Action = "check_allowed_selling"
	ActionPrepareQuote          Action = "prepare_quote"
	ActionDelayedQuote          Action = "delayed_quote"
	ActionUpdateOptionalService Action = "update_optional_service"
	ActionBookPackage           Action = "book_package"
	ActionGetDestinations       Action = "get_destinations"
	ActionGetOrigins            Action = "get_origins"
	ActionValidateExpedient     Action = "validate_expedient"
	ActionValidatePassengers    Action = "validate_passengers"
	ActionPrintQuote            Action = "print_quote"
	ActionSendQuoteEmail        Action = "send_quote_email"
)

const (
	validationTimeout = 15 * time.Second
	standardTimeout   = 30 * time.Second
	bookingTimeout    = 60 * time.Second
)

// Timeout returns the deadline applied to one call of action.
func (a Action) Timeout() time.Duration {
	switch a {
	case ActionValidateExpedient, ActionValidatePassengers, ActionCheckAllowedSelling,
		ActionGetDestinations, ActionGetOrigins:
		return validationTimeout
	case ActionBookPackage:
		return bookingTimeout
	default:
		return standardTimeout
	}
}

var (
	// ErrUnavailable wraps network failures and unexpected HTTP statuses.
	ErrUnavailable = errors.New("proxy unavailable")
	// ErrTimeout is returned when a call exceeds its deadline. It also
	// matches ErrUnavailable.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrUnavailable)
)

// BusinessError is a failure reported by the proxy itself (success:false).
// Its message is meant to be shown to the visitor verbatim.
type BusinessError struct {
	Action  Action
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// envelope is the response wrapper of every action.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// failureMessage extracts the message of a success:false payload, which
// may be a bare string or an object with a message field.
func failureMessage(data json.RawMessage) string {
	var text string
	if err := json.Unmarshal(data, &text); err == nil && text != "" {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return "request failed"
}

// Amount is a price that the proxy may send as a number or a numeric string.
type Amount float64

// UnmarshalJSON accepts numbers, numeric strings and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*a = 0
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return fmt.Errorf("amount %s: %w", string(b), err)
	}
	*a = Amount(f)
	return nil
}
