package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/loader"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/proxy"
)

// QuoteResponse describes the quote page.
type QuoteResponse struct {
	StateResponse
	Package *flow.SelectedPackage `json:"package"`
	Quote   *flow.Quote           `json:"quote"`
}

// QuoteHandler handles GET /quote. The quote is prepared on first load.
func (h *Handler) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.resume(ctx, r); err != nil {
		h.fail(w, r, "quote", err)
		return
	}

	st, err := h.nav.OpenQuote(ctx, middleware.SessionID(ctx))
	if err != nil {
		h.fail(w, r, "quote", err)
		return
	}
	h.writeJSON(w, http.StatusOK, QuoteResponse{
		StateResponse: stateResponse(st),
		Package:       st.SelectedPackage,
		Quote:         st.Quote,
	})
}

// QuotePricesHandler handles GET /quote/prices, streaming the authoritative
// quote price as server-sent events.
func (h *Handler) QuotePricesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := middleware.SessionID(ctx)

	st, err := h.nav.State(ctx, sid)
	if err != nil {
		h.fail(w, r, "quote_prices", err)
		return
	}
	if st.Phase != flow.PhaseQuoting || st.SelectedPackage == nil {
		h.fail(w, r, "quote_prices", flow.ErrWrongPhase)
		return
	}

	ids := []string{st.SelectedPackage.Record.BudgetID}
	h.stream(w, r, ids, func(ctx context.Context) (*loader.Refinement, error) {
		return h.nav.RefreshQuotePrice(ctx, sid)
	})
}

// BackHandler handles POST /quote/back, returning to the results with a
// refreshed token.
func (h *Handler) BackHandler(w http.ResponseWriter, r *http.Request) {
	_, st, err := h.nav.GoBack(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.fail(w, r, "go_back", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stateResponse(st))
}

// serviceRequest is the body of POST /quote/services.
type serviceRequest struct {
	ServiceID string `json:"service_id"`
	Add       bool   `json:"add"`
}

// ServiceHandler handles POST /quote/services. A failed toggle answers
// with the reverted selection next to the error.
func (h *Handler) ServiceHandler(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "optional_service", err)
		return
	}
	if req.ServiceID == "" {
		h.fail(w, r, "optional_service", badRequest("service_id is required"))
		return
	}

	res, err := h.nav.ToggleOptionalService(r.Context(), middleware.SessionID(r.Context()), req.ServiceID, req.Add)
	if err != nil {
		if res == nil {
			h.fail(w, r, "optional_service", err)
			return
		}
		status, msg := statusFor(err)
		h.logger.Debug("optional service reverted",
			"request_id", middleware.RequestID(r.Context()),
			"service_id", req.ServiceID,
			"error", err,
		)
		h.writeJSON(w, status, map[string]any{"error": msg, "service": res})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"service": res})
}

// PrintHandler handles POST /quote/print.
func (h *Handler) PrintHandler(w http.ResponseWriter, r *http.Request) {
	extra := map[string]any{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &extra); err != nil {
			h.fail(w, r, "print_quote", err)
			return
		}
	}

	pdfURL, err := h.nav.PrintQuote(r.Context(), middleware.SessionID(r.Context()), extra)
	if err != nil {
		h.fail(w, r, "print_quote", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"pdf_url": pdfURL})
}

// EmailHandler handles POST /quote/email.
func (h *Handler) EmailHandler(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decodeJSON(r, &data); err != nil {
		h.fail(w, r, "send_quote_email", err)
		return
	}
	if email, _ := data["email"].(string); email == "" {
		h.fail(w, r, "send_quote_email", badRequest("email is required"))
		return
	}

	if err := h.nav.SendQuoteEmail(r.Context(), middleware.SessionID(r.Context()), data); err != nil {
		h.fail(w, r, "send_quote_email", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BookHandler handles POST /book. A failure keeps the quote so the visitor
// can retry.
func (h *Handler) BookHandler(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decodeJSON(r, &data); err != nil {
		h.fail(w, r, "book", err)
		return
	}

	st, err := h.nav.Book(r.Context(), middleware.SessionID(r.Context()), data)
	if err != nil {
		h.fail(w, r, "book", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"phase":        st.Phase,
		"state":        st.Counter,
		"reference":    st.Booking.Reference,
		"redirect_url": st.Booking.RedirectURL,
	})
}

// AbandonHandler handles POST /abandon, discarding the flow.
func (h *Handler) AbandonHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.nav.Abandon(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.fail(w, r, "abandon", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stateResponse(st))
}

// ValidateExpedientHandler handles POST /validate/expedient.
func (h *Handler) ValidateExpedientHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Expedient string `json:"expedient"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "validate_expedient", err)
		return
	}

	res, err := h.nav.ValidateExpedient(r.Context(), middleware.SessionID(r.Context()), req.Expedient)
	if err != nil {
		h.validationFailed(w, r, "validate_expedient", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// ValidatePassengersHandler handles POST /validate/passengers.
func (h *Handler) ValidatePassengersHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passengers []map[string]any `json:"passengers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "validate_passengers", err)
		return
	}
	if len(req.Passengers) == 0 {
		h.fail(w, r, "validate_passengers", badRequest("passengers are required"))
		return
	}

	res, err := h.nav.ValidatePassengers(r.Context(), middleware.SessionID(r.Context()), req.Passengers)
	if err != nil {
		h.validationFailed(w, r, "validate_passengers", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// validationFailed reports a rejected validation as a negative result
// rather than an error; the form shows the message inline.
func (h *Handler) validationFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	var bizErr *proxy.BusinessError
	if errors.As(err, &bizErr) {
		h.writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": bizErr.Message})
		return
	}
	h.fail(w, r, op, err)
}
