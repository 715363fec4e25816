package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/loader"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/search"
	"github.com/alex-user-go/holidays/internal/search/types"
)

// SearchHandler handles POST /search. It records the search; the results
// are fetched when the results page loads.
func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestID(r.Context())

	// Check rate limit
	ip := ExtractIP(r)
	if !h.rateLimiter.Allow(ip) {
		h.metrics.IncRateLimited()
		h.logger.Warn("rate limit exceeded", "request_id", requestID, "ip", ip)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var params types.SearchParams
	if err := decodeJSON(r, &params); err != nil {
		h.fail(w, r, "search", err)
		return
	}
	if err := params.Validate(); err != nil {
		h.logger.Debug("invalid search parameters", "request_id", requestID, "error", err, "ip", ip)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.nav.SubmitSearch(r.Context(), middleware.SessionID(r.Context()), params)
	if err != nil {
		h.fail(w, r, "search", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, stateResponse(st))
}

// LastSearchHandler handles GET /search, returning the previous search
// parameters to pre-fill the form.
func (h *Handler) LastSearchHandler(w http.ResponseWriter, r *http.Request) {
	params, err := h.nav.LastSearch(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.fail(w, r, "last_search", err)
		return
	}
	if params == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, params)
}

// ResultsResponse is one page of consolidated results.
type ResultsResponse struct {
	StateResponse
	*search.View
}

// ResultsHandler handles GET /results. The first call after a search runs
// it; later calls filter and paginate the fetched set locally.
func (h *Handler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := middleware.SessionID(ctx)

	filter, page, size, err := ParseFilter(r)
	if err != nil {
		h.fail(w, r, "results", err)
		return
	}
	if err := h.resume(ctx, r); err != nil {
		h.fail(w, r, "results", err)
		return
	}

	st, err := h.nav.State(ctx, sid)
	if err != nil {
		h.fail(w, r, "results", err)
		return
	}
	if st.Phase == flow.PhaseAwaitingResults {
		if _, _, err := h.nav.LoadResults(ctx, sid); err != nil {
			h.fail(w, r, "results", err)
			return
		}
	}

	view, st, err := h.nav.Results(ctx, sid, filter, page, size)
	if err != nil {
		h.fail(w, r, "results", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ResultsResponse{StateResponse: stateResponse(st), View: view})
}

// ResultPricesHandler handles GET /results/prices, streaming the delayed
// price refinement of the requested page as server-sent events.
func (h *Handler) ResultPricesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := middleware.SessionID(ctx)

	filter, page, size, err := ParseFilter(r)
	if err != nil {
		h.fail(w, r, "result_prices", err)
		return
	}
	view, _, err := h.nav.Results(ctx, sid, filter, page, size)
	if err != nil {
		h.fail(w, r, "result_prices", err)
		return
	}

	ids := make([]string, len(view.Records))
	for i, rec := range view.Records {
		ids[i] = rec.BudgetID
	}

	h.stream(w, r, ids, func(ctx context.Context) (*loader.Refinement, error) {
		return h.nav.RefreshResultPrices(ctx, sid)
	})
}

// roomRequest is the body of POST /packages/{budgetID}/rooms.
type roomRequest struct {
	RoomIndex int             `json:"room_index"`
	Option    flow.RoomOption `json:"option"`
}

// SelectRoomHandler handles POST /packages/{budgetID}/rooms.
func (h *Handler) SelectRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "select_room", err)
		return
	}

	budgetID := chi.URLParam(r, "budgetID")
	st, err := h.nav.SelectRoom(r.Context(), middleware.SessionID(r.Context()), budgetID, req.RoomIndex, req.Option)
	if err != nil {
		h.fail(w, r, "select_room", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"budget_id":      budgetID,
		"rooms":          st.SelectedRooms[budgetID],
		"rooms_complete": st.RoomsComplete(budgetID),
	})
}

// SelectPackageHandler handles POST /packages/{budgetID}/select.
func (h *Handler) SelectPackageHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.nav.ConfirmPackage(r.Context(), middleware.SessionID(r.Context()), chi.URLParam(r, "budgetID"))
	if err != nil {
		h.fail(w, r, "select_package", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stateResponse(st))
}

// PackageDetailsHandler handles GET /packages/{budgetID}/details.
func (h *Handler) PackageDetailsHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.nav.PackageDetails(r.Context(), middleware.SessionID(r.Context()), chi.URLParam(r, "budgetID"))
	if err != nil {
		h.fail(w, r, "package_details", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"hotel_details": details})
}

// NoticeHandler handles GET /notice, returning the one-shot message left by
// a failed search.
func (h *Handler) NoticeHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := h.nav.TakeNotice(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.fail(w, r, "notice", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// DestinationsHandler handles GET /destinations.
func (h *Handler) DestinationsHandler(w http.ResponseWriter, r *http.Request) {
	locs, err := h.nav.Destinations(r.Context(), r.URL.Query().Get("origin"))
	if err != nil {
		h.fail(w, r, "destinations", err)
		return
	}
	h.writeJSON(w, http.StatusOK, locs)
}

// OriginsHandler handles GET /origins.
func (h *Handler) OriginsHandler(w http.ResponseWriter, r *http.Request) {
	locs, err := h.nav.Origins(r.Context(), r.URL.Query().Get("destination"))
	if err != nil {
		h.fail(w, r, "origins", err)
		return
	}
	h.writeJSON(w, http.StatusOK, locs)
}
