package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alex-user-go/holidays/internal/flow"
	"github.com/alex-user-go/holidays/internal/loader"
	"github.com/alex-user-go/holidays/internal/middleware"
	"github.com/alex-user-go/holidays/internal/proxy"
)

// Server-sent event names of a delayed price stream.
const (
	EventPlaceholders = "placeholders"
	EventPrice        = "price"
	EventInteractive  = "interactive"
	EventError        = "error"
	EventReinit       = "reinit"
	EventDone         = "done"
)

// sseView renders loader calls as server-sent events.
type sseView struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
	failed bool
}

func newSSEView(w http.ResponseWriter, logger *slog.Logger) *sseView {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseView{w: w, rc: http.NewResponseController(w), logger: logger}
}

func (v *sseView) send(event string, data any) {
	if v.failed {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		v.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(v.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		v.failed = true
		return
	}
	v.flush()
}

func (v *sseView) flush() {
	if err := v.rc.Flush(); err != nil {
		v.failed = true
	}
}

func (v *sseView) ShowPlaceholders(ids []string) {
	v.send(EventPlaceholders, map[string]any{"ids": ids})
}

// Pulse writes a comment line, which keeps the connection warm without
// an event for the client to handle.
func (v *sseView) Pulse() {
	if v.failed {
		return
	}
	if _, err := fmt.Fprint(v.w, ": pulse\n\n"); err != nil {
		v.failed = true
		return
	}
	v.flush()
}

func (v *sseView) PatchPrice(id string, amount float64) {
	v.send(EventPrice, map[string]any{"id": id, "amount": amount})
}

func (v *sseView) SetInteractive(enabled bool) {
	v.send(EventInteractive, map[string]bool{"enabled": enabled})
}

func (v *sseView) ShowError(message string) {
	v.send(EventError, map[string]string{"message": message})
}

// stream runs the delayed loader for ids and reports it on w.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, ids []string, fetch loader.Fetch) {
	ctx := r.Context()
	logger := h.logger.With(
		"request_id", middleware.RequestID(ctx),
		"session_id", middleware.SessionID(ctx),
	)

	view := newSSEView(w, logger)

	// Each hook only tells the browser which routine to rerun.
	registry := loader.NewRegistry(logger)
	for _, name := range h.reinitHooks {
		registry.Register(name, func() error {
			view.send(EventReinit, map[string]string{"hook": name})
			return nil
		})
	}

	l := loader.New(view, loader.Options{
		Timeout:  h.priceTimeout,
		Registry: registry,
		Logger:   logger,
	})
	out := l.Run(ctx, ids, fetch)

	done := map[string]any{"patched": out.Patched, "ok": out.Err == nil}
	if out.Refinement != nil && out.Refinement.AvailToken != "" {
		done["avail_token"] = out.Refinement.AvailToken
	}
	if out.Err != nil {
		done["code"] = errorCode(out.Err)
	}
	view.send(EventDone, done)
}

// errorCode classifies a failed refresh for the done event. The readable
// message has already gone out as the error event.
func errorCode(err error) string {
	var bizErr *proxy.BusinessError
	switch {
	case errors.Is(err, proxy.ErrTimeout), errors.Is(err, loader.ErrTimeout):
		return "timeout"
	case errors.Is(err, proxy.ErrUnavailable):
		return "unavailable"
	case errors.As(err, &bizErr):
		return "rejected"
	case errors.Is(err, flow.ErrStaleResponse):
		return "superseded"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "failed"
}
