package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"quietend-server/internal/shared/errors"
	"quietend-server/internal/shared/response"
)

// Sweeper is the piece of the reaper the ops API can poke.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// ReaperHandler lets an operator force one maintenance pass outside the
// regular interval.
type ReaperHandler struct {
	reaper Sweeper
}

func NewReaperHandler(reaper Sweeper) *ReaperHandler {
	return &ReaperHandler{reaper: reaper}
}

func (h *ReaperHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "reaper_run")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	logger.Info("Manual reaper sweep requested", "remote_addr", r.RemoteAddr)
	h.reaper.Sweep(r.Context())

	response.Success(w, http.StatusOK, map[string]bool{"swept": true})
}
