package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/errors"
	"quietend-server/internal/shared/response"
)

type StatusResponse struct {
	LoggedInCharacters int    `json:"logged_in_characters"`
	ActiveChannels     int    `json:"active_channels"`
	TravelingSessions  int    `json:"traveling_sessions"`
	Timestamp          string `json:"timestamp"`
}

// StatusHandler reports the engine's live counters for operators.
type StatusHandler struct {
	db *database.DB
}

func NewStatusHandler(db *database.DB) *StatusHandler {
	return &StatusHandler{db: db}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "status")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	ctx, cancel := database.WithBusyTimeout(r.Context(), 5*time.Second)
	defer cancel()
	resp := StatusResponse{Timestamp: time.Now().Format(time.RFC3339)}

	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM characters WHERE is_logged_in = true`,
	).Scan(&resp.LoggedInCharacters)
	if err != nil {
		response.Error(w, r, logger, errors.WrapInternal("failed to count characters", err))
		return
	}

	err = h.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM locations WHERE channel_id IS NOT NULL)
			+ (SELECT COUNT(*) FROM ships WHERE channel_id IS NOT NULL)
			+ (SELECT COUNT(*) FROM location_homes WHERE channel_id IS NOT NULL)
	`).Scan(&resp.ActiveChannels)
	if err != nil {
		response.Error(w, r, logger, errors.WrapInternal("failed to count channels", err))
		return
	}

	err = h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM travel_sessions WHERE status IN ('traveling', 'diverted')`,
	).Scan(&resp.TravelingSessions)
	if err != nil {
		response.Error(w, r, logger, errors.WrapInternal("failed to count travel sessions", err))
		return
	}

	response.Success(w, http.StatusOK, resp)
}
