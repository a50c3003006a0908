package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"quietend-server/internal/shared/errors"
	"quietend-server/internal/shared/response"
)

// CharacterDeleter runs the full character deletion cascade.
type CharacterDeleter interface {
	Delete(ctx context.Context, userID string) error
}

// CharacterHandler gives operators the explicit-delete path from the
// character lifecycle.
type CharacterHandler struct {
	lifecycle CharacterDeleter
}

func NewCharacterHandler(lifecycle CharacterDeleter) *CharacterHandler {
	return &CharacterHandler{lifecycle: lifecycle}
}

func (h *CharacterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "character_delete")

	if r.Method != http.MethodDelete {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	userID := r.PathValue("id")
	if userID == "" {
		response.Error(w, r, logger, errors.Validation("character id is required"))
		return
	}

	logger.Info("Admin character deletion requested", "character_id", userID, "remote_addr", r.RemoteAddr)
	if err := h.lifecycle.Delete(r.Context(), userID); err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, map[string]string{"deleted": userID})
}
