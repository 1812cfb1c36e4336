package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetUserByUsername lets a client find the recipient of a transfer. Only
// public fields are returned.
func (h *Handler) GetUserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := h.resolveUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user_not_found")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}
