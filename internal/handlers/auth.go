package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bankledger/internal/auth"
	"bankledger/internal/db"
	"bankledger/internal/middleware"
	"bankledger/internal/models"
	"bankledger/internal/store"
	"bankledger/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a user. The first user ever registered becomes super
// admin; the check runs inside the same transaction as the insert.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validator.ValidateRegistration(req.Username, req.Email, req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to secure password")
		return
	}
	userID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.users.Create(r.Context(), tx, userID, req.Username, req.Email, passwordHash); err != nil {
			return err
		}
		hasAdmin, err := h.admin.HasAnyAdmin(r.Context(), tx)
		if err != nil {
			return err
		}
		if !hasAdmin {
			if err := h.admin.CreateAdmin(r.Context(), tx, userID, true, nil); err != nil {
				return err
			}
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    userID,
			Action:     "user.register",
			EntityType: "user",
			EntityID:   userID,
			Data: map[string]string{
				"ip":         r.RemoteAddr,
				"user_agent": r.UserAgent(),
			},
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "username or email already exists")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	h.respondToken(w, http.StatusCreated, auth.Principal{UserID: userID, Username: req.Username})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    user.ID,
			Action:     "user.login",
			EntityType: "user",
			EntityID:   user.ID,
			Data: map[string]string{
				"ip":         r.RemoteAddr,
				"user_agent": r.UserAgent(),
			},
		})
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.respondToken(w, http.StatusOK, auth.Principal{UserID: user.ID, Username: user.Username})
}

func (h *Handler) respondToken(w http.ResponseWriter, status int, principal auth.Principal) {
	token, err := auth.GenerateToken(h.cfg.JWTSecret, principal, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respondJSON(w, status, map[string]string{"token": token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var user models.User
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		var err error
		user, err = h.users.GetByID(r.Context(), tx, principal.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user_not_found")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"is_admin":   isAdmin,
		"is_super":   isSuper,
		"created_at": user.CreatedAt,
	})
}
