package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bankledger/internal/auth"
	"bankledger/internal/middleware"
	"bankledger/internal/models"
	"bankledger/internal/store"
	"bankledger/internal/websocket"

	"github.com/jmoiron/sqlx"
)

func (h *Handler) AdminListAccounts(w http.ResponseWriter, r *http.Request) {
	views, err := h.ledger.AdminListAccounts(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	response := make([]accountResponse, 0, len(views))
	for _, view := range views {
		response = append(response, newRedactedAccountResponse(view))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) AdminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accountID, ok := accountIDParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	if err := h.ledger.DeleteAccount(r.Context(), accountID, principal); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promoteRequest struct {
	Identifier string `json:"identifier"`
}

func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requireSuperAdmin(w, r)
	if !ok {
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Identifier) == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	target, err := h.resolveUser(r.Context(), strings.TrimSpace(req.Identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user_not_found")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.CreateAdmin(r.Context(), tx, target.ID, false, &principal.UserID); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    principal.UserID,
			Action:     "admin.promote",
			EntityType: "admin",
			EntityID:   target.ID,
			Data:       map[string]string{"target_username": target.Username},
		})
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Role        string `json:"role"`
}

var grantableRoles = map[string]bool{
	middleware.RoleViewAccounts:   true,
	middleware.RoleDeleteAccounts: true,
	middleware.RoleViewAudit:      true,
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requireSuperAdmin(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AdminUserID == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !grantableRoles[req.Role] {
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target is not an admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "cannot assign roles to super admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    principal.UserID,
			Action:     "admin.grant_role",
			EntityType: "admin_role",
			EntityID:   req.AdminUserID,
			Data:       map[string]string{"role": req.Role},
		})
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}

func (h *Handler) requireSuperAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return auth.Principal{}, false
	}
	_, isSuper, err := h.admin.IsAdmin(r.Context(), principal.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return auth.Principal{}, false
	}
	if !isSuper {
		respondError(w, http.StatusForbidden, "super_admin_required")
		return auth.Principal{}, false
	}
	return principal, true
}

func (h *Handler) resolveUser(ctx context.Context, identifier string) (models.User, error) {
	if strings.Contains(identifier, "@") {
		return h.users.GetByEmail(ctx, identifier)
	}
	var user models.User
	err := h.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		user, err = h.users.GetByUsername(ctx, tx, identifier)
		return err
	})
	return user, err
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(r, 50)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_page")
		return
	}
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.AuditLog{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// Reconcile checks every account. A non-zero difference means the stored
// balance and the account's history disagree.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.respondReconcile(w, r, "")
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.upgrader, h.hub, claims.UserID)
}
