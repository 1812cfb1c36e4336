package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bankledger/internal/middleware"
	"bankledger/internal/money"
	"bankledger/internal/services"

	"github.com/shopspring/decimal"
)

type createAccountRequest struct {
	Balance *string `json:"balance"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var seed *decimal.Decimal
	if req.Balance != nil {
		parsed, err := money.Parse(*req.Balance)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_amount")
			return
		}
		seed = &parsed
	}
	view, err := h.ledger.CreateAccount(r.Context(), services.CreateAccountRequest{
		OwnerUsername: principal.Username,
		SeedBalance:   seed,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newAccountResponse(view))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	views, err := h.ledger.ListAccountsForUser(r.Context(), principal.Username)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	response := make([]accountResponse, 0, len(views))
	for _, view := range views {
		response = append(response, newAccountResponse(view))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) AccountHistory(w http.ResponseWriter, r *http.Request) {
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
	limit, offset, ok := pagination(r, 20)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_page")
		return
	}
	history, err := h.ledger.AccountHistory(r.Context(), accountID, principal, limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newTransactionResponses(history))
}

// SelfCheck reconciles the caller's own accounts.
func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.respondReconcile(w, r, principal.UserID)
}

func (h *Handler) respondReconcile(w http.ResponseWriter, r *http.Request, userID string) {
	rows, err := h.reconciler.Reconcile(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	response := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		response = append(response, map[string]any{
			"account_id":      row.AccountID,
			"user_id":         row.UserID,
			"account_balance": money.Format(row.AccountBalance),
			"initial_balance": money.Format(row.InitialBalance),
			"activity_sum":    money.Format(row.ActivitySum),
			"difference":      money.Format(row.Difference),
		})
	}
	respondJSON(w, http.StatusOK, response)
}
