package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"bankledger/internal/middleware"
	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/services"
)

type amountRequest struct {
	Amount          string  `json:"amount"`
	ClientRequestID *string `json:"client_request_id"`
}

func decodeAmountRequest(w http.ResponseWriter, r *http.Request) (amountRequest, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return amountRequest{}, false
	}
	if req.ClientRequestID != nil {
		trimmed := strings.TrimSpace(*req.ClientRequestID)
		if trimmed == "" {
			req.ClientRequestID = nil
		} else {
			req.ClientRequestID = &trimmed
		}
	}
	return req, true
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ledger.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ledger.Withdraw)
}

type mutationFunc func(ctx context.Context, req services.MutationRequest) (models.AccountView, error)

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, apply mutationFunc) {
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
	req, ok := decodeAmountRequest(w, r)
	if !ok {
		return
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	view, err := apply(r.Context(), services.MutationRequest{
		AccountID:       accountID,
		Amount:          amount,
		Actor:           principal,
		ClientRequestID: req.ClientRequestID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAccountResponse(view))
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	fromID, ok := accountIDParam(r, "fromId")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	toID, ok := accountIDParam(r, "toId")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	req, ok := decodeAmountRequest(w, r)
	if !ok {
		return
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	view, err := h.ledger.Transfer(r.Context(), services.TransferRequest{
		SourceAccountID:      fromID,
		DestinationAccountID: toID,
		Amount:               amount,
		Actor:                principal,
		ClientRequestID:      req.ClientRequestID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAccountResponse(view))
}
