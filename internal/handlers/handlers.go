package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/services"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{services.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{services.ErrIdentityNotFound, http.StatusNotFound, "identity_not_found"},
	{services.ErrNoAccountsFound, http.StatusNotFound, "no_accounts_found"},
	{services.ErrUnauthorizedAccount, http.StatusForbidden, "access_denied"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrSameAccountTransfer, http.StatusBadRequest, "same_account_transfer"},
	{services.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
	{services.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{services.ErrStorageConflict, http.StatusConflict, "storage_conflict"},
	{services.ErrStorageTimeout, http.StatusServiceUnavailable, "storage_timeout"},
	{services.ErrNumberSpaceExhausted, http.StatusServiceUnavailable, "account_number_unavailable"},
}

// respondServiceError maps a ledger failure onto its status and error code.
// Anything unrecognised is logged and reported as a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, known := range serviceErrors {
		if errors.Is(err, known.err) {
			respondError(w, known.status, known.code)
			return
		}
	}
	slog.ErrorContext(r.Context(), "request failed",
		"request_id", chimiddleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	respondError(w, http.StatusInternalServerError, "internal_error")
}

type transactionResponse struct {
	ID                   int64                  `json:"id"`
	Type                 models.TransactionType `json:"type"`
	Amount               string                 `json:"amount"`
	SignedAmount         string                 `json:"signed_amount"`
	AccountID            int64                  `json:"account_id"`
	TransferID           *int64                 `json:"transfer_id,omitempty"`
	SourceAccountID      *int64                 `json:"source_account_id,omitempty"`
	DestinationAccountID *int64                 `json:"destination_account_id,omitempty"`
	CreatedAt            string                 `json:"created_at"`
}

type accountResponse struct {
	ID                 int64                 `json:"id"`
	AccountNumber      string                `json:"account_number"`
	AvailableBalance   string                `json:"available_balance"`
	TransactionHistory []transactionResponse `json:"transaction_history"`
}

func newTransactionResponses(history []models.TransactionView) []transactionResponse {
	out := make([]transactionResponse, 0, len(history))
	for _, item := range history {
		out = append(out, transactionResponse{
			ID:                   item.ID,
			Type:                 item.Type,
			Amount:               money.Format(item.Amount),
			SignedAmount:         money.Format(item.SignedAmount),
			AccountID:            item.AccountID,
			TransferID:           item.TransferID,
			SourceAccountID:      item.SourceAccountID,
			DestinationAccountID: item.DestinationAccountID,
			CreatedAt:            item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func newAccountResponse(view models.AccountView) accountResponse {
	return accountResponse{
		ID:                 view.ID,
		AccountNumber:      view.AccountNumber,
		AvailableBalance:   money.Format(view.AvailableBalance),
		TransactionHistory: newTransactionResponses(view.TransactionHistory),
	}
}

func newRedactedAccountResponse(view models.RedactedAccountView) accountResponse {
	return accountResponse{
		ID:                 view.ID,
		AccountNumber:      view.AccountNumber,
		AvailableBalance:   money.Format(view.AvailableBalance),
		TransactionHistory: newTransactionResponses(view.TransactionHistory),
	}
}

func accountIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

const maxPageLimit = 100

// pagination reads page and limit. limit is capped at maxPageLimit; a page
// that is malformed or whose offset would overflow is rejected.
func pagination(r *http.Request, defaultLimit int) (int, int, bool) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), defaultLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	page := 1
	if raw := query.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed-1 > math.MaxInt/limit {
			return 0, 0, false
		}
		page = parsed
	}
	return limit, (page - 1) * limit, true
}
