package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTransfer   TransactionType = "TRANSFER"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Account is the persisted shape. It never carries its history; history is
// fetched explicitly through the activity index.
type Account struct {
	ID             int64           `db:"id"`
	AccountNumber  string          `db:"account_number"`
	UserID         string          `db:"user_id"`
	Balance        decimal.Decimal `db:"balance"`
	InitialBalance decimal.Decimal `db:"initial_balance"`
	CreatedAt      time.Time       `db:"created_at"`
}

type Transaction struct {
	ID              int64           `db:"id"`
	Type            TransactionType `db:"type"`
	Amount          decimal.Decimal `db:"amount"`
	AccountID       int64           `db:"account_id"`
	TransferID      *int64          `db:"transfer_id"`
	ClientRequestID *string         `db:"client_request_id"`
	CreatedAt       time.Time       `db:"created_at"`
}

type Transfer struct {
	ID                   int64           `db:"id"`
	Amount               decimal.Decimal `db:"amount"`
	SourceAccountID      int64           `db:"source_account_id"`
	DestinationAccountID int64           `db:"destination_account_id"`
	CreatedAt            time.Time       `db:"created_at"`
}

// TransactionView is one row of an account's history as seen from that
// account. SignedAmount is negative for money leaving the account.
type TransactionView struct {
	ID                   int64           `json:"id"`
	Type                 TransactionType `json:"type"`
	Amount               decimal.Decimal `json:"amount"`
	SignedAmount         decimal.Decimal `json:"signed_amount"`
	AccountID            int64           `json:"account_id"`
	TransferID           *int64          `json:"transfer_id,omitempty"`
	SourceAccountID      *int64          `json:"source_account_id,omitempty"`
	DestinationAccountID *int64          `json:"destination_account_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type AccountView struct {
	ID                 int64             `json:"id"`
	AccountNumber      string            `json:"account_number"`
	AvailableBalance   decimal.Decimal   `json:"available_balance"`
	TransactionHistory []TransactionView `json:"transaction_history"`
}

type RedactedAccountView struct {
	ID                 int64             `json:"id"`
	AccountNumber      string            `json:"account_number"`
	AvailableBalance   decimal.Decimal   `json:"available_balance"`
	TransactionHistory []TransactionView `json:"transaction_history"`
}
