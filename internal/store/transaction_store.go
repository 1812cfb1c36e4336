package store

import (
	"context"
	"time"

	"bankledger/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Create appends a history record. Transactions are never updated or deleted.
func (s *TransactionStore) Create(ctx context.Context, tx Getter, input models.Transaction) (models.Transaction, error) {
	var inserted struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := tx.GetContext(ctx, &inserted, `
		INSERT INTO transactions (type, amount, account_id, transfer_id, client_request_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, string(input.Type), input.Amount, input.AccountID, input.TransferID, input.ClientRequestID)
	if err != nil {
		return models.Transaction{}, err
	}
	input.ID = inserted.ID
	input.CreatedAt = inserted.CreatedAt
	return input, nil
}
