package store

import (
	"context"
	"time"

	"bankledger/internal/models"
)

type TransferStore struct {
	db DB
}

func NewTransferStore(db DB) *TransferStore {
	return &TransferStore{db: db}
}

func (s *TransferStore) Create(ctx context.Context, tx Getter, input models.Transfer) (models.Transfer, error) {
	var inserted struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := tx.GetContext(ctx, &inserted, `
		INSERT INTO transfers (amount, source_account_id, destination_account_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, input.Amount, input.SourceAccountID, input.DestinationAccountID)
	if err != nil {
		return models.Transfer{}, err
	}
	input.ID = inserted.ID
	input.CreatedAt = inserted.CreatedAt
	return input, nil
}
