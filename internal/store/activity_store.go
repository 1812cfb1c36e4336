package store

import (
	"context"
	"time"

	"bankledger/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ActivityStore maintains account_activity, the per-account history index.
// Each row links one account to one transaction with the amount signed from
// that account's point of view.
type ActivityStore struct {
	db DB
}

type ActivityEntry struct {
	AccountID     int64
	TransactionID int64
	Amount        decimal.Decimal
}

type activityRow struct {
	HistoryAccountID     int64                  `db:"history_account_id"`
	ID                   int64                  `db:"id"`
	Type                 models.TransactionType `db:"type"`
	Amount               decimal.Decimal        `db:"amount"`
	SignedAmount         decimal.Decimal        `db:"signed_amount"`
	AccountID            int64                  `db:"account_id"`
	TransferID           *int64                 `db:"transfer_id"`
	SourceAccountID      *int64                 `db:"source_account_id"`
	DestinationAccountID *int64                 `db:"destination_account_id"`
	CreatedAt            time.Time              `db:"created_at"`
}

const activitySelect = `
	SELECT act.account_id AS history_account_id,
	       t.id, t.type, t.amount, act.amount AS signed_amount, t.account_id, t.transfer_id,
	       tr.source_account_id, tr.destination_account_id, t.created_at
	FROM account_activity act
	JOIN transactions t ON t.id = act.transaction_id
	LEFT JOIN transfers tr ON tr.id = t.transfer_id
`

func NewActivityStore(db DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) InsertEntries(ctx context.Context, tx Execer, entries []ActivityEntry) error {
	query := `
		INSERT INTO account_activity (account_id, transaction_id, amount)
		VALUES ($1, $2, $3)
	`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query, entry.AccountID, entry.TransactionID, entry.Amount); err != nil {
			return err
		}
	}
	return nil
}

// ListByAccounts returns the full history of every given account, oldest
// first, keyed by account id.
func (s *ActivityStore) ListByAccounts(ctx context.Context, q Selecter, accountIDs []int64) (map[int64][]models.TransactionView, error) {
	history := make(map[int64][]models.TransactionView, len(accountIDs))
	if len(accountIDs) == 0 {
		return history, nil
	}
	var rows []activityRow
	err := q.SelectContext(ctx, &rows, activitySelect+`
		WHERE act.account_id = ANY($1)
		ORDER BY act.account_id, t.created_at, t.id
	`, pq.Array(accountIDs))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		history[row.HistoryAccountID] = append(history[row.HistoryAccountID], row.view())
	}
	return history, nil
}

// ListByAccount pages through one account's history, newest first.
func (s *ActivityStore) ListByAccount(ctx context.Context, q Selecter, accountID int64, limit, offset int) ([]models.TransactionView, error) {
	var rows []activityRow
	err := q.SelectContext(ctx, &rows, activitySelect+`
		WHERE act.account_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]models.TransactionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, row.view())
	}
	return views, nil
}

func (r activityRow) view() models.TransactionView {
	return models.TransactionView{
		ID:                   r.ID,
		Type:                 r.Type,
		Amount:               r.Amount,
		SignedAmount:         r.SignedAmount,
		AccountID:            r.AccountID,
		TransferID:           r.TransferID,
		SourceAccountID:      r.SourceAccountID,
		DestinationAccountID: r.DestinationAccountID,
		CreatedAt:            r.CreatedAt,
	}
}
