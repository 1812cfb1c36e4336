package store

import (
	"context"
	"time"

	"bankledger/internal/models"

	"github.com/shopspring/decimal"
)

type AccountStore struct {
	db DB
}

type ReconcileRow struct {
	AccountID      int64           `db:"account_id"`
	UserID         string          `db:"user_id"`
	AccountBalance decimal.Decimal `db:"account_balance"`
	InitialBalance decimal.Decimal `db:"initial_balance"`
	ActivitySum    decimal.Decimal `db:"activity_sum"`
	Difference     decimal.Decimal `db:"difference"`
}

const accountColumns = `id, account_number, user_id, balance, initial_balance, created_at`

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Getter, account models.Account) (models.Account, error) {
	var inserted struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := tx.GetContext(ctx, &inserted, `
		INSERT INTO accounts (account_number, user_id, balance, initial_balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, account.AccountNumber, account.UserID, account.Balance, account.InitialBalance)
	if err != nil {
		return models.Account{}, err
	}
	account.ID = inserted.ID
	account.CreatedAt = inserted.CreatedAt
	return account, nil
}

func (s *AccountStore) NumberExists(ctx context.Context, q Getter, accountNumber string) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)`, accountNumber)
	return exists, err
}

func (s *AccountStore) GetByID(ctx context.Context, q Getter, accountID int64) (models.Account, error) {
	var row models.Account
	err := q.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID int64) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) UpdateBalance(ctx context.Context, tx Execer, accountID int64, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`, balance, accountID)
	return err
}

func (s *AccountStore) ListByUser(ctx context.Context, q Selecter, userID string) ([]models.Account, error) {
	var rows []models.Account
	err := q.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *AccountStore) ListAll(ctx context.Context, q Selecter) ([]models.Account, error) {
	var rows []models.Account
	err := q.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes the account row. Its activity links go with it through the
// foreign key; transaction and transfer records are kept.
func (s *AccountStore) Delete(ctx context.Context, tx Execer, accountID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reconcile compares each stored balance with its seed plus the signed sum of
// its history. A non-zero difference means the two have drifted apart. An
// empty userID reconciles every account.
func (s *AccountStore) Reconcile(ctx context.Context, userID string) ([]ReconcileRow, error) {
	var rows []ReconcileRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS account_id,
		       a.user_id,
		       a.balance AS account_balance,
		       a.initial_balance,
		       COALESCE(SUM(act.amount), 0) AS activity_sum,
		       (a.balance - a.initial_balance - COALESCE(SUM(act.amount), 0)) AS difference
		FROM accounts a
		LEFT JOIN account_activity act ON act.account_id = a.id
		WHERE ($1 = '' OR a.user_id = $1)
		GROUP BY a.id, a.user_id, a.balance, a.initial_balance
		ORDER BY a.id
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
