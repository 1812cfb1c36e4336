package store

import (
	"context"

	"bankledger/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, username, email, password_hash, created_at`

func (s *UserStore) Create(ctx context.Context, tx Execer, id, username, email, passwordHash string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, id, username, email, passwordHash)
	return err
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var row models.User
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return row, err
}

// GetByUsername reads through q so that callers inside a ledger transaction
// see the same snapshot as the rest of the unit.
func (s *UserStore) GetByUsername(ctx context.Context, q Getter, username string) (models.User, error) {
	var row models.User
	err := q.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return row, err
}

func (s *UserStore) GetByID(ctx context.Context, q Getter, userID string) (models.User, error) {
	var row models.User
	err := q.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return row, err
}
