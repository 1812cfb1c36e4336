package services

import (
	"context"
	"database/sql"
	"errors"

	"bankledger/internal/auth"
	"bankledger/internal/models"
	"bankledger/internal/store"
)

type accountReader interface {
	GetByID(ctx context.Context, q store.Getter, accountID int64) (models.Account, error)
}

type identityReader interface {
	GetByID(ctx context.Context, q store.Getter, userID string) (models.User, error)
}

// OwnershipGuard binds an acting identity to the accounts it may mutate.
type OwnershipGuard struct {
	accounts accountReader
	users    identityReader
}

func NewOwnershipGuard(accounts accountReader, users identityReader) *OwnershipGuard {
	return &OwnershipGuard{accounts: accounts, users: users}
}

// ValidateOwner reads through q so it sees the same snapshot as the
// surrounding ledger transaction.
func (g *OwnershipGuard) ValidateOwner(ctx context.Context, q store.Getter, accountID int64, actor auth.Principal) error {
	account, err := g.accounts.GetByID(ctx, q, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if actor.UserID == "" {
		return ErrIdentityNotFound
	}
	user, err := g.users.GetByID(ctx, q, actor.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return err
	}
	if account.UserID != user.ID {
		return ErrUnauthorizedAccount
	}
	return nil
}
