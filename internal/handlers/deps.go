package handlers

import (
	"context"

	"bankledger/internal/auth"
	"bankledger/internal/models"
	"bankledger/internal/services"
	"bankledger/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByUsername(ctx context.Context, q store.Getter, username string) (models.User, error)
	GetByID(ctx context.Context, q store.Getter, userID string) (models.User, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
	HasAnyAdmin(ctx context.Context, q store.Getter) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]store.AuditLog, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string) ([]store.ReconcileRow, error)
}

type LedgerService interface {
	CreateAccount(ctx context.Context, req services.CreateAccountRequest) (models.AccountView, error)
	Deposit(ctx context.Context, req services.MutationRequest) (models.AccountView, error)
	Withdraw(ctx context.Context, req services.MutationRequest) (models.AccountView, error)
	Transfer(ctx context.Context, req services.TransferRequest) (models.AccountView, error)
	ListAccountsForUser(ctx context.Context, username string) ([]models.AccountView, error)
	AdminListAccounts(ctx context.Context) ([]models.RedactedAccountView, error)
	DeleteAccount(ctx context.Context, accountID int64, actor auth.Principal) error
	AccountHistory(ctx context.Context, accountID int64, actor auth.Principal, limit, offset int) ([]models.TransactionView, error)
}
