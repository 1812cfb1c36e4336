package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bankledger/internal/auth"
	"bankledger/internal/db"
	"bankledger/internal/events"
	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/store"
	"bankledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	defaultNumberAttempts = 5
	defaultHistoryLimit   = 20
	maxHistoryLimit       = 100
	publishTimeout        = 5 * time.Second
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Getter, account models.Account) (models.Account, error)
	NumberExists(ctx context.Context, q store.Getter, accountNumber string) (bool, error)
	GetByID(ctx context.Context, q store.Getter, accountID int64) (models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID int64) (models.Account, error)
	UpdateBalance(ctx context.Context, tx store.Execer, accountID int64, balance decimal.Decimal) error
	ListByUser(ctx context.Context, q store.Selecter, userID string) ([]models.Account, error)
	ListAll(ctx context.Context, q store.Selecter) ([]models.Account, error)
	Delete(ctx context.Context, tx store.Execer, accountID int64) (int64, error)
}

type UserStore interface {
	GetByUsername(ctx context.Context, q store.Getter, username string) (models.User, error)
	GetByID(ctx context.Context, q store.Getter, userID string) (models.User, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Getter, input models.Transaction) (models.Transaction, error)
}

type TransferStore interface {
	Create(ctx context.Context, tx store.Getter, input models.Transfer) (models.Transfer, error)
}

type ActivityStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.ActivityEntry) error
	ListByAccounts(ctx context.Context, q store.Selecter, accountIDs []int64) (map[int64][]models.TransactionView, error)
	ListByAccount(ctx context.Context, q store.Selecter, accountID int64, limit, offset int) ([]models.TransactionView, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.LedgerEvent) error
}

type LedgerDeps struct {
	TxRunner       db.TxRunner
	Accounts       AccountStore
	Users          UserStore
	Transactions   TransactionStore
	Transfers      TransferStore
	Activity       ActivityStore
	Audit          AuditStore
	Generator      *AccountNumberGenerator
	Hub            BalanceHub
	Publisher      EventPublisher
	NumberAttempts int
}

// LedgerService owns every balance change. Each operation runs as one
// database transaction: the balance update, its history record and the audit
// row commit together or not at all.
type LedgerService struct {
	txRunner       db.TxRunner
	accounts       AccountStore
	users          UserStore
	transactions   TransactionStore
	transfers      TransferStore
	activity       ActivityStore
	audit          AuditStore
	generator      *AccountNumberGenerator
	guard          *OwnershipGuard
	hub            BalanceHub
	publisher      EventPublisher
	numberAttempts int
	now            func() time.Time
}

func NewLedgerService(deps LedgerDeps) *LedgerService {
	s := &LedgerService{
		txRunner:       deps.TxRunner,
		accounts:       deps.Accounts,
		users:          deps.Users,
		transactions:   deps.Transactions,
		transfers:      deps.Transfers,
		activity:       deps.Activity,
		audit:          deps.Audit,
		generator:      deps.Generator,
		guard:          NewOwnershipGuard(deps.Accounts, deps.Users),
		hub:            deps.Hub,
		publisher:      deps.Publisher,
		numberAttempts: deps.NumberAttempts,
		now:            time.Now,
	}
	if s.generator == nil {
		s.generator = NewAccountNumberGenerator(nil)
	}
	if s.hub == nil {
		s.hub = nopHub{}
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.numberAttempts <= 0 {
		s.numberAttempts = defaultNumberAttempts
	}
	return s
}

type CreateAccountRequest struct {
	OwnerUsername string
	SeedBalance   *decimal.Decimal
}

type MutationRequest struct {
	AccountID       int64
	Amount          decimal.Decimal
	Actor           auth.Principal
	ClientRequestID *string
}

type TransferRequest struct {
	SourceAccountID      int64
	DestinationAccountID int64
	Amount               decimal.Decimal
	Actor                auth.Principal
	ClientRequestID      *string
}

func (s *LedgerService) CreateAccount(ctx context.Context, req CreateAccountRequest) (models.AccountView, error) {
	seed := decimal.Zero
	if req.SeedBalance != nil {
		if req.SeedBalance.IsNegative() || !hasMoneyScale(*req.SeedBalance) || !money.InRange(*req.SeedBalance) {
			return models.AccountView{}, ErrInvalidAmount
		}
		seed = *req.SeedBalance
	}
	var created models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		owner, err := s.users.GetByUsername(ctx, tx, req.OwnerUsername)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		number, err := s.allocateNumber(ctx, tx)
		if err != nil {
			return err
		}
		created, err = s.accounts.Create(ctx, tx, models.Account{
			AccountNumber:  number,
			UserID:         owner.ID,
			Balance:        seed,
			InitialBalance: seed,
		})
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: account number %s taken concurrently", ErrStorageConflict, number)
		}
		if err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    owner.ID,
			Action:     "account.create",
			EntityType: "account",
			EntityID:   formatID(created.ID),
			Data: map[string]string{
				"account_number":  number,
				"initial_balance": money.Format(seed),
			},
		})
	})
	if err != nil {
		return models.AccountView{}, err
	}
	s.publish(ctx, events.LedgerEvent{
		Type:        events.TypeAccount,
		AccountID:   created.ID,
		Balance:     money.Format(created.Balance),
		ActorUserID: created.UserID,
	})
	return MapAccountView(created, nil), nil
}

// allocateNumber draws candidates until one is free or the attempt budget
// runs out.
func (s *LedgerService) allocateNumber(ctx context.Context, q store.Getter) (string, error) {
	for attempt := 1; attempt <= s.numberAttempts; attempt++ {
		candidate := s.generator.Generate()
		taken, err := s.accounts.NumberExists(ctx, q, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		slog.DebugContext(ctx, "account number collision", "attempt", attempt)
	}
	return "", ErrNumberSpaceExhausted
}

func (s *LedgerService) Deposit(ctx context.Context, req MutationRequest) (models.AccountView, error) {
	return s.applySingle(ctx, req, models.TransactionDeposit)
}

func (s *LedgerService) Withdraw(ctx context.Context, req MutationRequest) (models.AccountView, error) {
	return s.applySingle(ctx, req, models.TransactionWithdrawal)
}

// applySingle runs a deposit or withdrawal. Ownership is checked before the
// amount.
func (s *LedgerService) applySingle(ctx context.Context, req MutationRequest, kind models.TransactionType) (models.AccountView, error) {
	var view models.AccountView
	var updated models.Account
	var recorded models.Transaction
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.guard.ValidateOwner(ctx, tx, req.AccountID, req.Actor); err != nil {
			return err
		}
		if !validAmount(req.Amount) {
			return ErrInvalidAmount
		}
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		signed := req.Amount
		if kind == models.TransactionWithdrawal {
			if account.Balance.LessThan(req.Amount) {
				return ErrInsufficientFunds
			}
			signed = req.Amount.Neg()
		}
		newBalance := account.Balance.Add(signed)
		if !money.InRange(newBalance) {
			return ErrInvalidAmount
		}

		recorded, err = s.recordTransaction(ctx, tx, models.Transaction{
			Type:            kind,
			Amount:          req.Amount,
			AccountID:       account.ID,
			ClientRequestID: req.ClientRequestID,
		})
		if err != nil {
			return err
		}
		if err := s.activity.InsertEntries(ctx, tx, []store.ActivityEntry{
			{AccountID: account.ID, TransactionID: recorded.ID, Amount: signed},
		}); err != nil {
			return err
		}
		if err := s.accounts.UpdateBalance(ctx, tx, account.ID, newBalance); err != nil {
			return err
		}
		account.Balance = newBalance
		updated = account

		history, err := s.activity.ListByAccounts(ctx, tx, []int64{account.ID})
		if err != nil {
			return err
		}
		view = MapAccountView(account, history[account.ID])
		return s.audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    req.Actor.UserID,
			Action:     auditAction(kind),
			EntityType: "transaction",
			EntityID:   formatID(recorded.ID),
			Data: map[string]string{
				"account_id":    formatID(account.ID),
				"amount":        money.Format(req.Amount),
				"balance_after": money.Format(newBalance),
			},
		})
	})
	if err != nil {
		return models.AccountView{}, err
	}
	eventType := eventTypeFor(kind)
	s.pushBalance(updated, eventType)
	s.publish(ctx, events.LedgerEvent{
		Type:          eventType,
		AccountID:     updated.ID,
		TransactionID: &recorded.ID,
		Amount:        money.Format(req.Amount),
		Balance:       money.Format(updated.Balance),
		ActorUserID:   req.Actor.UserID,
	})
	return view, nil
}

// Transfer moves funds out of an account the actor owns into any other
// account and returns the source account as it stands after the move. Only
// the source account's ownership is checked, and it is checked before the
// amount and the destination.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (models.AccountView, error) {
	var view models.AccountView
	var source, destination models.Account
	var recorded models.Transaction
	var transfer models.Transfer
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.guard.ValidateOwner(ctx, tx, req.SourceAccountID, req.Actor); err != nil {
			return err
		}
		if !validAmount(req.Amount) {
			return ErrInvalidAmount
		}
		if req.SourceAccountID == req.DestinationAccountID {
			return ErrSameAccountTransfer
		}
		from, to, err := s.lockTwoAccounts(ctx, tx, req.SourceAccountID, req.DestinationAccountID)
		if err != nil {
			return err
		}
		if from.Balance.LessThan(req.Amount) {
			return ErrInsufficientFunds
		}
		newFrom := from.Balance.Sub(req.Amount)
		newTo := to.Balance.Add(req.Amount)
		if !money.InRange(newTo) {
			return ErrInvalidAmount
		}

		transfer, err = s.transfers.Create(ctx, tx, models.Transfer{
			Amount:               req.Amount,
			SourceAccountID:      from.ID,
			DestinationAccountID: to.ID,
		})
		if err != nil {
			return err
		}
		recorded, err = s.recordTransaction(ctx, tx, models.Transaction{
			Type:            models.TransactionTransfer,
			Amount:          req.Amount,
			AccountID:       from.ID,
			TransferID:      &transfer.ID,
			ClientRequestID: req.ClientRequestID,
		})
		if err != nil {
			return err
		}
		entries := []store.ActivityEntry{
			{AccountID: from.ID, TransactionID: recorded.ID, Amount: req.Amount.Neg()},
			{AccountID: to.ID, TransactionID: recorded.ID, Amount: req.Amount},
		}
		if err := ensureBalanced(entries); err != nil {
			return err
		}
		if err := s.activity.InsertEntries(ctx, tx, entries); err != nil {
			return err
		}
		if err := s.accounts.UpdateBalance(ctx, tx, from.ID, newFrom); err != nil {
			return err
		}
		if err := s.accounts.UpdateBalance(ctx, tx, to.ID, newTo); err != nil {
			return err
		}
		from.Balance = newFrom
		to.Balance = newTo
		source, destination = from, to

		history, err := s.activity.ListByAccounts(ctx, tx, []int64{from.ID})
		if err != nil {
			return err
		}
		view = MapAccountView(from, history[from.ID])
		return s.audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    req.Actor.UserID,
			Action:     "ledger.transfer",
			EntityType: "transfer",
			EntityID:   formatID(transfer.ID),
			Data: map[string]string{
				"transaction_id":         formatID(recorded.ID),
				"source_account_id":      formatID(from.ID),
				"destination_account_id": formatID(to.ID),
				"amount":                 money.Format(req.Amount),
			},
		})
	})
	if err != nil {
		return models.AccountView{}, err
	}
	s.pushBalance(source, events.TypeTransfer)
	s.pushBalance(destination, events.TypeTransfer)
	s.publish(ctx, events.LedgerEvent{
		Type:                 events.TypeTransfer,
		AccountID:            source.ID,
		DestinationAccountID: &destination.ID,
		TransactionID:        &recorded.ID,
		TransferID:           &transfer.ID,
		Amount:               money.Format(req.Amount),
		Balance:              money.Format(source.Balance),
		ActorUserID:          req.Actor.UserID,
	})
	return view, nil
}

func (s *LedgerService) ListAccountsForUser(ctx context.Context, username string) ([]models.AccountView, error) {
	var views []models.AccountView
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		owner, err := s.users.GetByUsername(ctx, tx, username)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		accounts, err := s.accounts.ListByUser(ctx, tx, owner.ID)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ErrNoAccountsFound
		}
		history, err := s.activity.ListByAccounts(ctx, tx, accountIDs(accounts))
		if err != nil {
			return err
		}
		views = make([]models.AccountView, 0, len(accounts))
		for _, account := range accounts {
			views = append(views, MapAccountView(account, history[account.ID]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// AdminListAccounts returns every account with its number redacted. The
// stored accounts are never modified.
func (s *LedgerService) AdminListAccounts(ctx context.Context) ([]models.RedactedAccountView, error) {
	var views []models.RedactedAccountView
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts, err := s.accounts.ListAll(ctx, tx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ErrNoAccountsFound
		}
		history, err := s.activity.ListByAccounts(ctx, tx, accountIDs(accounts))
		if err != nil {
			return err
		}
		views = make([]models.RedactedAccountView, 0, len(accounts))
		for _, account := range accounts {
			views = append(views, MapRedactedAccountView(account, history[account.ID]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// DeleteAccount removes the account and its history links. Transaction and
// transfer records stay behind for audit.
func (s *LedgerService) DeleteAccount(ctx context.Context, accountID int64, actor auth.Principal) error {
	var deleted models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		rows, err := s.accounts.Delete(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrAccountNotFound
		}
		deleted = account
		return s.audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    actor.UserID,
			Action:     "account.delete",
			EntityType: "account",
			EntityID:   formatID(account.ID),
			Data: map[string]string{
				"owner_user_id": account.UserID,
				"balance":       money.Format(account.Balance),
			},
		})
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.LedgerEvent{
		Type:        events.TypeDeleted,
		AccountID:   deleted.ID,
		Balance:     money.Format(deleted.Balance),
		ActorUserID: actor.UserID,
	})
	return nil
}

// AccountHistory pages through one account's history, newest first. Only the
// owner may read it.
func (s *LedgerService) AccountHistory(ctx context.Context, accountID int64, actor auth.Principal, limit, offset int) ([]models.TransactionView, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	var history []models.TransactionView
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.guard.ValidateOwner(ctx, tx, accountID, actor); err != nil {
			return err
		}
		var err error
		history, err = s.activity.ListByAccount(ctx, tx, accountID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []models.TransactionView{}
	}
	return history, nil
}

func (s *LedgerService) recordTransaction(ctx context.Context, tx store.Getter, input models.Transaction) (models.Transaction, error) {
	recorded, err := s.transactions.Create(ctx, tx, input)
	if err != nil && input.ClientRequestID != nil && db.IsUniqueViolation(err) {
		return models.Transaction{}, ErrDuplicateRequest
	}
	return recorded, err
}

func (s *LedgerService) lockAccount(ctx context.Context, tx store.Getter, accountID int64) (models.Account, error) {
	account, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	return account, err
}

// lockTwoAccounts takes both row locks in ascending id order so that
// opposing transfers cannot deadlock, and returns them in argument order.
func (s *LedgerService) lockTwoAccounts(ctx context.Context, tx store.Getter, firstID, secondID int64) (models.Account, models.Account, error) {
	leftID, rightID := orderedIDs(firstID, secondID)
	left, err := s.lockAccount(ctx, tx, leftID)
	if err != nil {
		return models.Account{}, models.Account{}, err
	}
	right, err := s.lockAccount(ctx, tx, rightID)
	if err != nil {
		return models.Account{}, models.Account{}, err
	}
	if firstID == leftID {
		return left, right, nil
	}
	return right, left, nil
}

func orderedIDs(firstID, secondID int64) (int64, int64) {
	if firstID <= secondID {
		return firstID, secondID
	}
	return secondID, firstID
}

func ensureBalanced(entries []store.ActivityEntry) error {
	sum := decimal.Zero
	for _, entry := range entries {
		sum = sum.Add(entry.Amount)
	}
	if !sum.IsZero() {
		return errors.New("activity entries are not balanced")
	}
	return nil
}

// pushBalance and publish run after commit. Their failures are logged and
// never undo the committed change.
func (s *LedgerService) pushBalance(account models.Account, eventType string) {
	s.hub.BroadcastBalance(account.UserID, websocket.BalanceUpdate{
		AccountID: account.ID,
		Balance:   money.Format(account.Balance),
		Event:     eventType,
	})
}

func (s *LedgerService) publish(ctx context.Context, event events.LedgerEvent) {
	event.ID = uuid.NewString()
	event.OccurredAt = s.now().UTC()
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, event); err != nil {
		slog.WarnContext(ctx, "publish ledger event", "type", event.Type, "account_id", event.AccountID, "error", err)
	}
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && hasMoneyScale(amount) && money.InRange(amount)
}

func hasMoneyScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(money.Scale))
}

func accountIDs(accounts []models.Account) []int64 {
	ids := make([]int64, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.ID)
	}
	return ids
}

func auditAction(kind models.TransactionType) string {
	switch kind {
	case models.TransactionDeposit:
		return "ledger.deposit"
	case models.TransactionWithdrawal:
		return "ledger.withdrawal"
	}
	return "ledger.transfer"
}

func eventTypeFor(kind models.TransactionType) string {
	switch kind {
	case models.TransactionDeposit:
		return events.TypeDeposit
	case models.TransactionWithdrawal:
		return events.TypeWithdrawal
	}
	return events.TypeTransfer
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

type nopHub struct{}

func (nopHub) BroadcastBalance(string, websocket.BalanceUpdate) {}
