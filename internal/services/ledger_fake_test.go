package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"bankledger/internal/auth"
	"bankledger/internal/events"
	"bankledger/internal/models"
	"bankledger/internal/store"
	"bankledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// memLedger is an in-memory stand-in for the postgres stores. WithTx holds a
// single mutex for the whole unit and restores a snapshot when fn fails, so
// every unit is serialized and all-or-nothing.
type memLedger struct {
	mu    sync.Mutex
	state memState

	// failUpdate, when set, is returned by the next UpdateBalance call.
	failUpdate error
	txCount    int
}

type memState struct {
	users        map[string]models.User
	accounts     map[int64]models.Account
	transactions map[int64]models.Transaction
	transfers    map[int64]models.Transfer
	activity     []store.ActivityEntry
	audit        []store.AuditEntry
	requestIDs   map[string]bool
	nextID       int64
}

func newMemLedger() *memLedger {
	return &memLedger{state: memState{
		users:        map[string]models.User{},
		accounts:     map[int64]models.Account{},
		transactions: map[int64]models.Transaction{},
		transfers:    map[int64]models.Transfer{},
		requestIDs:   map[string]bool{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		users:        make(map[string]models.User, len(s.users)),
		accounts:     make(map[int64]models.Account, len(s.accounts)),
		transactions: make(map[int64]models.Transaction, len(s.transactions)),
		transfers:    make(map[int64]models.Transfer, len(s.transfers)),
		activity:     append([]store.ActivityEntry(nil), s.activity...),
		audit:        append([]store.AuditEntry(nil), s.audit...),
		requestIDs:   make(map[string]bool, len(s.requestIDs)),
		nextID:       s.nextID,
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	for k, v := range s.transfers {
		out.transfers[k] = v
	}
	for k, v := range s.requestIDs {
		out.requestIDs[k] = v
	}
	return out
}

func (m *memLedger) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	snapshot := m.state.clone()
	if err := fn(nil); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memLedger) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

func (m *memLedger) addUser(username string) auth.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := models.User{ID: "user-" + username, Username: username, Email: username + "@example.com"}
	m.state.users[user.ID] = user
	return auth.Principal{UserID: user.ID, Username: username}
}

func (m *memLedger) addAccount(owner auth.Principal, number string, balance int64) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := models.Account{
		ID:             m.id(),
		AccountNumber:  number,
		UserID:         owner.UserID,
		Balance:        decimal.NewFromInt(balance),
		InitialBalance: decimal.NewFromInt(balance),
		CreatedAt:      time.Now(),
	}
	m.state.accounts[account.ID] = account
	return account
}

func (m *memLedger) balance(accountID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.accounts[accountID].Balance
}

func (m *memLedger) counts() (transactions, transfers, activity, audit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.transactions), len(m.state.transfers), len(m.state.activity), len(m.state.audit)
}

func (m *memLedger) history(accountID int64) []models.TransactionView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewsFor(accountID)
}

func (m *memLedger) viewsFor(accountID int64) []models.TransactionView {
	var views []models.TransactionView
	for _, entry := range m.state.activity {
		if entry.AccountID != accountID {
			continue
		}
		txn := m.state.transactions[entry.TransactionID]
		view := models.TransactionView{
			ID:           txn.ID,
			Type:         txn.Type,
			Amount:       txn.Amount,
			SignedAmount: entry.Amount,
			AccountID:    txn.AccountID,
			TransferID:   txn.TransferID,
			CreatedAt:    txn.CreatedAt,
		}
		if txn.TransferID != nil {
			transfer := m.state.transfers[*txn.TransferID]
			source, destination := transfer.SourceAccountID, transfer.DestinationAccountID
			view.SourceAccountID = &source
			view.DestinationAccountID = &destination
		}
		views = append(views, view)
	}
	return views
}

type memAccounts struct{ m *memLedger }

func (a memAccounts) Create(_ context.Context, _ store.Getter, account models.Account) (models.Account, error) {
	for _, existing := range a.m.state.accounts {
		if existing.AccountNumber == account.AccountNumber {
			return models.Account{}, &pq.Error{Code: "23505"}
		}
	}
	account.ID = a.m.id()
	account.CreatedAt = time.Now()
	a.m.state.accounts[account.ID] = account
	return account, nil
}

func (a memAccounts) NumberExists(_ context.Context, _ store.Getter, number string) (bool, error) {
	for _, existing := range a.m.state.accounts {
		if existing.AccountNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (a memAccounts) GetByID(_ context.Context, _ store.Getter, accountID int64) (models.Account, error) {
	account, ok := a.m.state.accounts[accountID]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (a memAccounts) GetForUpdate(ctx context.Context, q store.Getter, accountID int64) (models.Account, error) {
	return a.GetByID(ctx, q, accountID)
}

func (a memAccounts) UpdateBalance(_ context.Context, _ store.Execer, accountID int64, balance decimal.Decimal) error {
	if err := a.m.failUpdate; err != nil {
		a.m.failUpdate = nil
		return err
	}
	if balance.IsNegative() {
		return errors.New("balance check constraint violated")
	}
	account := a.m.state.accounts[accountID]
	account.Balance = balance
	a.m.state.accounts[accountID] = account
	return nil
}

func (a memAccounts) ListByUser(_ context.Context, _ store.Selecter, userID string) ([]models.Account, error) {
	var out []models.Account
	for _, account := range a.m.state.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a memAccounts) ListAll(_ context.Context, _ store.Selecter) ([]models.Account, error) {
	var out []models.Account
	for _, account := range a.m.state.accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a memAccounts) Delete(_ context.Context, _ store.Execer, accountID int64) (int64, error) {
	if _, ok := a.m.state.accounts[accountID]; !ok {
		return 0, nil
	}
	delete(a.m.state.accounts, accountID)
	kept := a.m.state.activity[:0]
	for _, entry := range a.m.state.activity {
		if entry.AccountID != accountID {
			kept = append(kept, entry)
		}
	}
	a.m.state.activity = kept
	return 1, nil
}

type memUsers struct{ m *memLedger }

func (u memUsers) GetByUsername(_ context.Context, _ store.Getter, username string) (models.User, error) {
	for _, user := range u.m.state.users {
		if user.Username == username {
			return user, nil
		}
	}
	return models.User{}, sql.ErrNoRows
}

func (u memUsers) GetByID(_ context.Context, _ store.Getter, userID string) (models.User, error) {
	user, ok := u.m.state.users[userID]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return user, nil
}

type memTransactions struct{ m *memLedger }

func (t memTransactions) Create(_ context.Context, _ store.Getter, input models.Transaction) (models.Transaction, error) {
	if input.ClientRequestID != nil {
		if t.m.state.requestIDs[*input.ClientRequestID] {
			return models.Transaction{}, &pq.Error{Code: "23505"}
		}
		t.m.state.requestIDs[*input.ClientRequestID] = true
	}
	input.ID = t.m.id()
	input.CreatedAt = time.Now()
	t.m.state.transactions[input.ID] = input
	return input, nil
}

type memTransfers struct{ m *memLedger }

func (t memTransfers) Create(_ context.Context, _ store.Getter, input models.Transfer) (models.Transfer, error) {
	input.ID = t.m.id()
	input.CreatedAt = time.Now()
	t.m.state.transfers[input.ID] = input
	return input, nil
}

type memActivity struct{ m *memLedger }

func (a memActivity) InsertEntries(_ context.Context, _ store.Execer, entries []store.ActivityEntry) error {
	a.m.state.activity = append(a.m.state.activity, entries...)
	return nil
}

func (a memActivity) ListByAccounts(_ context.Context, _ store.Selecter, accountIDs []int64) (map[int64][]models.TransactionView, error) {
	out := make(map[int64][]models.TransactionView, len(accountIDs))
	for _, id := range accountIDs {
		if views := a.m.viewsFor(id); len(views) > 0 {
			out[id] = views
		}
	}
	return out, nil
}

func (a memActivity) ListByAccount(_ context.Context, _ store.Selecter, accountID int64, limit, offset int) ([]models.TransactionView, error) {
	views := a.m.viewsFor(accountID)
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	if offset >= len(views) {
		return nil, nil
	}
	views = views[offset:]
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

type memAudit struct{ m *memLedger }

func (a memAudit) Log(_ context.Context, _ store.Execer, entry store.AuditEntry) error {
	a.m.state.audit = append(a.m.state.audit, entry)
	return nil
}

type recordingHub struct {
	mu      sync.Mutex
	updates map[string][]websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.updates == nil {
		h.updates = map[string][]websocket.BalanceUpdate{}
	}
	h.updates[userID] = append(h.updates[userID], update)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

// stepSource yields 0 for the first switchAt draws and 1 afterwards.
type stepSource struct {
	calls    int
	switchAt int
}

func (s *stepSource) Intn(int) int {
	s.calls++
	if s.calls > s.switchAt {
		return 1
	}
	return 0
}

type ledgerFixture struct {
	service   *LedgerService
	mem       *memLedger
	hub       *recordingHub
	publisher *recordingPublisher
}

func newLedgerFixture(src IntSource) ledgerFixture {
	mem := newMemLedger()
	hub := &recordingHub{}
	publisher := &recordingPublisher{}
	service := NewLedgerService(LedgerDeps{
		TxRunner:     mem,
		Accounts:     memAccounts{mem},
		Users:        memUsers{mem},
		Transactions: memTransactions{mem},
		Transfers:    memTransfers{mem},
		Activity:     memActivity{mem},
		Audit:        memAudit{mem},
		Generator:    NewAccountNumberGenerator(src),
		Hub:          hub,
		Publisher:    publisher,
	})
	return ledgerFixture{service: service, mem: mem, hub: hub, publisher: publisher}
}
