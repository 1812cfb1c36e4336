package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bankledger/internal/auth"
	"bankledger/internal/config"
	"bankledger/internal/models"
	"bankledger/internal/services"
	"bankledger/internal/store"
	"bankledger/internal/websocket"

	"github.com/jmoiron/sqlx"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn        func(ctx context.Context, id, username, email, passwordHash string) error
	getByEmailFn    func(ctx context.Context, email string) (models.User, error)
	getByUsernameFn func(ctx context.Context, username string) (models.User, error)
	getByIDFn       func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, _ store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByUsername(ctx context.Context, _ store.Getter, username string) (models.User, error) {
	if s.getByUsernameFn == nil {
		return models.User{}, nil
	}
	return s.getByUsernameFn(ctx, username)
}

func (s stubUserStore) GetByID(ctx context.Context, _ store.Getter, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn     func(ctx context.Context, userID, role string) (bool, error)
	createAdminFn func(ctx context.Context, userID string, isSuper bool, createdBy *string) error
	grantRoleFn   func(ctx context.Context, adminUserID, role string) error
	hasAnyAdminFn func(ctx context.Context) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, _ store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, _ store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, adminUserID, role)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context, _ store.Getter) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, entry store.AuditEntry) error
	listFn func(ctx context.Context, limit, offset int) ([]store.AuditLog, error)
}

func (s stubAuditStore) Log(ctx context.Context, _ store.Execer, entry store.AuditEntry) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, entry)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]store.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubReconciler struct {
	reconcileFn func(ctx context.Context, userID string) ([]store.ReconcileRow, error)
}

func (s stubReconciler) Reconcile(ctx context.Context, userID string) ([]store.ReconcileRow, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx, userID)
}

type stubLedger struct {
	createAccountFn func(ctx context.Context, req services.CreateAccountRequest) (models.AccountView, error)
	depositFn       func(ctx context.Context, req services.MutationRequest) (models.AccountView, error)
	withdrawFn      func(ctx context.Context, req services.MutationRequest) (models.AccountView, error)
	transferFn      func(ctx context.Context, req services.TransferRequest) (models.AccountView, error)
	listForUserFn   func(ctx context.Context, username string) ([]models.AccountView, error)
	adminListFn     func(ctx context.Context) ([]models.RedactedAccountView, error)
	deleteFn        func(ctx context.Context, accountID int64, actor auth.Principal) error
	historyFn       func(ctx context.Context, accountID int64, actor auth.Principal, limit, offset int) ([]models.TransactionView, error)
}

func (s stubLedger) CreateAccount(ctx context.Context, req services.CreateAccountRequest) (models.AccountView, error) {
	return s.createAccountFn(ctx, req)
}

func (s stubLedger) Deposit(ctx context.Context, req services.MutationRequest) (models.AccountView, error) {
	return s.depositFn(ctx, req)
}

func (s stubLedger) Withdraw(ctx context.Context, req services.MutationRequest) (models.AccountView, error) {
	return s.withdrawFn(ctx, req)
}

func (s stubLedger) Transfer(ctx context.Context, req services.TransferRequest) (models.AccountView, error) {
	return s.transferFn(ctx, req)
}

func (s stubLedger) ListAccountsForUser(ctx context.Context, username string) ([]models.AccountView, error) {
	return s.listForUserFn(ctx, username)
}

func (s stubLedger) AdminListAccounts(ctx context.Context) ([]models.RedactedAccountView, error) {
	return s.adminListFn(ctx)
}

func (s stubLedger) DeleteAccount(ctx context.Context, accountID int64, actor auth.Principal) error {
	return s.deleteFn(ctx, accountID, actor)
}

func (s stubLedger) AccountHistory(ctx context.Context, accountID int64, actor auth.Principal, limit, offset int) ([]models.TransactionView, error) {
	return s.historyFn(ctx, accountID, actor, limit, offset)
}

type testDeps struct {
	txRunner   fakeTxRunner
	users      stubUserStore
	admin      stubAdminStore
	audit      stubAuditStore
	reconciler stubReconciler
	ledger     stubLedger
}

func newTestHandler(deps testDeps) *Handler {
	return New(Deps{
		TxRunner:   deps.txRunner,
		Config:     config.Config{JWTSecret: testSecret, TokenTTL: time.Minute, AllowedOrigins: "*"},
		Users:      deps.users,
		Admin:      deps.admin,
		Audit:      deps.audit,
		Reconciler: deps.reconciler,
		Ledger:     deps.ledger,
		Hub:        websocket.NewHub(),
	})
}

func tokenFor(t *testing.T, principal auth.Principal) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, principal, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

// serve sends a request through the full router. An empty token sends no
// Authorization header.
func serve(t *testing.T, handler *Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dest); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

var alice = auth.Principal{UserID: "user-alice", Username: "alice"}
