package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func TestActivityStoreInsertEntries(t *testing.T) {
	var calls int
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO account_activity") {
				t.Fatalf("unexpected query: %s", query)
			}
			calls++
			return stubResult{rows: 1}, nil
		},
	}
	store := NewActivityStore(stubDB{})
	err := store.InsertEntries(context.Background(), execer, []ActivityEntry{
		{AccountID: 1, TransactionID: 10, Amount: decimal.NewFromInt(-200)},
		{AccountID: 2, TransactionID: 10, Amount: decimal.NewFromInt(200)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 inserts, got %d", calls)
	}
}

func TestActivityStoreListByAccountsGroupsHistory(t *testing.T) {
	xdb, mock := newMockDB(t)
	now := time.Now().UTC()
	columns := []string{
		"history_account_id", "id", "type", "amount", "signed_amount", "account_id", "transfer_id",
		"source_account_id", "destination_account_id", "created_at",
	}
	mock.ExpectQuery("WHERE act.account_id = ANY").
		WithArgs(pq.Array([]int64{1, 2})).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(1), int64(10), "DEPOSIT", "500.00", "500.00", int64(1), nil, nil, nil, now).
			AddRow(int64(1), int64(11), "TRANSFER", "200.00", "-200.00", int64(1), int64(3), int64(1), int64(2), now).
			AddRow(int64(2), int64(11), "TRANSFER", "200.00", "200.00", int64(1), int64(3), int64(1), int64(2), now))

	store := NewActivityStore(xdb)
	history, err := store.ListByAccounts(context.Background(), xdb, []int64{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history[1]) != 2 || len(history[2]) != 1 {
		t.Fatalf("unexpected grouping: %#v", history)
	}
	incoming := history[2][0]
	if !incoming.SignedAmount.Equal(decimal.NewFromInt(200)) || incoming.DestinationAccountID == nil || *incoming.DestinationAccountID != 2 {
		t.Fatalf("unexpected incoming entry: %#v", incoming)
	}
	if !history[1][1].SignedAmount.Equal(decimal.NewFromInt(-200)) {
		t.Fatalf("unexpected outgoing entry: %#v", history[1][1])
	}
}

func TestActivityStoreListByAccountsEmpty(t *testing.T) {
	store := NewActivityStore(stubDB{})
	history, err := store.ListByAccounts(context.Background(), stubDB{
		selectFn: func(context.Context, any, string, ...any) error {
			t.Fatalf("no query expected for empty id list")
			return nil
		},
	}, nil)
	if err != nil || len(history) != 0 {
		t.Fatalf("unexpected result: %#v, %v", history, err)
	}
}

func TestActivityStoreListByAccountPaging(t *testing.T) {
	store := NewActivityStore(stubDB{})
	_, err := store.ListByAccount(context.Background(), stubDB{
		selectFn: func(_ context.Context, _ any, query string, args ...any) error {
			if !strings.Contains(query, "LIMIT $2 OFFSET $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != int64(4) || args[1] != 20 || args[2] != 40 {
				t.Fatalf("unexpected args: %#v", args)
			}
			return nil
		},
	}, 4, 20, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
