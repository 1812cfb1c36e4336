package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrStorageConflict = errors.New("storage conflict")
	ErrStorageTimeout  = errors.New("storage timeout")
)

const defaultMaxAttempts = 5

type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type SQLXTxRunner struct {
	db          *sqlx.DB
	lockTimeout time.Duration
	maxAttempts int
}

type Option func(*SQLXTxRunner)

// WithLockTimeout bounds how long a statement inside the transaction waits for a row lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(r *SQLXTxRunner) {
		r.lockTimeout = timeout
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(r *SQLXTxRunner) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
	}
}

func NewTxRunner(db *sqlx.DB, opts ...Option) SQLXTxRunner {
	runner := SQLXTxRunner{db: db, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(&runner)
	}
	return runner
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, r.db, r.maxAttempts, r.lockTimeout, fn)
}

func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// WithTx runs fn in a serializable transaction, retrying serialization
// failures and deadlocks with backoff.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, db, defaultMaxAttempts, 0, fn)
}

func withTx(ctx context.Context, db *sqlx.DB, maxAttempts int, lockTimeout time.Duration, fn func(*sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return Classify(err)
		}
		if lockTimeout > 0 {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds())); err != nil {
				_ = tx.Rollback()
				return Classify(err)
			}
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isRetryablePGError(err) && attempt < maxAttempts {
				lastErr = err
				sleepWithBackoff(ctx, attempt, err)
				continue
			}
			return Classify(err)
		}
		if err := tx.Commit(); err != nil {
			if isRetryablePGError(err) && attempt < maxAttempts {
				lastErr = err
				sleepWithBackoff(ctx, attempt, err)
				continue
			}
			return Classify(err)
		}
		return nil
	}
	return fmt.Errorf("%w: retry limit exceeded: %v", ErrStorageConflict, lastErr)
}

// Classify maps transaction-layer failures onto ErrStorageConflict and
// ErrStorageTimeout. Any other error is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrStorageTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	case "57014", "55P03":
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isRetryablePGError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func sleepWithBackoff(ctx context.Context, attempt int, cause error) {
	base := 20 * time.Millisecond
	backoff := time.Duration(attempt*attempt) * base
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	slog.WarnContext(ctx, "retrying transaction", "attempt", attempt, "error", cause)
	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
