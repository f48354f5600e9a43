package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryPolicy bounds how often a transaction that lost a conflict is replayed.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
}

// publishRetry applies to version inserts, which serialise per recorrido on an
// advisory lock and can still deadlock against a concurrent import.
var publishRetry = retryPolicy{attempts: 4, baseDelay: 50 * time.Millisecond}

// isTransient reports whether err is a Postgres conflict worth replaying.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}

// backoff is the jittered exponential delay before replay number attempt.
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.baseDelay << (attempt - 1)
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(d))) //nolint:gosec // jitter doesn't need crypto-strength randomness
}

// retry calls fn until it succeeds, returns a non-transient error or the
// policy runs out of attempts. Every replay is logged with the recorrido.
func retry(ctx context.Context, p retryPolicy, logger *slog.Logger, recorridoID string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt >= p.attempts {
			return fmt.Errorf("storage: %s: gave up after %d attempts: %w", recorridoID, attempt, err)
		}
		delay := p.backoff(attempt)
		logger.Warn("storage: retrying transaction",
			"recorrido_id", recorridoID, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
