package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestRetryReplaysTransientConflicts(t *testing.T) {
	var logs bytes.Buffer
	p := retryPolicy{attempts: 4, baseDelay: time.Millisecond}

	calls := 0
	err := retry(context.Background(), p, bufferLogger(&logs), "respiracion", func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, logs.String(), "recorrido_id=respiracion")
	assert.Contains(t, logs.String(), "attempt=2")
}

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	var logs bytes.Buffer
	plain := errors.New("boom")

	calls := 0
	err := retry(context.Background(), publishRetry, bufferLogger(&logs), "respiracion", func() error {
		calls++
		return plain
	})
	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 1, calls)
	assert.Empty(t, logs.String())
}

func TestRetryGivesUp(t *testing.T) {
	p := retryPolicy{attempts: 2, baseDelay: time.Millisecond}
	conflict := &pgconn.PgError{Code: "40001"}

	calls := 0
	err := retry(context.Background(), p, bufferLogger(&bytes.Buffer{}), "respiracion", func() error {
		calls++
		return conflict
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorContains(t, err, "gave up after 2 attempts")

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40001", pgErr.Code)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := retryPolicy{attempts: 3, baseDelay: time.Hour}

	err := retry(ctx, p, bufferLogger(&bytes.Buffer{}), "respiracion", func() error {
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isTransient(&pgconn.PgError{Code: "55P03"}))
	assert.False(t, isTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isTransient(errors.New("plain")))
}

func TestBackoffGrows(t *testing.T) {
	p := retryPolicy{attempts: 4, baseDelay: 10 * time.Millisecond}
	first := p.backoff(1)
	third := p.backoff(3)
	assert.GreaterOrEqual(t, first, 10*time.Millisecond)
	assert.Less(t, first, 20*time.Millisecond)
	assert.GreaterOrEqual(t, third, 40*time.Millisecond)
	assert.Less(t, third, 80*time.Millisecond)
}
