// Package storage provides the PostgreSQL storage layer for recorridos.
//
// It manages a pgxpool connection pool for queries, an optional dedicated
// connection for LISTEN/NOTIFY, and the repositories the journey runtime
// reads and writes: versions, runs, step results and events.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool for normal queries and a dedicated pgx.Conn for
// LISTEN/NOTIFY.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	notifyDSN  string
	notifyMu   sync.Mutex
	notifyConn *pgx.Conn
}

// New creates a new DB with a connection pool.
// notifyDSN should point directly to Postgres (not through a pooler); empty
// disables LISTEN.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: connect notify: %w", err)
		}
	}

	return &DB{
		pool:       pool,
		logger:     logger,
		notifyDSN:  notifyDSN,
		notifyConn: notifyConn,
	}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool and notify connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	db.notifyMu.Lock()
	conn := db.notifyConn
	db.notifyConn = nil
	db.notifyMu.Unlock()
	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			db.logger.Warn("storage: close notify connection", "error", err)
		}
	}
}

// Versions returns the journey version repository.
func (db *DB) Versions() *VersionStore { return &VersionStore{db: db} }

// Runs returns the run repository.
func (db *DB) Runs() *RunStore { return &RunStore{db: db} }

// StepResults returns the step result repository.
func (db *DB) StepResults() *StepResultStore { return &StepResultStore{db: db} }

// Events returns the event log repository.
func (db *DB) Events() *EventStore { return &EventStore{db: db} }
