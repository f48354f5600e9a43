package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ChannelVersions carries the recorrido_id of every newly published version.
const ChannelVersions = "recorridos_versions"

var errNoNotifyConn = errors.New("storage: notify connection not configured")

func (db *DB) currentNotifyConn() (*pgx.Conn, error) {
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	if db.notifyConn == nil {
		return nil, errNoNotifyConn
	}
	return db.notifyConn, nil
}

// Listen starts listening on the specified channel using the dedicated notify connection.
// Returns an error if no notify connection is configured.
func (db *DB) Listen(ctx context.Context, channel string) error {
	conn, err := db.currentNotifyConn()
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened channel.
// Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	conn, err := db.currentNotifyConn()
	if err != nil {
		return "", "", err
	}
	notification, err := conn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// ReconnectNotify replaces the notify connection with a freshly dialled one.
// LISTEN registrations belong to the old connection, so callers listen again.
func (db *DB) ReconnectNotify(ctx context.Context) error {
	if db.notifyDSN == "" {
		return errNoNotifyConn
	}
	conn, err := pgx.Connect(ctx, db.notifyDSN)
	if err != nil {
		return fmt.Errorf("storage: reconnect notify: %w", err)
	}

	db.notifyMu.Lock()
	old := db.notifyConn
	db.notifyConn = conn
	db.notifyMu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			db.logger.Debug("storage: close stale notify connection", "error", err)
		}
	}
	return nil
}

// HasNotifyConn reports whether LISTEN is available.
func (db *DB) HasNotifyConn() bool {
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	return db.notifyConn != nil
}

// notify queues a notification on channel. Postgres delivers it when tx
// commits and drops it on rollback.
func notify(ctx context.Context, tx pgx.Tx, channel, payload string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
