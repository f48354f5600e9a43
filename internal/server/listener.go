package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendas-app/recorridos/internal/storage"
)

// Notifier is the LISTEN side of Postgres NOTIFY. *storage.DB implements it.
type Notifier interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
	ReconnectNotify(ctx context.Context) error
}

// Invalidator drops cached versions of a recorrido.
type Invalidator interface {
	Invalidate(ctx context.Context, recorridoID string) error
}

// VersionListener evicts cached journey versions when another node publishes
// a new version. Each publish notifies storage.ChannelVersions with the
// recorrido_id as payload.
type VersionListener struct {
	notifier Notifier
	cache    Invalidator
	logger   *slog.Logger

	// retryDelay is the pause after a failed wait.
	retryDelay time.Duration
	// reconnectAfter consecutive failed waits trigger a fresh connection.
	reconnectAfter int
}

// NewVersionListener creates a listener. Call Run to begin listening.
func NewVersionListener(notifier Notifier, cache Invalidator, logger *slog.Logger) *VersionListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionListener{
		notifier:       notifier,
		cache:          cache,
		logger:         logger,
		retryDelay:     time.Second,
		reconnectAfter: 3,
	}
}

// Run blocks until ctx is cancelled. It returns an error only when LISTEN
// cannot be set up.
func (l *VersionListener) Run(ctx context.Context) error {
	if err := l.notifier.Listen(ctx, storage.ChannelVersions); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	l.logger.Info("listener: listening for version notifications", "channel", storage.ChannelVersions)

	failures := 0
	for {
		channel, payload, err := l.notifier.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // Shutting down.
			}
			failures++
			l.logger.Warn("listener: notification error, retrying", "error", err, "failures", failures)
			if failures >= l.reconnectAfter {
				if err := l.reconnect(ctx); err != nil {
					l.logger.Warn("listener: reconnect failed", "error", err)
				} else {
					failures = 0
					l.logger.Info("listener: reconnected, cached versions expire by TTL for the gap")
					continue
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.retryDelay):
			}
			continue
		}
		failures = 0
		if channel != storage.ChannelVersions || payload == "" {
			continue
		}
		l.logger.Debug("listener: invalidating cached versions", "recorrido_id", payload)
		if err := l.cache.Invalidate(ctx, payload); err != nil {
			l.logger.Warn("listener: invalidate failed", "recorrido_id", payload, "error", err)
		}
	}
}

// reconnect dials a new notify connection and listens on it again.
func (l *VersionListener) reconnect(ctx context.Context) error {
	if err := l.notifier.ReconnectNotify(ctx); err != nil {
		return err
	}
	if err := l.notifier.Listen(ctx, storage.ChannelVersions); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	return nil
}
