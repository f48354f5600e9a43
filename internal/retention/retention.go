// Package retention deletes events older than their type's retention policy.
// Runs and step results are never deleted.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sendas-app/recorridos/internal/eventschema"
)

// EventPurger deletes events of one type created before cutoff.
type EventPurger interface {
	DeleteOlderThan(ctx context.Context, eventType string, cutoff time.Time) (int64, error)
}

// Sweeper applies the retention_days of every registered event type.
type Sweeper struct {
	events EventPurger
	types  *eventschema.Registry
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper over events, reading policies from types.
func NewSweeper(events EventPurger, types *eventschema.Registry, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{events: events, types: types, logger: logger, now: time.Now}
}

// Sweep runs one pass and returns the rows deleted per event type. A failing
// type does not stop the others; all failures are returned joined.
func (s *Sweeper) Sweep(ctx context.Context) (map[string]int64, error) {
	now := s.now().UTC()
	deleted := make(map[string]int64)
	var errs []error
	for _, et := range s.types.All() {
		if et.RetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -et.RetentionDays)
		n, err := s.events.DeleteOlderThan(ctx, et.Type, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("retention: sweep %s: %w", et.Type, err))
			continue
		}
		deleted[et.Type] = n
		if n > 0 {
			s.logger.Info("retention: deleted events", "event_type", et.Type, "count", n, "cutoff", cutoff)
		}
	}
	return deleted, errors.Join(errs...)
}

// scheduleParser accepts five-field expressions and descriptors like @daily.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a UTC cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("retention: schedule is required")
	}
	if strings.Contains(strings.ToUpper(clean), "TZ=") {
		return nil, fmt.Errorf("retention: schedule must be UTC-only (timezone prefixes are not allowed)")
	}
	sched, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid schedule: %w", err)
	}
	return sched, nil
}

// Run sweeps on schedule until ctx is done. An empty schedule disables
// sweeping and returns immediately.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		s.logger.Info("retention: disabled")
		return nil
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("retention: sweep failed", "error", err)
		}
	}))
	c.Start()
	s.logger.Info("retention: scheduled", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("retention: cron "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("retention: cron "+msg, append(keysAndValues, "error", err)...)
}
