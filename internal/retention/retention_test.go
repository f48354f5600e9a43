package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendas-app/recorridos/internal/eventschema"
	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/testutil"
)

func registry(t *testing.T, types ...eventschema.EventType) *eventschema.Registry {
	t.Helper()
	reg := eventschema.NewRegistry()
	for _, et := range types {
		require.NoError(t, reg.Register(et))
	}
	return reg
}

func TestSweepAppliesPerTypePolicy(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewSQLiteStore(t)
	runID := uuid.New()
	for _, typ := range []string{"short_lived", "long_lived", "kept_forever"} {
		_, err := st.Events().Append(ctx, model.NewEvent{RunID: &runID, EventType: typ})
		require.NoError(t, err)
	}

	reg := registry(t,
		eventschema.EventType{Type: "short_lived", RetentionDays: 30},
		eventschema.EventType{Type: "long_lived", RetentionDays: 730},
		eventschema.EventType{Type: "kept_forever"},
	)
	s := NewSweeper(st.Events(), reg, testutil.TestLogger())
	s.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	deleted, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"short_lived": 1, "long_lived": 0}, deleted)

	left, err := st.Events().ListForRun(ctx, runID, "")
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, ev := range left {
		assert.NotEqual(t, "short_lived", ev.EventType)
	}
}

type failingPurger struct{ calls []string }

func (f *failingPurger) DeleteOlderThan(_ context.Context, eventType string, _ time.Time) (int64, error) {
	f.calls = append(f.calls, eventType)
	if eventType == "broken" {
		return 0, errors.New("disk full")
	}
	return 2, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	reg := registry(t,
		eventschema.EventType{Type: "broken", RetentionDays: 1},
		eventschema.EventType{Type: "fine", RetentionDays: 1},
	)
	purger := &failingPurger{}
	s := NewSweeper(purger, reg, testutil.TestLogger())

	deleted, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.ElementsMatch(t, []string{"broken", "fine"}, purger.calls)
	assert.Equal(t, int64(2), deleted["fine"])
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"@daily", "0 3 * * *", " @hourly "} {
		_, err := ParseSchedule(expr)
		assert.NoError(t, err, expr)
	}
	for _, expr := range []string{"", "every day", "CRON_TZ=Europe/Madrid 0 3 * * *", "* * * * * *"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	s := NewSweeper(&failingPurger{}, eventschema.NewRegistry(), testutil.TestLogger())
	assert.NoError(t, s.Run(context.Background(), ""))
}

func TestRunStopsWithContext(t *testing.T) {
	s := NewSweeper(&failingPurger{}, eventschema.NewRegistry(), testutil.TestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "@every 1h") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(&failingPurger{}, eventschema.NewRegistry(), testutil.TestLogger())
	assert.Error(t, s.Run(context.Background(), "nonsense"))
}
