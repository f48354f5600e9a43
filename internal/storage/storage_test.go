package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
	"github.com/sendas-app/recorridos/internal/testutil"
	"github.com/sendas-app/recorridos/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func sampleDefinition() model.JourneyDefinition {
	return model.JourneyDefinition{
		ID:          "bienvenida",
		EntryStepID: "intro",
		Steps: map[string]model.StepDefinition{
			"intro": {
				StepType:         "experience",
				ScreenTemplateID: "screen_intro",
				Props:            model.Object{"title": "Hola"},
				Capture:          &model.CaptureSpec{Kind: model.CaptureList, Fields: []string{"mood"}},
			},
			"fin": {ScreenTemplateID: "screen_end"},
		},
		Edges: []model.Edge{{FromStepID: "intro", ToStepID: "fin"}},
	}
}

func uniqueRecorrido() string {
	return "r_" + uuid.NewString()[:8]
}

func createRun(t *testing.T, ctx context.Context, recorridoID string, version int, userID string) model.Run {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	run, err := testDB.Runs().Create(ctx, model.Run{
		ID:             uuid.New(),
		UserID:         userID,
		RecorridoID:    recorridoID,
		Version:        version,
		Status:         model.RunInProgress,
		CurrentStepID:  "intro",
		StartedAt:      now,
		LastActivityAt: now,
	})
	require.NoError(t, err)
	return run
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestVersionInsertAndLookup(t *testing.T) {
	ctx := context.Background()
	id := uniqueRecorrido()

	_, err := testDB.Versions().GetLatestPublished(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	v1, err := testDB.Versions().Insert(ctx, id, sampleDefinition(), model.VersionPublished)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	require.NotNil(t, v1.PublishedAt)

	draft, err := testDB.Versions().Insert(ctx, id, sampleDefinition(), model.VersionDraft)
	require.NoError(t, err)
	assert.Equal(t, 2, draft.Version)
	assert.Nil(t, draft.PublishedAt)

	latest, err := testDB.Versions().GetLatestPublished(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version, "drafts are never the latest published version")
	assert.Equal(t, "intro", latest.Definition.EntryStepID)
	assert.Equal(t, [][2]string{{"mood", "mood"}}, latest.Definition.Steps["intro"].Capture.Pairs())

	got, err := testDB.Versions().GetVersion(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, model.VersionDraft, got.Status)

	_, err = testDB.Versions().GetVersion(ctx, id, 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPublishNotifiesListeners(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.True(t, testDB.HasNotifyConn())
	require.NoError(t, testDB.Listen(ctx, storage.ChannelVersions))

	draft := uniqueRecorrido()
	_, err := testDB.Versions().Insert(ctx, draft, sampleDefinition(), model.VersionDraft)
	require.NoError(t, err)
	id := uniqueRecorrido()
	_, err = testDB.Versions().Insert(ctx, id, sampleDefinition(), model.VersionPublished)
	require.NoError(t, err)

	for {
		channel, payload, err := testDB.WaitForNotification(ctx)
		require.NoError(t, err)
		require.NotEqual(t, draft, payload, "drafts are not announced")
		if channel == storage.ChannelVersions && payload == id {
			return
		}
	}
}

func TestReconnectNotifyListensAgain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, testDB.ReconnectNotify(ctx))
	require.True(t, testDB.HasNotifyConn())
	require.NoError(t, testDB.Listen(ctx, storage.ChannelVersions))

	id := uniqueRecorrido()
	_, err := testDB.Versions().Insert(ctx, id, sampleDefinition(), model.VersionPublished)
	require.NoError(t, err)

	for {
		channel, payload, err := testDB.WaitForNotification(ctx)
		require.NoError(t, err)
		if channel == storage.ChannelVersions && payload == id {
			return
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	id := uniqueRecorrido()
	_, err := testDB.Versions().Insert(ctx, id, sampleDefinition(), model.VersionPublished)
	require.NoError(t, err)

	run := createRun(t, ctx, id, 1, "alumna-1")
	assert.Equal(t, int64(0), run.Revision)

	got, err := testDB.Runs().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Object{}, got.State)
	assert.Equal(t, model.RunInProgress, got.Status)

	next := "fin"
	updated, err := testDB.Runs().Update(ctx, run.ID, model.RunPatch{
		ExpectedRevision: 0,
		CurrentStepID:    &next,
		State:            model.Object{"mood": "calm"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Revision)
	assert.Equal(t, "fin", updated.CurrentStepID)
	assert.Equal(t, "calm", updated.State["mood"])

	// A writer still holding revision 0 loses.
	_, err = testDB.Runs().Update(ctx, run.ID, model.RunPatch{ExpectedRevision: 0, CurrentStepID: &next})
	assert.ErrorIs(t, err, storage.ErrConflict)

	active, err := testDB.Runs().GetActiveForUser(ctx, "alumna-1", id)
	require.NoError(t, err)
	assert.Equal(t, run.ID, active.ID)

	touchedAt := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	require.NoError(t, testDB.Runs().Touch(ctx, run.ID, touchedAt))
	got, err = testDB.Runs().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(touchedAt))
	assert.Equal(t, int64(1), got.Revision, "touch does not bump the revision")

	status := model.RunCompleted
	now := time.Now().UTC()
	done, err := testDB.Runs().Update(ctx, run.ID, model.RunPatch{
		ExpectedRevision: 1,
		Status:           &status,
		CompletedAt:      &now,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, done.Status)
	assert.Equal(t, "calm", done.State["mood"], "nil state keeps the stored state")
	assert.NotNil(t, done.CompletedAt)

	_, err = testDB.Runs().Update(ctx, run.ID, model.RunPatch{ExpectedRevision: 2, Status: &status})
	assert.ErrorIs(t, err, storage.ErrConflict, "terminal runs reject updates")

	_, err = testDB.Runs().GetActiveForUser(ctx, "alumna-1", id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunNotFound(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Runs().Get(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.Runs().Update(ctx, uuid.New(), model.RunPatch{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, testDB.Runs().Touch(ctx, uuid.New(), time.Now()), storage.ErrNotFound)
}

func TestStepResults(t *testing.T) {
	ctx := context.Background()
	id := uniqueRecorrido()
	_, err := testDB.Versions().Insert(ctx, id, sampleDefinition(), model.VersionPublished)
	require.NoError(t, err)
	run := createRun(t, ctx, id, 1, "alumna-2")

	d := int64(1500)
	for i, step := range []string{"intro", "fin"} {
		_, err := testDB.StepResults().Append(ctx, model.StepResult{
			RunID:      run.ID,
			StepID:     step,
			Captured:   model.Object{"i": i},
			DurationMS: &d,
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	n, err := testDB.StepResults().CountForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := testDB.StepResults().ListForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "intro", list[0].StepID)
	require.NotNil(t, list[0].DurationMS)
	assert.Equal(t, int64(1500), *list[0].DurationMS)
}

func TestEventAppendIdempotent(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()
	user := "alumna-3"
	key := model.ViewIdempotencyKey(runID, "intro")

	first, err := testDB.Events().Append(ctx, model.NewEvent{
		RunID: &runID, UserID: &user, EventType: model.EventStepViewed,
		Payload: model.Object{"step_id": "intro"}, IdempotencyKey: &key,
	})
	require.NoError(t, err)

	second, err := testDB.Events().Append(ctx, model.NewEvent{
		RunID: &runID, UserID: &user, EventType: model.EventStepViewed,
		Payload: model.Object{"step_id": "other"}, IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "intro", second.Payload["step_id"], "the stored event is returned unchanged")

	// Events without a key never collide.
	for range 2 {
		_, err := testDB.Events().Append(ctx, model.NewEvent{RunID: &runID, EventType: model.EventStepCompleted})
		require.NoError(t, err)
	}

	all, err := testDB.Events().ListForRun(ctx, runID, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	viewed, err := testDB.Events().ListForRun(ctx, runID, model.EventStepViewed)
	require.NoError(t, err)
	assert.Len(t, viewed, 1)
}

func TestEventDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()
	evType := "retention_probe_" + uuid.NewString()[:8]

	_, err := testDB.Events().Append(ctx, model.NewEvent{RunID: &runID, EventType: evType})
	require.NoError(t, err)
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE recorrido_events SET created_at = now() - interval '40 days' WHERE run_id = $1`, runID)
	require.NoError(t, err)
	_, err = testDB.Events().Append(ctx, model.NewEvent{RunID: &runID, EventType: evType})
	require.NoError(t, err)

	n, err := testDB.Events().DeleteOlderThan(ctx, evType, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := testDB.Events().ListForRun(ctx, runID, evType)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
