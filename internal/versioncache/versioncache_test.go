package versioncache_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
	"github.com/sendas-app/recorridos/internal/testutil"
	"github.com/sendas-app/recorridos/internal/versioncache"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	tc := testutil.MustStartRedis()

	opts, err := redis.ParseURL(tc.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse redis url: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testRedis = redis.NewClient(opts)

	code := m.Run()

	_ = testRedis.Close()
	tc.Terminate()
	os.Exit(code)
}

// countingSource serves versions from memory and counts lookups.
type countingSource struct {
	mu       sync.Mutex
	versions map[string][]model.JourneyVersion
	calls    atomic.Int64
	delay    time.Duration
}

func (s *countingSource) publish(recorridoID string) model.JourneyVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions == nil {
		s.versions = map[string][]model.JourneyVersion{}
	}
	v := model.JourneyVersion{
		RecorridoID: recorridoID,
		Version:     len(s.versions[recorridoID]) + 1,
		Status:      model.VersionPublished,
		Definition: model.JourneyDefinition{
			ID:          recorridoID,
			EntryStepID: "inicio",
			Steps:       map[string]model.StepDefinition{"inicio": {ScreenTemplateID: "screen_inicio"}},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	s.versions[recorridoID] = append(s.versions[recorridoID], v)
	return v
}

func (s *countingSource) GetLatestPublished(_ context.Context, recorridoID string) (model.JourneyVersion, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.versions[recorridoID]
	if len(vs) == 0 {
		return model.JourneyVersion{}, storage.ErrNotFound
	}
	return vs[len(vs)-1], nil
}

func (s *countingSource) GetVersion(_ context.Context, recorridoID string, version int) (model.JourneyVersion, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.versions[recorridoID]
	if version < 1 || version > len(vs) {
		return model.JourneyVersion{}, storage.ErrNotFound
	}
	return vs[version-1], nil
}

func uniqueID() string { return "rec_" + uuid.NewString()[:8] }

func TestGetVersionIsCached(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	id := uniqueID()
	want := src.publish(id)
	cache := versioncache.New(src, testRedis, time.Hour, testutil.TestLogger())

	for range 3 {
		got, err := cache.GetVersion(ctx, id, 1)
		require.NoError(t, err)
		assert.Equal(t, want.Definition.EntryStepID, got.Definition.EntryStepID)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	}
	assert.Equal(t, int64(1), src.calls.Load())

	// A second cache over the same Redis shares the entry.
	other := versioncache.New(src, testRedis, time.Hour, testutil.TestLogger())
	_, err := other.GetVersion(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestMissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	id := uniqueID()
	cache := versioncache.New(src, testRedis, time.Hour, testutil.TestLogger())

	_, err := cache.GetLatestPublished(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	src.publish(id)
	v, err := cache.GetLatestPublished(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
}

func TestInvalidateRefreshesLatest(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	id := uniqueID()
	src.publish(id)
	cache := versioncache.New(src, testRedis, time.Hour, testutil.TestLogger())

	v, err := cache.GetLatestPublished(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	src.publish(id)
	v, err = cache.GetLatestPublished(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version, "stale until invalidated")

	require.NoError(t, cache.Invalidate(ctx, id))
	v, err = cache.GetLatestPublished(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)

	ttl, err := testRedis.TTL(ctx, "recorridos:version:"+id+":latest").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, versioncache.MaxLatestTTL)
}

func TestConcurrentMissesCollapse(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{delay: 50 * time.Millisecond}
	id := uniqueID()
	src.publish(id)
	cache := versioncache.New(src, nil, time.Hour, testutil.TestLogger())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetLatestPublished(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestWithoutRedisPassesThrough(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	id := uniqueID()
	src.publish(id)
	cache := versioncache.New(src, nil, time.Hour, testutil.TestLogger())

	for range 2 {
		_, err := cache.GetVersion(ctx, id, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), src.calls.Load())
	assert.NoError(t, cache.Invalidate(ctx, id))
}

func TestRedisDownFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	broken := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer broken.Close()
	src := &countingSource{}
	id := uniqueID()
	src.publish(id)
	cache := versioncache.New(src, broken, time.Hour, testutil.TestLogger())

	v, err := cache.GetVersion(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
}
