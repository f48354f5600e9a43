// Package testutil provides shared test infrastructure for integration tests
// that need a PostgreSQL or Redis container, plus an in-memory SQLite store
// for tests that should run without Docker.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), logger)
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
	"github.com/sendas-app/recorridos/internal/storage/sqlitestore"
	"github.com/sendas-app/recorridos/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a PostgreSQL container. Calls os.Exit(1) on
// failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "recorridos",
			"POSTGRES_PASSWORD": "recorridos",
			"POSTGRES_DB":       "recorridos",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, port := mustStart(ctx, req, "5432")
	dsn := fmt.Sprintf("postgres://recorridos:recorridos@%s/recorridos?sslmode=disable", port)
	return &TestContainer{Container: container, DSN: dsn}
}

// MustStartRedis starts a Redis container; DSN is a redis:// URL.
func MustStartRedis() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, addr := mustStart(ctx, req, "6379")
	return &TestContainer{Container: container, DSN: "redis://" + addr + "/0"}
}

// mustStart starts req and returns the container with host:port of the
// mapped port.
func mustStart(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (testcontainers.Container, string) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start %s: %v\n", req.Image, err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}
	return container, host + ":" + mapped.Port()
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
// The notify connection uses the same DSN.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// NewSQLiteStore opens a migrated in-memory SQLite store closed at test end.
func NewSQLiteStore(t testing.TB) *sqlitestore.Store {
	t.Helper()
	st, err := sqlitestore.Open(context.Background(), ":memory:", TestLogger())
	if err != nil {
		t.Fatalf("testutil: open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Publish stores def as a published version of recorridoID.
func Publish(t testing.TB, st *sqlitestore.Store, recorridoID string, def model.JourneyDefinition) model.JourneyVersion {
	t.Helper()
	v, err := st.Versions().Insert(context.Background(), recorridoID, def, model.VersionPublished)
	if err != nil {
		t.Fatalf("testutil: publish %s: %v", recorridoID, err)
	}
	return v
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
