package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendas-app/recorridos/internal/telemetry"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), telemetry.Settings{ServiceName: "recorridos"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// The global no-op providers still hand out usable instruments.
	c, err := telemetry.Meter("test").Int64Counter("test.counter")
	require.NoError(t, err)
	c.Add(context.Background(), 1)

	_, span := telemetry.Tracer("test").Start(context.Background(), "op")
	span.End()
}
