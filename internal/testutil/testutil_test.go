package testutil

import (
	"context"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/sendas-app/recorridos/internal/model"
)

func TestMustStartTakesContainerPort(t *testing.T) {
	// Ports arrive as variables, not untyped constants, so the parameter must
	// already be the type MappedPort expects.
	var start func(context.Context, testcontainers.ContainerRequest, nat.Port) (testcontainers.Container, string) = mustStart
	assert.NotNil(t, start)

	port := nat.Port("5432")
	assert.Equal(t, "5432", port.Port())
}

func TestPublishToSQLite(t *testing.T) {
	st := NewSQLiteStore(t)
	def := model.JourneyDefinition{
		ID:          "bienvenida",
		EntryStepID: "intro",
		Steps: map[string]model.StepDefinition{
			"intro": {ScreenTemplateID: "screen_intro"},
		},
	}

	v := Publish(t, st, "bienvenida", def)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, model.VersionPublished, v.Status)

	latest, err := st.Versions().GetLatestPublished(context.Background(), "bienvenida")
	require.NoError(t, err)
	assert.Equal(t, v.Version, latest.Version)
}
