package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sendas-app/recorridos/internal/model"
)

func TestResolvePayload(t *testing.T) {
	tc := TemplateContext{
		UserID:      "ana",
		RunID:       "run-1",
		StepID:      "practica",
		RecorridoID: "limpieza",
		State: model.Object{
			"minutes": 5.5,
			"done":    true,
			"tags":    []any{"agua", "sal"},
			"nested":  model.Object{"level": 2.0},
			"empty":   nil,
		},
	}

	tmpl := model.Object{
		"user":      "{{user_id}}",
		"minutes":   "{{state.minutes}}",
		"done":      "{{state.done}}",
		"tags":      "{{state.tags}}",
		"level":     "{{state.nested.level}}",
		"sentence":  "{{user_id}} practised {{state.minutes}} min in {{recorrido_id}}",
		"composite": "tags={{state.tags}} null={{state.empty}}",
		"unknown":   "{{state.nope}} and {{weather}}",
		"list":      []any{"{{step_id}}", 3.0},
		"nested":    model.Object{"run": "{{run_id}}"},
		"literal":   7.0,
	}

	got := ResolvePayload(tmpl, tc)
	assert.Equal(t, model.Object{
		"user":      "ana",
		"minutes":   5.5,
		"done":      true,
		"tags":      []any{"agua", "sal"},
		"level":     2.0,
		"sentence":  "ana practised 5.5 min in limpieza",
		"composite": `tags=["agua","sal"] null=null`,
		"unknown":   "{{state.nope}} and {{weather}}",
		"list":      []any{"practica", 3.0},
		"nested":    model.Object{"run": "run-1"},
		"literal":   7.0,
	}, got)

	// Typed values are copies, not aliases of the state.
	got["tags"].([]any)[0] = "changed"
	assert.Equal(t, "agua", tc.State["tags"].([]any)[0])
	assert.Equal(t, "{{user_id}}", tmpl["user"], "the template is not modified")
}

func TestResolvePayloadEdges(t *testing.T) {
	assert.Equal(t, model.Object{}, ResolvePayload(nil, TemplateContext{}))
	assert.Equal(t, model.Object{"r": "{{recorrido_id}}"},
		ResolvePayload(model.Object{"r": "{{recorrido_id}}"}, TemplateContext{}),
		"empty built-ins stay literal")
}
