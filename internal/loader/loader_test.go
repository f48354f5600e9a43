package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendas-app/recorridos/internal/loader"
	"github.com/sendas-app/recorridos/internal/model"
)

const breathingYAML = `
id: respiracion
entry_step_id: inicio
steps:
  inicio:
    screen_template_id: screen_intro
    props:
      title: Respira
      rounds: 3
    capture: [mood, energy]
  cierre:
    step_type: reflection
    screen_template_id: screen_end
    capture:
      note: reflection_note
    emit:
      - event_type: reflection_submitted
        payload_template:
          note: "{{state.reflection_note}}"
edges:
  - from_step_id: inicio
    to_step_id: cierre
    condition:
      type: field_exists
      params:
        field: mood
`

func TestParseYAML(t *testing.T) {
	def, err := loader.Parse([]byte(breathingYAML), "respiracion.yaml")
	require.NoError(t, err)

	assert.Equal(t, "respiracion", def.ID)
	assert.Equal(t, "inicio", def.EntryStepID)
	require.Len(t, def.Steps, 2)

	inicio := def.Steps["inicio"]
	assert.Equal(t, model.DefaultStepType, inicio.Type())
	assert.Equal(t, float64(3), inicio.Props["rounds"])
	require.NotNil(t, inicio.Capture)
	assert.Equal(t, [][2]string{{"mood", "mood"}, {"energy", "energy"}}, inicio.Capture.Pairs())

	cierre := def.Steps["cierre"]
	assert.Equal(t, [][2]string{{"note", "reflection_note"}}, cierre.Capture.Pairs())
	require.Len(t, cierre.Emit, 1)
	assert.Equal(t, "{{state.reflection_note}}", cierre.Emit[0].PayloadTemplate["note"])

	require.Len(t, def.Edges, 1)
	require.NotNil(t, def.Edges[0].Condition)
	assert.Equal(t, "field_exists", def.Edges[0].Condition.Type)
}

func TestParseJSONAndYAMLAgree(t *testing.T) {
	fromYAML, err := loader.Parse([]byte(breathingYAML), "x.yml")
	require.NoError(t, err)

	const asJSON = `{"id":"respiracion","entry_step_id":"inicio",
		"steps":{"inicio":{"screen_template_id":"screen_intro","props":{"title":"Respira","rounds":3},"capture":["mood","energy"]},
		"cierre":{"step_type":"reflection","screen_template_id":"screen_end","capture":{"note":"reflection_note"},
		"emit":[{"event_type":"reflection_submitted","payload_template":{"note":"{{state.reflection_note}}"}}]}},
		"edges":[{"from_step_id":"inicio","to_step_id":"cierre","condition":{"type":"field_exists","params":{"field":"mood"}}}]}`
	fromJSON, err := loader.Parse([]byte(asJSON), "x.json")
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		data, path string
	}{
		"bad yaml":      {"steps: [unclosed", "a.yaml"},
		"bad json":      {"{", "a.json"},
		"unknown field": {`{"entry_step_id":"a","steps":{},"stpes":{}}`, "a.json"},
		"no steps":      {`{"entry_step_id":"a"}`, "a.json"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tc.data), tc.path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "respiracion.YAML")
	require.NoError(t, os.WriteFile(path, []byte(breathingYAML), 0o600))

	def, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "respiracion", def.ID)

	_, err = loader.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
