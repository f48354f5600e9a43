package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sendas-app/recorridos/internal/model"
)

func TestApplyCapture(t *testing.T) {
	current := model.Object{"kept": 1.0, "mood": "old"}

	tests := []struct {
		name    string
		capture *model.CaptureSpec
		input   model.Object
		want    model.Object
	}{
		{
			name:  "no capture keeps state",
			input: model.Object{"mood": "new"},
			want:  model.Object{"kept": 1.0, "mood": "old"},
		},
		{
			name:    "mapping renames",
			capture: &model.CaptureSpec{Kind: model.CaptureMapping, Mapping: map[string]string{"estado": "mood"}},
			input:   model.Object{"mood": "calm", "ignored": true},
			want:    model.Object{"kept": 1.0, "mood": "old", "estado": "calm"},
		},
		{
			name:    "list copies same names",
			capture: &model.CaptureSpec{Kind: model.CaptureList, Fields: []string{"mood", "energy"}},
			input:   model.Object{"mood": "calm", "energy": 7.0},
			want:    model.Object{"kept": 1.0, "mood": "calm", "energy": 7.0},
		},
		{
			name:    "single field",
			capture: &model.CaptureSpec{Kind: model.CaptureField, Fields: []string{"mood"}},
			input:   model.Object{"mood": "calm"},
			want:    model.Object{"kept": 1.0, "mood": "calm"},
		},
		{
			name:    "absent source skipped",
			capture: &model.CaptureSpec{Kind: model.CaptureList, Fields: []string{"missing"}},
			input:   model.Object{},
			want:    model.Object{"kept": 1.0, "mood": "old"},
		},
		{
			name:    "explicit null copied",
			capture: &model.CaptureSpec{Kind: model.CaptureList, Fields: []string{"mood"}},
			input:   model.Object{"mood": nil},
			want:    model.Object{"kept": 1.0, "mood": nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyCapture(model.StepDefinition{Capture: tt.capture}, tt.input, current)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, model.Object{"kept": 1.0, "mood": "old"}, current, "current state is never mutated")
}

func TestApplyCaptureNilState(t *testing.T) {
	step := model.StepDefinition{Capture: &model.CaptureSpec{Kind: model.CaptureField, Fields: []string{"x"}}}
	assert.Equal(t, model.Object{"x": "y"}, ApplyCapture(step, model.Object{"x": "y"}, nil))
}
