package model

import (
	"encoding/json"
	"fmt"
)

// DefaultStepType is used when a step definition omits step_type.
const DefaultStepType = "experience"

// JourneyDefinition is the authored graph of a recorrido. It is immutable once
// the version holding it is published.
type JourneyDefinition struct {
	ID          string                    `json:"id,omitempty"`
	EntryStepID string                    `json:"entry_step_id"`
	Steps       map[string]StepDefinition `json:"steps"`
	Edges       []Edge                    `json:"edges"`
}

// Step returns the definition for stepID and whether it exists.
func (d JourneyDefinition) Step(stepID string) (StepDefinition, bool) {
	s, ok := d.Steps[stepID]
	return s, ok
}

// StepDefinition describes one node of the journey graph.
type StepDefinition struct {
	StepType         string       `json:"step_type,omitempty"`
	ScreenTemplateID string       `json:"screen_template_id"`
	Props            Object       `json:"props,omitempty"`
	UIHints          Object       `json:"ui_hints,omitempty"`
	Capture          *CaptureSpec `json:"capture,omitempty"`
	Emit             []EmitSpec   `json:"emit,omitempty"`
}

// Type returns the step type, falling back to DefaultStepType.
func (s StepDefinition) Type() string {
	if s.StepType == "" {
		return DefaultStepType
	}
	return s.StepType
}

// EmitSpec is an author-declared domain event fired when its step is submitted.
type EmitSpec struct {
	EventType       string `json:"event_type"`
	PayloadTemplate Object `json:"payload_template,omitempty"`
}

// Edge is a directed transition. A nil Condition always matches.
type Edge struct {
	FromStepID string     `json:"from_step_id"`
	ToStepID   string     `json:"to_step_id"`
	Condition  *Condition `json:"condition,omitempty"`
}

// Condition is a tagged condition descriptor resolved through the condition registry.
type Condition struct {
	Type   string `json:"type"`
	Params Object `json:"params,omitempty"`
}

// CaptureKind identifies which of the three authoring forms a CaptureSpec uses.
type CaptureKind int

const (
	CaptureNone CaptureKind = iota
	CaptureMapping
	CaptureList
	CaptureField
)

// CaptureSpec maps submitted input fields into run state. It is authored as
// an object {target: source}, a list of field names, or a single field name.
type CaptureSpec struct {
	Kind    CaptureKind
	Mapping map[string]string
	Fields  []string
}

// Pairs returns the capture as (target, source) pairs. List and single-field
// forms map each field to itself.
func (c *CaptureSpec) Pairs() [][2]string {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case CaptureMapping:
		out := make([][2]string, 0, len(c.Mapping))
		for target, source := range c.Mapping {
			out = append(out, [2]string{target, source})
		}
		return out
	case CaptureList, CaptureField:
		out := make([][2]string, 0, len(c.Fields))
		for _, f := range c.Fields {
			out = append(out, [2]string{f, f})
		}
		return out
	default:
		return nil
	}
}

// UnmarshalJSON accepts the object, list and string forms.
func (c *CaptureSpec) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	switch v := raw.(type) {
	case nil:
		*c = CaptureSpec{}
	case string:
		*c = CaptureSpec{Kind: CaptureField, Fields: []string{v}}
	case []any:
		fields := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("capture: list item %d is not a string", i)
			}
			fields = append(fields, s)
		}
		*c = CaptureSpec{Kind: CaptureList, Fields: fields}
	case map[string]any:
		mapping := make(map[string]string, len(v))
		for target, src := range v {
			s, ok := src.(string)
			if !ok {
				return fmt.Errorf("capture: source for %q is not a string", target)
			}
			mapping[target] = s
		}
		*c = CaptureSpec{Kind: CaptureMapping, Mapping: mapping}
	default:
		return fmt.Errorf("capture: unsupported form %T", raw)
	}
	return nil
}

// MarshalJSON writes the capture back in the form it was authored in.
func (c CaptureSpec) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CaptureMapping:
		return json.Marshal(c.Mapping)
	case CaptureList:
		return json.Marshal(c.Fields)
	case CaptureField:
		if len(c.Fields) == 0 {
			return []byte("null"), nil
		}
		return json.Marshal(c.Fields[0])
	default:
		return []byte("null"), nil
	}
}
