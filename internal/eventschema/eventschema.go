// Package eventschema holds the registry of event types a journey may emit,
// with the JSON Schema each payload must satisfy and its retention policy.
package eventschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sendas-app/recorridos/internal/model"
)

//go:embed builtin_events.json
var builtinEvents []byte

const schemaBaseURL = "https://schemas.recorridos.dev/events/"

// EventType describes one registered event type. A nil PayloadSchema accepts
// any payload.
type EventType struct {
	Type          string          `json:"type"`
	Name          string          `json:"name"`
	RetentionDays int             `json:"retention_days"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
}

// Result is the outcome of validating a payload.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type entry struct {
	def    EventType
	schema *jsonschema.Schema
}

// Registry maps event types to compiled payload schemas.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// NewBuiltinRegistry returns a registry holding the built-in lifecycle and
// domain event types.
func NewBuiltinRegistry() (*Registry, error) {
	var defs []EventType
	if err := json.Unmarshal(builtinEvents, &defs); err != nil {
		return nil, fmt.Errorf("eventschema: decode builtin events: %w", err)
	}
	r := NewRegistry()
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles def's schema and adds it, replacing any previous
// registration of the same type.
func (r *Registry) Register(def EventType) error {
	if def.Type == "" {
		return errors.New("eventschema: event type name is required")
	}
	e := entry{def: def}
	if len(def.PayloadSchema) > 0 {
		sch, err := compile(def.Type, def.PayloadSchema)
		if err != nil {
			return err
		}
		e.schema = sch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.entries[def.Type] = e
	return nil
}

// Resolve returns the definition registered for eventType.
func (r *Registry) Resolve(eventType string) (EventType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[eventType]
	return e.def, ok
}

// Has reports whether eventType is registered.
func (r *Registry) Has(eventType string) bool {
	_, ok := r.Resolve(eventType)
	return ok
}

// All returns every registered event type in registration order.
func (r *Registry) All() []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

// RetentionDays returns the retention policy of eventType, or 0 when the type
// is unknown or keeps events forever.
func (r *Registry) RetentionDays(eventType string) int {
	def, ok := r.Resolve(eventType)
	if !ok {
		return 0
	}
	return def.RetentionDays
}

// Validate checks payload against the schema registered for eventType.
// Unknown event types are invalid; types without a schema accept anything.
func (r *Registry) Validate(eventType string, payload model.Object) Result {
	r.mu.RLock()
	e, ok := r.entries[eventType]
	r.mu.RUnlock()
	if !ok {
		return Result{Valid: false, Errors: []string{fmt.Sprintf("unknown event type %q", eventType)}}
	}
	if e.schema == nil {
		return Result{Valid: true}
	}

	inst, err := toInstance(payload)
	if err != nil {
		return Result{Valid: false, Errors: []string{err.Error()}}
	}
	if err := e.schema.Validate(inst); err != nil {
		return Result{Valid: false, Errors: validationMessages(err)}
	}
	return Result{Valid: true}
}

func compile(eventType string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("eventschema: decode schema for %s: %w", eventType, err)
	}
	url := schemaBaseURL + eventType + ".json"
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("eventschema: add schema for %s: %w", eventType, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("eventschema: compile schema for %s: %w", eventType, err)
	}
	return sch, nil
}

// toInstance round-trips payload through JSON so numbers and nested values
// reach the validator in the shape it expects.
func toInstance(payload model.Object) (any, error) {
	if payload == nil {
		payload = model.Object{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON encodable: %w", err)
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func validationMessages(err error) []string {
	var msgs []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "jsonschema validation failed") {
			continue
		}
		msgs = append(msgs, strings.TrimPrefix(line, "- "))
	}
	if len(msgs) == 0 {
		msgs = []string{err.Error()}
	}
	return msgs
}
