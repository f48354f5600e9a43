// Package condition evaluates edge condition descriptors against run state.
//
// Condition types are strategies registered by name. Evaluation is
// fail-closed: an unknown type, a malformed descriptor or a strategy error
// evaluates to false and is logged, never returned to the caller.
package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sendas-app/recorridos/internal/model"
)

// Built-in condition types.
const (
	TypeAlways      = "always"
	TypeFieldExists = "field_exists"
	TypeFieldEquals = "field_equals"
)

// ErrMissingParam is returned by a strategy whose descriptor lacks a required param.
var ErrMissingParam = errors.New("condition: missing required param")

// Strategy decides whether a condition holds.
type Strategy interface {
	Evaluate(params model.Object, state model.Object, rc model.RequestContext) (bool, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(params model.Object, state model.Object, rc model.RequestContext) (bool, error)

// Evaluate calls f.
func (f StrategyFunc) Evaluate(params model.Object, state model.Object, rc model.RequestContext) (bool, error) {
	return f(params, state, rc)
}

// Registry maps condition type names to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
}

// NewRegistry returns a registry holding the built-in condition types.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(TypeAlways, StrategyFunc(always))
	r.Register(TypeFieldExists, StrategyFunc(fieldExists))
	r.Register(TypeFieldEquals, StrategyFunc(fieldEquals))
	return r
}

// Register adds or replaces the strategy for typeName.
func (r *Registry) Register(typeName string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[typeName]; !exists {
		r.order = append(r.order, typeName)
	}
	r.strategies[typeName] = s
}

// Resolve returns the strategy registered for typeName.
func (r *Registry) Resolve(typeName string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[typeName]
	return s, ok
}

// Has reports whether typeName is registered.
func (r *Registry) Has(typeName string) bool {
	_, ok := r.Resolve(typeName)
	return ok
}

// Types returns the registered type names in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Evaluator applies registered strategies to condition descriptors.
type Evaluator struct {
	registry *Registry
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator backed by registry.
func NewEvaluator(registry *Registry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{registry: registry, logger: logger}
}

// Evaluate reports whether cond holds for state and rc. It never panics and
// never returns an error: every failure evaluates to false.
func (e *Evaluator) Evaluate(cond *model.Condition, state model.Object, rc model.RequestContext) (ok bool) {
	if cond == nil || cond.Type == "" {
		e.logger.Warn("condition: descriptor without type")
		return false
	}
	strategy, found := e.registry.Resolve(cond.Type)
	if !found {
		e.logger.Warn("condition: unknown type", "condition_type", cond.Type)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition: strategy panicked", "condition_type", cond.Type, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	params := cond.Params
	if params == nil {
		params = model.Object{}
	}
	matched, err := strategy.Evaluate(params, state, rc)
	if err != nil {
		e.logger.Warn("condition: evaluation failed", "condition_type", cond.Type, "error", err)
		return false
	}
	return matched
}

func always(model.Object, model.Object, model.RequestContext) (bool, error) {
	return true, nil
}

func fieldExists(params model.Object, state model.Object, rc model.RequestContext) (bool, error) {
	field, err := fieldParam(params)
	if err != nil {
		return false, err
	}
	v, ok := Lookup(field, state, rc)
	return ok && v != nil, nil
}

func fieldEquals(params model.Object, state model.Object, rc model.RequestContext) (bool, error) {
	field, err := fieldParam(params)
	if err != nil {
		return false, err
	}
	expected, ok := params["value"]
	if !ok {
		return false, fmt.Errorf("%w: value", ErrMissingParam)
	}
	actual, ok := Lookup(field, state, rc)
	if !ok {
		return false, nil
	}
	return StrictEqual(actual, expected), nil
}

func fieldParam(params model.Object) (string, error) {
	field, _ := params["field"].(string)
	if field == "" {
		return "", fmt.Errorf("%w: field", ErrMissingParam)
	}
	return field, nil
}

// Lookup reads field from state, falling back to the request context when the
// key is absent from state. A key present in state with a nil value does not
// fall back.
func Lookup(field string, state model.Object, rc model.RequestContext) (any, bool) {
	if v, ok := state[field]; ok {
		return v, true
	}
	return rc.Lookup(field)
}

// StrictEqual compares two JSON scalars by type and value. Numbers compare by
// numeric value regardless of their Go representation. Objects and lists are
// never equal.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
