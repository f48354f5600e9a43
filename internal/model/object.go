package model

import (
	"errors"
	"fmt"
	"maps"
)

// Object is the free-form JSON object used for run state, step props, payload
// templates and submitted input. Values are limited to the JSON value set:
// string, number, bool, nil, Object/map[string]any and []any.
type Object = map[string]any

// ErrInvalidValue is returned when a value falls outside the JSON value set.
var ErrInvalidValue = errors.New("model: value is not a JSON value")

// CheckObject verifies that every value in o belongs to the JSON value set.
func CheckObject(o Object) error {
	for k, v := range o {
		if err := CheckValue(v); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

// CheckValue verifies that v belongs to the JSON value set, recursing into
// nested objects and lists.
func CheckValue(v any) error {
	switch t := v.(type) {
	case nil, string, bool,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return nil
	case map[string]any:
		return CheckObject(t)
	case []any:
		for i, item := range t {
			if err := CheckValue(item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case []string:
		return nil
	default:
		return fmt.Errorf("%w (got %T)", ErrInvalidValue, v)
	}
}

// CloneObject returns a shallow copy of o. A nil input yields an empty object.
func CloneObject(o Object) Object {
	out := make(Object, len(o))
	maps.Copy(out, o)
	return out
}

// MergeObject returns a copy of base with every key of overlay applied on top.
func MergeObject(base, overlay Object) Object {
	out := CloneObject(base)
	maps.Copy(out, overlay)
	return out
}

// DeepCopyObject copies o together with every nested object and list.
func DeepCopyObject(o Object) Object {
	if o == nil {
		return Object{}
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = DeepCopyValue(v)
	}
	return out
}

// DeepCopyValue copies nested objects and lists; scalars are returned as is.
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopyObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = DeepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
