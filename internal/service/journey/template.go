package journey

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sendas-app/recorridos/internal/model"
)

// TemplateContext holds the variables available to payload templates.
type TemplateContext struct {
	UserID      string
	RunID       string
	StepID      string
	RecorridoID string
	State       model.Object
}

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_.]+)\}\}`)

// ResolveTemplate walks v and substitutes {{var}} placeholders in every string
// leaf. Supported variables are user_id, run_id, step_id, recorrido_id and
// state.<key> (dotted paths reach into nested objects). Unknown placeholders
// are left as literal text. A string that is exactly one placeholder resolves
// to the variable's value with its JSON type preserved; placeholders embedded
// in longer strings are rendered as text.
func ResolveTemplate(v any, tc TemplateContext) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, tc)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ResolveTemplate(item, tc)
		}
		return out
	case map[string]any:
		out := make(model.Object, len(t))
		for k, item := range t {
			out[k] = ResolveTemplate(item, tc)
		}
		return out
	default:
		return v
	}
}

// ResolvePayload resolves a payload template into a new object.
func ResolvePayload(tmpl model.Object, tc TemplateContext) model.Object {
	if tmpl == nil {
		return model.Object{}
	}
	return ResolveTemplate(tmpl, tc).(model.Object)
}

func resolveString(s string, tc TemplateContext) any {
	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if v, ok := tc.lookup(m[1]); ok {
			return model.DeepCopyValue(v)
		}
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(ph string) string {
		name := ph[2 : len(ph)-2]
		v, ok := tc.lookup(name)
		if !ok {
			return ph
		}
		return stringify(v)
	})
}

func (tc TemplateContext) lookup(name string) (any, bool) {
	switch name {
	case "user_id":
		return tc.UserID, tc.UserID != ""
	case "run_id":
		return tc.RunID, tc.RunID != ""
	case "step_id":
		return tc.StepID, tc.StepID != ""
	case "recorrido_id":
		return tc.RecorridoID, tc.RecorridoID != ""
	}
	path, ok := strings.CutPrefix(name, "state.")
	if !ok || path == "" {
		return nil, false
	}
	var cur any = tc.State
	for _, part := range strings.Split(path, ".") {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
