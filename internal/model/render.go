package model

// RenderSpec is the template-agnostic description of what a step presents.
// Rendering it into markup is the caller's concern.
type RenderSpec struct {
	StepID           string `json:"step_id"`
	StepType         string `json:"step_type"`
	ScreenTemplateID string `json:"screen_template_id"`
	Props            Object `json:"props"`
	UIHints          Object `json:"ui_hints"`
}

// RequestContext carries the caller identity and any request-scoped values
// that conditions may read when a field is absent from run state.
type RequestContext struct {
	UserID string
	Values Object
}

// Lookup returns a request-scoped value. user_id is always resolvable.
func (rc RequestContext) Lookup(key string) (any, bool) {
	if key == "user_id" && rc.UserID != "" {
		return rc.UserID, true
	}
	v, ok := rc.Values[key]
	return v, ok
}
