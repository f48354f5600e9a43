package journey

import (
	"fmt"
	"sort"

	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/eventschema"
	"github.com/sendas-app/recorridos/internal/model"
)

// ValidationReport lists blocking errors and informational warnings found in
// a journey definition.
type ValidationReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether the definition has no blocking errors.
func (r ValidationReport) OK() bool { return len(r.Errors) == 0 }

// ValidateDefinition checks a definition before it is published. Either
// registry may be nil to skip the corresponding lookups.
func ValidateDefinition(def model.JourneyDefinition, conditions *condition.Registry, events *eventschema.Registry) ValidationReport {
	var r ValidationReport
	errf := func(format string, args ...any) { r.Errors = append(r.Errors, fmt.Sprintf(format, args...)) }
	warnf := func(format string, args ...any) { r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...)) }

	if len(def.Steps) == 0 {
		errf("definition must have at least one step")
	}
	if def.EntryStepID == "" {
		errf("entry_step_id is required")
	} else if _, ok := def.Steps[def.EntryStepID]; !ok {
		errf("entry_step_id %q does not exist in steps", def.EntryStepID)
	}

	stepIDs := make([]string, 0, len(def.Steps))
	for id := range def.Steps {
		stepIDs = append(stepIDs, id)
	}
	sort.Strings(stepIDs)

	for _, id := range stepIDs {
		step := def.Steps[id]
		if step.ScreenTemplateID == "" {
			errf("step %q: screen_template_id is required", id)
		}
		if step.StepType == "" {
			warnf("step %q: no step_type, defaults to %q", id, model.DefaultStepType)
		}
		if err := model.CheckObject(step.Props); err != nil {
			errf("step %q: props: %v", id, err)
		}
		for i, em := range step.Emit {
			switch {
			case em.EventType == "":
				errf("step %q: emit[%d] has no event_type", id, i)
			case events != nil && !events.Has(em.EventType):
				errf("step %q: emit[%d] event_type %q is not registered", id, i, em.EventType)
			}
		}
	}

	for i, e := range def.Edges {
		if _, ok := def.Steps[e.FromStepID]; !ok {
			errf("edge %d: from_step_id %q does not exist in steps", i, e.FromStepID)
		}
		if _, ok := def.Steps[e.ToStepID]; !ok {
			errf("edge %d: to_step_id %q does not exist in steps", i, e.ToStepID)
		}
		if e.Condition == nil {
			continue
		}
		switch {
		case e.Condition.Type == "":
			errf("edge %d (%s -> %s): condition has no type", i, e.FromStepID, e.ToStepID)
		case conditions != nil && !conditions.Has(e.Condition.Type):
			errf("edge %d (%s -> %s): condition type %q is not registered", i, e.FromStepID, e.ToStepID, e.Condition.Type)
		}
	}

	for _, id := range unreachable(def) {
		warnf("step %q is not reachable from %q", id, def.EntryStepID)
	}
	for _, id := range withoutFallback(def) {
		warnf("step %q has no unconditional exit, runs end there when no condition matches", id)
	}
	return r
}

// withoutFallback returns the sorted ids of steps whose outgoing edges are all
// conditional. Steps without edges are terminal and not reported.
func withoutFallback(def model.JourneyDefinition) []string {
	conditional := make(map[string]bool)
	for _, e := range def.Edges {
		open := e.Condition == nil || e.Condition.Type == condition.TypeAlways
		if seen, ok := conditional[e.FromStepID]; ok {
			conditional[e.FromStepID] = seen && !open
		} else {
			conditional[e.FromStepID] = !open
		}
	}
	var out []string
	for id, only := range conditional {
		if _, ok := def.Steps[id]; ok && only {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// unreachable returns the sorted ids of steps no path from the entry reaches.
func unreachable(def model.JourneyDefinition) []string {
	if _, ok := def.Steps[def.EntryStepID]; !ok {
		return nil
	}
	seen := map[string]bool{def.EntryStepID: true}
	queue := []string{def.EntryStepID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range def.Edges {
			if e.FromStepID == cur && !seen[e.ToStepID] {
				seen[e.ToStepID] = true
				queue = append(queue, e.ToStepID)
			}
		}
	}
	var out []string
	for id := range def.Steps {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
