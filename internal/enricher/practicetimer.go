package enricher

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sendas-app/recorridos/internal/model"
)

// Practice describes one timed practice.
type Practice struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	DurationMinutes int    `json:"duration_minutes"`
}

// PracticeCatalog is the source of truth for practice durations.
var PracticeCatalog = map[string]Practice{
	"respiracion_consciente": {ID: "respiracion_consciente", Label: "Respiración consciente", DurationMinutes: 3},
	"enraizamiento":          {ID: "enraizamiento", Label: "Enraizamiento", DurationMinutes: 2},
	"apertura_canales":       {ID: "apertura_canales", Label: "Apertura de canales", DurationMinutes: 5},
	"invocacion_luz":         {ID: "invocacion_luz", Label: "Invocación de luz", DurationMinutes: 3},
	"alineacion_chakras":     {ID: "alineacion_chakras", Label: "Alineación de chakras", DurationMinutes: 7},

	"sellado_energetico":    {ID: "sellado_energetico", Label: "Sellado energético", DurationMinutes: 2},
	"agradecimiento":        {ID: "agradecimiento", Label: "Agradecimiento", DurationMinutes: 1},
	"anclaje_beneficios":    {ID: "anclaje_beneficios", Label: "Anclaje de beneficios", DurationMinutes: 3},
	"activacion_proteccion": {ID: "activacion_proteccion", Label: "Activación de protección", DurationMinutes: 4},
	"expansion_conciencia":  {ID: "expansion_conciencia", Label: "Expansión de conciencia", DurationMinutes: 5},
}

// Timer bounds, in minutes.
const (
	MinPracticeMinutes     = 1
	DefaultPracticeMinutes = 5
)

// practiceSteps maps each handled step to the state key holding the ids
// selected on the preceding selection step, and to the prefix of the keys it
// writes back.
var practiceSteps = map[string]struct {
	stateKey string
	prefix   string
	title    string
}{
	"preparacion_practica":   {stateKey: "preparacion_selected", prefix: "preparacion", title: "Prácticas de Preparación"},
	"post_limpieza_practica": {stateKey: "post_limpieza_selected", prefix: "post_limpieza", title: "Prácticas de Integración"},
}

// PracticeTimer configures the countdown of practice steps from the practices
// the student selected earlier in the run.
type PracticeTimer struct {
	now func() time.Time
}

// NewPracticeTimer returns a PracticeTimer enricher.
func NewPracticeTimer() *PracticeTimer {
	return &PracticeTimer{now: time.Now}
}

func (p *PracticeTimer) Name() string { return "practice_timer" }

func (p *PracticeTimer) CanHandle(stepID string) bool {
	_, ok := practiceSteps[stepID]
	return ok
}

// Enhance sums the declared durations of the selected practices. With no
// known practice selected the timer falls back to DefaultPracticeMinutes.
func (p *PracticeTimer) Enhance(_ context.Context, spec model.RenderSpec, run *model.Run, _ model.RequestContext) (model.RenderSpec, error) {
	cfg := practiceSteps[spec.StepID]
	spec = cloneSpec(spec)
	var practices []Practice
	total := 0
	for _, id := range stringList(run.State[cfg.stateKey]) {
		if pr, ok := PracticeCatalog[id]; ok {
			practices = append(practices, pr)
			total += pr.DurationMinutes
		}
	}
	if total < MinPracticeMinutes {
		total = DefaultPracticeMinutes
	}

	if _, ok := spec.Props["title"]; !ok {
		spec.Props["title"] = cfg.title
	}
	if _, ok := spec.Props["instructions"]; !ok {
		spec.Props["instructions"] = practiceInstructions(practices)
	}
	listed := make([]any, 0, len(practices))
	for _, pr := range practices {
		listed = append(listed, model.Object{"id": pr.ID, "label": pr.Label, "duration_minutes": pr.DurationMinutes})
	}
	spec.Props["duration_seconds"] = total * 60
	spec.Props["declared_duration_minutes"] = total
	spec.Props["practices"] = listed
	spec.Props["practices_count"] = len(practices)
	spec.Props["source_state_key"] = cfg.stateKey

	spec.UIHints["show_timer"] = true
	spec.UIHints["show_practice_list"] = len(practices) > 0
	spec.UIHints["timer_style"] = "countdown"
	spec.UIHints["allow_early_complete"] = true
	spec.UIHints["show_progress"] = true
	spec.UIHints["allow_pause"] = true
	spec.UIHints["allow_skip"] = false
	return spec, nil
}

// ValidateInput always accepts. practice_completed defaults to true, the real
// duration is rounded to two decimals and may be given in seconds.
func (p *PracticeTimer) ValidateInput(input model.Object, _ *model.Run) InputValidation {
	out := model.Object{"practice_completed": true}
	if v, ok := input["practice_completed"]; ok {
		out["practice_completed"] = truthy(v)
	}

	if v, ok := input["duration_real_minutes"]; ok {
		m, ok := toNumber(v)
		if !ok || m < 0 {
			m = 0
		}
		out["duration_real_minutes"] = round2(m)
	} else if v, ok := input["duration_real_seconds"]; ok {
		if s, ok := toNumber(v); ok && s >= 0 {
			out["duration_real_minutes"] = round2(s / 60)
		}
	}

	if v, ok := input["practices_completed"]; ok {
		if list, ok := v.([]any); ok {
			ids := make([]any, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					ids = append(ids, s)
				}
			}
			out["practices_completed"] = ids
		}
	}
	return InputValidation{Valid: true, SanitizedInput: out}
}

func (p *PracticeTimer) PostSubmit(_ context.Context, req PostSubmitRequest) (PostSubmitResult, error) {
	cfg, ok := practiceSteps[req.StepID]
	if !ok {
		return PostSubmitResult{}, fmt.Errorf("practice_timer: unexpected step %q", req.StepID)
	}
	updates := model.Object{
		cfg.prefix + "_practica_completed": req.Input["practice_completed"],
		cfg.prefix + "_practica_timestamp": p.now().UTC().Format(time.RFC3339),
	}
	if v, ok := req.Input["duration_real_minutes"]; ok {
		updates[cfg.prefix+"_duration_real_minutes"] = v
	}
	if v, ok := req.Input["practices_completed"]; ok {
		updates[cfg.prefix+"_practices_completed"] = v
	}
	return PostSubmitResult{StateUpdates: updates}, nil
}

func practiceInstructions(practices []Practice) string {
	if len(practices) == 0 {
		return "Tómate este tiempo para centrarte y prepararte."
	}
	var b strings.Builder
	b.WriteString("Realiza las siguientes prácticas:")
	for _, pr := range practices {
		b.WriteString("\n• ")
		b.WriteString(pr.Label)
	}
	return b.String()
}

// stringList reads a list of ids stored in state. Values decoded from JSON
// arrive as []any; values written in-process may be []string.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	default:
		return true
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
