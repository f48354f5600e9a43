package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sendas-app/recorridos/internal/model"
)

// Selection sources.
const (
	SourcePreparacion  = "preparacion"
	SourceProtecciones = "protecciones"
	SourcePostLimpieza = "post_limpieza"
)

// SelectionItem is one selectable entry shown on a selection step.
type SelectionItem struct {
	ID              string       `json:"id"`
	Label           string       `json:"label"`
	Description     string       `json:"description"`
	DurationMinutes int          `json:"duration_minutes,omitempty"`
	DefaultSelected bool         `json:"default_selected"`
	Tags            []string     `json:"tags,omitempty"`
	Metadata        model.Object `json:"metadata,omitempty"`
}

// Catalog resolves the items of a selection source for a student level.
type Catalog interface {
	Items(ctx context.Context, source string, state model.Object, level int) ([]SelectionItem, error)
}

type selectionSource struct {
	label       string
	description string
}

var selectionSources = map[string]selectionSource{
	SourcePreparacion: {
		label:       "Recursos de Preparación",
		description: "Selecciona las prácticas preparatorias que quieras realizar",
	},
	SourceProtecciones: {
		label:       "Protecciones Energéticas",
		description: "Activa las protecciones que desees para tu práctica",
	},
	SourcePostLimpieza: {
		label:       "Prácticas de Integración",
		description: "Selecciona las prácticas de cierre que quieras realizar",
	},
}

var selectionSteps = map[string]string{
	"preparacion_seleccion":    SourcePreparacion,
	"protecciones_energeticas": SourceProtecciones,
	"post_limpieza_seleccion":  SourcePostLimpieza,
}

// Selection lists catalog items on selection steps and stores the chosen ids
// in run state under "<source>_selected".
type Selection struct {
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewSelection returns a Selection enricher. A nil catalog uses the built-in
// fallback catalog only.
func NewSelection(catalog Catalog, logger *slog.Logger) *Selection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selection{catalog: catalog, logger: logger, now: time.Now}
}

func (s *Selection) Name() string { return "selection" }

func (s *Selection) CanHandle(stepID string) bool {
	_, ok := selectionSteps[stepID]
	return ok
}

func (s *Selection) Enhance(ctx context.Context, spec model.RenderSpec, run *model.Run, rc model.RequestContext) (model.RenderSpec, error) {
	spec = cloneSpec(spec)
	sourceName, _ := spec.Props["selection_source"].(string)
	if sourceName == "" {
		sourceName = inferSelectionSource(spec.StepID)
	}
	source, ok := selectionSources[sourceName]
	if !ok {
		s.logger.Warn("enricher: unknown selection source", "step_id", spec.StepID, "selection_source", sourceName)
		spec.Props["selection_items"] = []SelectionItem{}
		spec.Props["selection_error"] = "invalid_source"
		return spec, nil
	}

	items := s.items(ctx, sourceName, run.State, studentLevel(rc))
	showDuration := false
	for _, it := range items {
		if it.DurationMinutes > 0 {
			showDuration = true
			break
		}
	}

	spec.Props["selection_items"] = items
	spec.Props["selection_source"] = sourceName
	spec.Props["selection_label"] = source.label
	spec.Props["selection_description"] = source.description
	spec.UIHints["show_checklist"] = true
	spec.UIHints["allow_multi_select"] = true
	spec.UIHints["show_duration"] = showDuration
	spec.UIHints["min_selections"] = 0
	spec.UIHints["max_selections"] = len(items)
	return spec, nil
}

// items consults the catalog first and falls back to the built-in list when
// the catalog fails or returns nothing.
func (s *Selection) items(ctx context.Context, source string, state model.Object, level int) []SelectionItem {
	if s.catalog != nil {
		items, err := s.catalog.Items(ctx, source, state, level)
		switch {
		case err != nil:
			s.logger.Warn("enricher: selection catalog failed, using fallback", "selection_source", source, "error", err)
		case len(items) > 0:
			return items
		default:
			s.logger.Warn("enricher: selection catalog empty, using fallback", "selection_source", source)
		}
	}
	return FallbackItems(source, level)
}

func (s *Selection) ValidateInput(input model.Object, _ *model.Run) InputValidation {
	var errs []string
	out := model.Object{}

	selected := []any{}
	if v, ok := input["selected_items"]; ok {
		list, isList := v.([]any)
		if !isList {
			errs = append(errs, "selected_items must be an array")
		}
		for _, item := range list {
			if item == nil {
				continue
			}
			if id := strings.TrimSpace(fmt.Sprint(item)); id != "" {
				selected = append(selected, id)
			}
		}
	}
	out["selected_items"] = selected

	if v, ok := input["selection_source"]; ok && v != nil {
		out["selection_source"] = strings.TrimSpace(fmt.Sprint(v))
	}
	return InputValidation{Valid: len(errs) == 0, Errors: errs, SanitizedInput: out}
}

func (s *Selection) PostSubmit(_ context.Context, req PostSubmitRequest) (PostSubmitResult, error) {
	source, _ := req.Input["selection_source"].(string)
	if _, known := selectionSources[source]; !known {
		source = inferSelectionSource(req.StepID)
	}
	selected, ok := req.Input["selected_items"]
	if !ok || selected == nil {
		selected = []any{}
	}
	return PostSubmitResult{StateUpdates: model.Object{
		source + "_selected":  selected,
		source + "_timestamp": s.now().UTC().Format(time.RFC3339),
	}}, nil
}

func inferSelectionSource(stepID string) string {
	if src, ok := selectionSteps[stepID]; ok {
		return src
	}
	return SourcePreparacion
}

// studentLevel reads the student's level from the request context. Missing or
// malformed levels count as level 1.
func studentLevel(rc model.RequestContext) int {
	v, ok := rc.Lookup("level")
	if !ok {
		return 1
	}
	n, ok := toNumber(v)
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}

type fallbackItem struct {
	id, label, description string
	levelMin, minutes      int
}

var fallbackCatalog = map[string][]fallbackItem{
	SourcePreparacion: {
		{"respiracion_consciente", "Respiración consciente", "Centra tu atención en la respiración", 1, 3},
		{"enraizamiento", "Enraizamiento", "Conecta con la tierra", 1, 2},
		{"apertura_canales", "Apertura de canales", "Abre tus canales energéticos", 2, 5},
		{"invocacion_luz", "Invocación de luz", "Invoca la luz dorada", 3, 3},
		{"alineacion_chakras", "Alineación de chakras", "Alinea y equilibra tus chakras", 4, 7},
	},
	SourcePostLimpieza: {
		{"sellado_energetico", "Sellado energético", "Sella tu campo energético", 1, 2},
		{"agradecimiento", "Agradecimiento", "Ofrece gratitud por la práctica", 1, 1},
		{"anclaje_beneficios", "Anclaje de beneficios", "Ancla los beneficios recibidos", 2, 3},
		{"activacion_proteccion", "Activación de protección", "Activa tu escudo de protección", 3, 4},
		{"expansion_conciencia", "Expansión de conciencia", "Expande tu conciencia más allá", 5, 5},
	},
}

// FallbackItems returns the built-in items of source available at level.
// Entry-level items are preselected. Protections have no fallback.
func FallbackItems(source string, level int) []SelectionItem {
	out := []SelectionItem{}
	for _, it := range fallbackCatalog[source] {
		if it.levelMin > level {
			continue
		}
		out = append(out, SelectionItem{
			ID:              it.id,
			Label:           it.label,
			Description:     it.description,
			DurationMinutes: it.minutes,
			DefaultSelected: it.levelMin == 1,
		})
	}
	return out
}
