package journey

import (
	"context"

	"github.com/sendas-app/recorridos/internal/model"
)

// BaseRenderSpec builds the render spec of a step from its definition alone.
// Props and hints are deep copies so enrichers cannot alter the definition.
func BaseRenderSpec(stepID string, step model.StepDefinition) model.RenderSpec {
	return model.RenderSpec{
		StepID:           stepID,
		StepType:         step.Type(),
		ScreenTemplateID: step.ScreenTemplateID,
		Props:            model.DeepCopyObject(step.Props),
		UIHints:          model.DeepCopyObject(step.UIHints),
	}
}

// buildRenderSpec composes the base spec with enrichment. With a nil run or
// request context enrichers are skipped and the base spec is returned.
func (s *Service) buildRenderSpec(ctx context.Context, stepID string, step model.StepDefinition, run *model.Run, rc *model.RequestContext) model.RenderSpec {
	spec := BaseRenderSpec(stepID, step)
	return s.enrichers.Enhance(ctx, spec, run, rc)
}
