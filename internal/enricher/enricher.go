// Package enricher defines the step enrichment capability and the chain that
// dispatches to registered enrichers.
//
// An enricher claims steps by identifier. It may rewrite the render spec of a
// claimed step and contribute state updates after the step is submitted.
// Every call is isolated: an error or panic from one enricher is logged and
// its contribution dropped, and the remaining enrichers still run.
package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/telemetry"
)

// InputValidation is the result of StepEnricher.ValidateInput. Invalid input
// never blocks a submit; SanitizedInput is what PostSubmit receives.
type InputValidation struct {
	Valid          bool
	Errors         []string
	SanitizedInput model.Object
}

// PostSubmitRequest is passed to StepEnricher.PostSubmit.
type PostSubmitRequest struct {
	StepID  string
	Step    model.StepDefinition
	Input   model.Object
	Run     *model.Run
	Request model.RequestContext
}

// PostSubmitResult carries state updates merged into the run after submit.
type PostSubmitResult struct {
	StateUpdates model.Object
}

// StepEnricher is the capability implemented by pluggable step handlers.
type StepEnricher interface {
	Name() string
	CanHandle(stepID string) bool
	Enhance(ctx context.Context, spec model.RenderSpec, run *model.Run, rc model.RequestContext) (model.RenderSpec, error)
	ValidateInput(input model.Object, run *model.Run) InputValidation
	PostSubmit(ctx context.Context, req PostSubmitRequest) (PostSubmitResult, error)
}

// Chain dispatches to enrichers in registration order.
type Chain struct {
	enrichers []StepEnricher
	logger    *slog.Logger
	failures  metric.Int64Counter
}

// NewChain creates a chain over enrichers, kept in the given order.
func NewChain(logger *slog.Logger, enrichers ...StepEnricher) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	failures, _ := telemetry.Meter("recorridos/enricher").Int64Counter("recorridos.enricher.failures",
		metric.WithDescription("Step enricher calls that returned an error or panicked"),
	)
	return &Chain{enrichers: enrichers, logger: logger, failures: failures}
}

// Add appends an enricher at the lowest precedence.
func (c *Chain) Add(e StepEnricher) {
	c.enrichers = append(c.enrichers, e)
}

// Names returns enricher names in precedence order.
func (c *Chain) Names() []string {
	out := make([]string, 0, len(c.enrichers))
	for _, e := range c.enrichers {
		out = append(out, e.Name())
	}
	return out
}

// Enhance offers spec to every enricher claiming spec.StepID. When run or rc
// is nil the base spec is returned untouched.
func (c *Chain) Enhance(ctx context.Context, spec model.RenderSpec, run *model.Run, rc *model.RequestContext) model.RenderSpec {
	if c == nil || run == nil || rc == nil {
		return spec
	}
	for _, e := range c.enrichers {
		if !c.claims(e, spec.StepID) {
			continue
		}
		next, err := c.enhanceOne(ctx, e, cloneSpec(spec), run, *rc)
		if err != nil {
			c.fail(ctx, e, "enhance", spec.StepID, err)
			continue
		}
		spec = next
	}
	return spec
}

// PostSubmit runs ValidateInput then PostSubmit on every enricher claiming
// stepID, merging their state updates over state in order. The returned
// object is a new map; state is not mutated.
func (c *Chain) PostSubmit(ctx context.Context, req PostSubmitRequest, state model.Object) model.Object {
	final := model.CloneObject(state)
	if c == nil {
		return final
	}
	for _, e := range c.enrichers {
		if !c.claims(e, req.StepID) {
			continue
		}
		res, err := c.postSubmitOne(ctx, e, req)
		if err != nil {
			c.fail(ctx, e, "post_submit", req.StepID, err)
			continue
		}
		if len(res.StateUpdates) > 0 {
			maps.Copy(final, res.StateUpdates)
			c.logger.Debug("enricher: state updated", "enricher", e.Name(), "step_id", req.StepID, "keys", len(res.StateUpdates))
		}
	}
	return final
}

func (c *Chain) claims(e StepEnricher, stepID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("enricher: CanHandle panicked", "enricher", e.Name(), "step_id", stepID, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	return e.CanHandle(stepID)
}

func (c *Chain) enhanceOne(ctx context.Context, e StepEnricher, spec model.RenderSpec, run *model.Run, rc model.RequestContext) (out model.RenderSpec, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Enhance(ctx, spec, run, rc)
}

func (c *Chain) postSubmitOne(ctx context.Context, e StepEnricher, req PostSubmitRequest) (out PostSubmitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	v := e.ValidateInput(model.CloneObject(req.Input), req.Run)
	if !v.Valid {
		c.logger.Warn("enricher: input failed validation, continuing with sanitized input",
			"enricher", e.Name(), "step_id", req.StepID, "errors", v.Errors)
	}
	sanitized := v.SanitizedInput
	if sanitized == nil {
		sanitized = model.Object{}
	}
	req.Input = sanitized
	return e.PostSubmit(ctx, req)
}

func (c *Chain) fail(ctx context.Context, e StepEnricher, phase, stepID string, err error) {
	c.logger.Error("enricher: call failed, contribution skipped",
		"enricher", e.Name(), "phase", phase, "step_id", stepID, "error", err)
	if c.failures != nil {
		c.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("enricher", e.Name()),
			attribute.String("phase", phase),
		))
	}
}

func cloneSpec(spec model.RenderSpec) model.RenderSpec {
	spec.Props = model.CloneObject(spec.Props)
	spec.UIHints = model.CloneObject(spec.UIHints)
	return spec
}
