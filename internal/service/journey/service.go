// Package journey implements the recorrido runtime: the state machine that
// starts, shows, advances and abandons a student's run through a published
// journey version.
//
// Authorization and structural checks are hard failures returned to the
// caller. Event emission, enrichment and condition errors are soft failures:
// they are logged and the run keeps progressing.
package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/enricher"
	"github.com/sendas-app/recorridos/internal/eventschema"
	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
	"github.com/sendas-app/recorridos/internal/telemetry"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Versions    VersionRepo
	Runs        RunRepo
	StepResults StepResultRepo
	Events      EventRepo

	Conditions *condition.Registry
	EventTypes *eventschema.Registry
	Enrichers  *enricher.Chain

	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service runs journeys.
type Service struct {
	versions    VersionRepo
	runs        RunRepo
	stepResults StepResultRepo
	events      EventRepo

	eventTypes *eventschema.Registry
	enrichers  *enricher.Chain
	router     *Router
	logger     *slog.Logger
	now        func() time.Time
	tracer     trace.Tracer

	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsAbandoned metric.Int64Counter
	eventsSkipped metric.Int64Counter
}

// New creates a Service. Repositories and registries are required; a nil
// enricher chain disables enrichment.
func New(d Deps) (*Service, error) {
	switch {
	case d.Versions == nil, d.Runs == nil, d.StepResults == nil, d.Events == nil:
		return nil, errors.New("journey: all repositories are required")
	case d.Conditions == nil, d.EventTypes == nil:
		return nil, errors.New("journey: condition and event registries are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	meter := telemetry.Meter("recorridos/journey")
	started, _ := meter.Int64Counter("recorridos.runs.started", metric.WithDescription("Runs started"))
	completed, _ := meter.Int64Counter("recorridos.runs.completed", metric.WithDescription("Runs completed"))
	abandoned, _ := meter.Int64Counter("recorridos.runs.abandoned", metric.WithDescription("Runs abandoned"))
	skipped, _ := meter.Int64Counter("recorridos.events.skipped",
		metric.WithDescription("Events not recorded because validation or storage failed"))

	return &Service{
		versions:      d.Versions,
		runs:          d.Runs,
		stepResults:   d.StepResults,
		events:        d.Events,
		eventTypes:    d.EventTypes,
		enrichers:     d.Enrichers,
		router:        NewRouter(condition.NewEvaluator(d.Conditions, d.Logger)),
		logger:        d.Logger,
		now:           d.Now,
		tracer:        telemetry.Tracer("recorridos/journey"),
		runsStarted:   started,
		runsCompleted: completed,
		runsAbandoned: abandoned,
		eventsSkipped: skipped,
	}, nil
}

// StartResult is returned by StartRun.
type StartResult struct {
	RunID uuid.UUID
	Step  model.RenderSpec
	Run   model.Run
}

// RunStep pairs a run with the render spec of its current step. Step is nil
// when SubmitStep completed the run.
type RunStep struct {
	Run  model.Run
	Step *model.RenderSpec
}

// StartRun creates a run of the latest published version of recorridoID,
// positioned at the entry step.
func (s *Service) StartRun(ctx context.Context, rc model.RequestContext, recorridoID string) (StartResult, error) {
	ctx, span := s.tracer.Start(ctx, "journey.StartRun", trace.WithAttributes(
		attribute.String("recorrido.id", recorridoID),
	))
	defer span.End()

	if rc.UserID == "" {
		return StartResult{}, ErrInvalidContext
	}

	version, err := s.versions.GetLatestPublished(ctx, recorridoID)
	if errors.Is(err, storage.ErrNotFound) {
		return StartResult{}, fmt.Errorf("%w: %s", ErrNoPublishedVersion, recorridoID)
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("journey: load latest version: %w", err)
	}
	if version.Status != model.VersionPublished {
		return StartResult{}, fmt.Errorf("%w: %s v%d is %s", ErrVersionNotPublished, recorridoID, version.Version, version.Status)
	}

	def := version.Definition
	entry, ok := def.Step(def.EntryStepID)
	if !ok {
		return StartResult{}, fmt.Errorf("%w: entry step %q of %s v%d does not exist",
			ErrInvalidDefinition, def.EntryStepID, recorridoID, version.Version)
	}

	now := s.now().UTC()
	run, err := s.runs.Create(ctx, model.Run{
		ID:             uuid.New(),
		UserID:         rc.UserID,
		RecorridoID:    recorridoID,
		Version:        version.Version,
		Status:         model.RunInProgress,
		CurrentStepID:  def.EntryStepID,
		State:          model.Object{},
		StartedAt:      now,
		LastActivityAt: now,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("journey: create run: %w", err)
	}
	span.SetAttributes(attribute.String("recorrido.run_id", run.ID.String()), attribute.Int("recorrido.version", run.Version))
	s.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("recorrido_id", recorridoID)))

	s.emit(ctx, &run, model.EventRecorridoStarted, model.Object{
		"recorrido_id": recorridoID,
		"user_id":      rc.UserID,
		"timestamp":    s.timestamp(),
	}, nil)

	s.logger.Info("journey: run started",
		"run_id", run.ID, "recorrido_id", recorridoID, "version", run.Version, "user_id", rc.UserID)

	return StartResult{
		RunID: run.ID,
		Step:  s.buildRenderSpec(ctx, def.EntryStepID, entry, nil, nil),
		Run:   run,
	}, nil
}

// GetCurrentStep returns the run and the fully enriched render spec of its
// current step. Repeated views of the same step record one step_viewed event.
func (s *Service) GetCurrentStep(ctx context.Context, rc model.RequestContext, runID uuid.UUID) (RunStep, error) {
	ctx, span := s.tracer.Start(ctx, "journey.GetCurrentStep", trace.WithAttributes(
		attribute.String("recorrido.run_id", runID.String()),
	))
	defer span.End()

	run, err := s.loadActiveRun(ctx, rc, runID)
	if err != nil {
		return RunStep{}, err
	}
	version, err := s.loadPinnedVersion(ctx, run)
	if err != nil {
		return RunStep{}, err
	}
	step, ok := version.Definition.Step(run.CurrentStepID)
	if !ok {
		return RunStep{}, fmt.Errorf("%w: %q in %s v%d", ErrStepNotFound, run.CurrentStepID, run.RecorridoID, run.Version)
	}

	spec := s.buildRenderSpec(ctx, run.CurrentStepID, step, &run, &rc)

	key := model.ViewIdempotencyKey(run.ID, run.CurrentStepID)
	s.emit(ctx, &run, model.EventStepViewed, model.Object{
		"recorrido_id": run.RecorridoID,
		"step_id":      run.CurrentStepID,
		"user_id":      rc.UserID,
		"timestamp":    s.timestamp(),
	}, &key)

	now := s.now().UTC()
	if err := s.runs.Touch(ctx, run.ID, now); err != nil {
		s.logger.Warn("journey: touch run failed", "run_id", run.ID, "error", err)
	} else {
		run.LastActivityAt = now
	}

	return RunStep{Run: run, Step: &spec}, nil
}

// SubmitStep records the student's input for the current step, emits the
// step's events, runs post-submit enrichment and advances or completes the run.
func (s *Service) SubmitStep(ctx context.Context, rc model.RequestContext, runID uuid.UUID, stepID string, input model.Object) (RunStep, error) {
	ctx, span := s.tracer.Start(ctx, "journey.SubmitStep", trace.WithAttributes(
		attribute.String("recorrido.run_id", runID.String()),
		attribute.String("recorrido.step_id", stepID),
	))
	defer span.End()

	if input == nil {
		input = model.Object{}
	}
	if err := model.CheckObject(input); err != nil {
		return RunStep{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	run, err := s.loadActiveRun(ctx, rc, runID)
	if err != nil {
		return RunStep{}, err
	}
	if run.CurrentStepID != stepID {
		return RunStep{}, fmt.Errorf("%w: expected %q, got %q", ErrStepMismatch, run.CurrentStepID, stepID)
	}
	version, err := s.loadPinnedVersion(ctx, run)
	if err != nil {
		return RunStep{}, err
	}
	def := version.Definition
	step, ok := def.Step(stepID)
	if !ok {
		return RunStep{}, fmt.Errorf("%w: %q in %s v%d", ErrStepNotFound, stepID, run.RecorridoID, run.Version)
	}

	newState := ApplyCapture(step, input, run.State)

	now := s.now().UTC()
	duration := now.Sub(run.LastActivityAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	if _, err := s.stepResults.Append(ctx, model.StepResult{
		ID:         uuid.New(),
		RunID:      run.ID,
		StepID:     stepID,
		Captured:   input,
		DurationMS: &duration,
		CreatedAt:  now,
	}); err != nil {
		return RunStep{}, fmt.Errorf("journey: append step result: %w", err)
	}

	s.emit(ctx, &run, model.EventStepCompleted, model.Object{
		"recorrido_id":    run.RecorridoID,
		"step_id":         stepID,
		"user_id":         rc.UserID,
		"timestamp":       s.timestamp(),
		"completion_data": input,
	}, nil)

	tc := TemplateContext{
		UserID:      rc.UserID,
		RunID:       run.ID.String(),
		StepID:      stepID,
		RecorridoID: run.RecorridoID,
		State:       newState,
	}
	for _, em := range step.Emit {
		s.emit(ctx, &run, em.EventType, ResolvePayload(em.PayloadTemplate, tc), nil)
	}

	finalState := s.enrichers.PostSubmit(ctx, enricher.PostSubmitRequest{
		StepID:  stepID,
		Step:    step,
		Input:   input,
		Run:     &run,
		Request: rc,
	}, newState)

	nextStepID, outcome := s.router.Route(stepID, def.Edges, finalState, rc)
	if outcome == RouteNoMatch {
		s.logger.Warn("journey: no edge matched, completing run",
			"run_id", run.ID, "recorrido_id", run.RecorridoID, "step_id", stepID)
	}

	if nextStepID == "" {
		return s.complete(ctx, rc, run, finalState, outcome)
	}

	next, ok := def.Step(nextStepID)
	if !ok {
		return RunStep{}, fmt.Errorf("%w: edge from %q targets missing step %q", ErrInvalidDefinition, stepID, nextStepID)
	}
	updated, err := s.runs.Update(ctx, run.ID, model.RunPatch{
		ExpectedRevision: run.Revision,
		CurrentStepID:    &nextStepID,
		State:            finalState,
		LastActivityAt:   &now,
	})
	if err != nil {
		return RunStep{}, s.updateError(err)
	}

	s.logger.Info("journey: step submitted",
		"run_id", run.ID, "from_step_id", stepID, "to_step_id", nextStepID)

	spec := s.buildRenderSpec(ctx, nextStepID, next, nil, nil)
	return RunStep{Run: updated, Step: &spec}, nil
}

func (s *Service) complete(ctx context.Context, rc model.RequestContext, run model.Run, state model.Object, outcome RouteOutcome) (RunStep, error) {
	now := s.now().UTC()
	status := model.RunCompleted
	updated, err := s.runs.Update(ctx, run.ID, model.RunPatch{
		ExpectedRevision: run.Revision,
		Status:           &status,
		State:            state,
		CompletedAt:      &now,
		LastActivityAt:   &now,
	})
	if err != nil {
		return RunStep{}, s.updateError(err)
	}
	s.runsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("recorrido_id", run.RecorridoID),
		attribute.String("end_reason", outcome.EndReason()),
	))

	payload := model.Object{
		"recorrido_id":      run.RecorridoID,
		"user_id":           rc.UserID,
		"timestamp":         s.timestamp(),
		"total_duration_ms": max(now.Sub(run.StartedAt).Milliseconds(), 0),
		"end_reason":        outcome.EndReason(),
	}
	if n, err := s.stepResults.CountForRun(ctx, run.ID); err != nil {
		s.logger.Warn("journey: count step results failed", "run_id", run.ID, "error", err)
	} else {
		payload["steps_completed"] = n
	}
	s.emit(ctx, &updated, model.EventRecorridoCompleted, payload, nil)

	s.logger.Info("journey: run completed",
		"run_id", run.ID, "recorrido_id", run.RecorridoID, "end_reason", outcome.EndReason())
	return RunStep{Run: updated, Step: nil}, nil
}

// AbandonRun moves an in-progress run to abandoned.
func (s *Service) AbandonRun(ctx context.Context, rc model.RequestContext, runID uuid.UUID, reason string) (model.AbandonRunResponse, error) {
	ctx, span := s.tracer.Start(ctx, "journey.AbandonRun", trace.WithAttributes(
		attribute.String("recorrido.run_id", runID.String()),
	))
	defer span.End()

	run, err := s.loadActiveRun(ctx, rc, runID)
	if err != nil {
		return model.AbandonRunResponse{}, err
	}

	now := s.now().UTC()
	status := model.RunAbandoned
	updated, err := s.runs.Update(ctx, run.ID, model.RunPatch{
		ExpectedRevision: run.Revision,
		Status:           &status,
		AbandonedAt:      &now,
		LastActivityAt:   &now,
	})
	if err != nil {
		return model.AbandonRunResponse{}, s.updateError(err)
	}
	s.runsAbandoned.Add(ctx, 1, metric.WithAttributes(attribute.String("recorrido_id", run.RecorridoID)))

	payload := model.Object{
		"recorrido_id": run.RecorridoID,
		"user_id":      rc.UserID,
		"timestamp":    s.timestamp(),
		"last_step_id": run.CurrentStepID,
	}
	if reason != "" {
		payload["abandonment_reason"] = reason
	}
	s.emit(ctx, &updated, model.EventRecorridoAbandoned, payload, nil)

	s.logger.Info("journey: run abandoned", "run_id", run.ID, "last_step_id", run.CurrentStepID)
	return model.AbandonRunResponse{OK: true}, nil
}

// ActiveRun returns the student's most recent in-progress run of recorridoID,
// so a client can resume instead of starting over.
func (s *Service) ActiveRun(ctx context.Context, rc model.RequestContext, recorridoID string) (model.Run, error) {
	if rc.UserID == "" {
		return model.Run{}, ErrInvalidContext
	}
	run, err := s.runs.GetActiveForUser(ctx, rc.UserID, recorridoID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Run{}, fmt.Errorf("%w: no active run of %s", ErrRunNotFound, recorridoID)
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("journey: load active run: %w", err)
	}
	return run, nil
}

// loadActiveRun loads a run and enforces ownership and the in-progress status.
// Ownership is checked before status so another user's run reveals nothing.
func (s *Service) loadActiveRun(ctx context.Context, rc model.RequestContext, runID uuid.UUID) (model.Run, error) {
	if rc.UserID == "" {
		return model.Run{}, ErrInvalidContext
	}
	run, err := s.runs.Get(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("journey: load run: %w", err)
	}
	if run.UserID != rc.UserID {
		return model.Run{}, ErrUnauthorized
	}
	if run.Status != model.RunInProgress {
		return model.Run{}, fmt.Errorf("%w: status is %s", ErrRunNotActive, run.Status)
	}
	if run.State == nil {
		run.State = model.Object{}
	}
	return run, nil
}

func (s *Service) loadPinnedVersion(ctx context.Context, run model.Run) (model.JourneyVersion, error) {
	v, err := s.versions.GetVersion(ctx, run.RecorridoID, run.Version)
	if errors.Is(err, storage.ErrNotFound) {
		return model.JourneyVersion{}, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, run.RecorridoID, run.Version)
	}
	if err != nil {
		return model.JourneyVersion{}, fmt.Errorf("journey: load version: %w", err)
	}
	return v, nil
}

func (s *Service) updateError(err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return ErrConcurrentUpdate
	}
	if errors.Is(err, storage.ErrNotFound) {
		return ErrRunNotFound
	}
	return fmt.Errorf("journey: update run: %w", err)
}

// emit validates and records an event. Failures are logged and counted,
// never returned.
func (s *Service) emit(ctx context.Context, run *model.Run, eventType string, payload model.Object, idempotencyKey *string) {
	res := s.eventTypes.Validate(eventType, payload)
	if !res.Valid {
		s.logger.Warn("journey: event payload invalid, skipped",
			"event_type", eventType, "run_id", run.ID, "errors", res.Errors)
		s.eventsSkipped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("reason", "invalid_payload"),
		))
		return
	}
	runID := run.ID
	userID := run.UserID
	if _, err := s.events.Append(ctx, model.NewEvent{
		RunID:          &runID,
		UserID:         &userID,
		EventType:      eventType,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	}); err != nil {
		s.logger.Warn("journey: append event failed", "event_type", eventType, "run_id", run.ID, "error", err)
		s.eventsSkipped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("reason", "storage_error"),
		))
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
