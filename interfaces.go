package recorridos

import (
	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/enricher"
	"github.com/sendas-app/recorridos/internal/eventschema"
)

// StepEnricher rewrites the render spec of the steps it claims and may
// contribute run state after they are submitted. Register with
// WithStepEnricher. Errors and panics are logged and never fail a request.
type StepEnricher = enricher.StepEnricher

// Types used by StepEnricher.
type (
	InputValidation   = enricher.InputValidation
	PostSubmitRequest = enricher.PostSubmitRequest
	PostSubmitResult  = enricher.PostSubmitResult
)

// ConditionStrategy decides whether an edge condition holds. Register with
// WithConditionType.
type ConditionStrategy = condition.Strategy

// ConditionFunc adapts a function to ConditionStrategy.
type ConditionFunc = condition.StrategyFunc

// EventType describes an event the runtime may record: its payload JSON
// Schema and how many days events of the type are kept. Register with
// WithEventType.
type EventType = eventschema.EventType
