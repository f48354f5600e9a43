package recorridos

import (
	"github.com/sendas-app/recorridos/internal/model"
)

// Journey data types, re-exported so hosts can implement extension
// interfaces without importing internal packages.
type (
	// Object is a JSON object as decoded from definitions, state and input.
	Object = model.Object
	// Run is one student's execution of a pinned journey version.
	Run = model.Run
	// RenderSpec tells the client which screen to show for a step.
	RenderSpec = model.RenderSpec
	// RequestContext carries the caller identity and request-scoped values
	// such as the student's level.
	RequestContext = model.RequestContext
	// StepDefinition is one node of a journey graph.
	StepDefinition = model.StepDefinition
	// JourneyDefinition is the authored graph of a recorrido.
	JourneyDefinition = model.JourneyDefinition
)

// Run statuses.
const (
	RunInProgress = model.RunInProgress
	RunCompleted  = model.RunCompleted
	RunAbandoned  = model.RunAbandoned
)
