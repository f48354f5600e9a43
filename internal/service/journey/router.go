package journey

import (
	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/model"
)

// RouteOutcome explains the result of Route.
type RouteOutcome int

const (
	// RouteMatched means an edge matched and the next step is known.
	RouteMatched RouteOutcome = iota
	// RouteNoOutgoingEdges means the current step is a leaf.
	RouteNoOutgoingEdges
	// RouteNoMatch means outgoing edges exist but none matched.
	RouteNoMatch
)

// EndReason is the value reported in recorrido_completed for a terminal outcome.
func (o RouteOutcome) EndReason() string {
	switch o {
	case RouteNoMatch:
		return "no_matching_edge"
	default:
		return "end_of_graph"
	}
}

// Router selects the next step from a journey's edge list.
type Router struct {
	evaluator *condition.Evaluator
}

// NewRouter creates a Router evaluating conditions with evaluator.
func NewRouter(evaluator *condition.Evaluator) *Router {
	return &Router{evaluator: evaluator}
}

// Route returns the to_step_id of the first edge leaving current whose
// condition holds, evaluating edges in declaration order. An edge without a
// condition always matches. An empty step id means the journey is complete;
// the outcome tells a leaf step apart from a step whose edges all failed.
func (r *Router) Route(current string, edges []model.Edge, state model.Object, rc model.RequestContext) (string, RouteOutcome) {
	outgoing := 0
	for _, e := range edges {
		if e.FromStepID != current {
			continue
		}
		outgoing++
		if e.Condition == nil || r.evaluator.Evaluate(e.Condition, state, rc) {
			return e.ToStepID, RouteMatched
		}
	}
	if outgoing == 0 {
		return "", RouteNoOutgoingEdges
	}
	return "", RouteNoMatch
}
