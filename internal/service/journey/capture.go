package journey

import "github.com/sendas-app/recorridos/internal/model"

// ApplyCapture returns a new state with the fields named by step's capture
// copied from input. current is never mutated and keys not named by the
// capture are kept as they are. A source field absent from input is skipped;
// an explicit null is copied.
func ApplyCapture(step model.StepDefinition, input, current model.Object) model.Object {
	next := model.CloneObject(current)
	for _, pair := range step.Capture.Pairs() {
		target, source := pair[0], pair[1]
		if v, ok := input[source]; ok {
			next[target] = v
		}
	}
	return next
}
