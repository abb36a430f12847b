// Package intent defines the closed set of structured interpretations of a
// user message and the parser that extracts one from raw model output.
package intent

// Kind identifies what the model wants the pipeline to do.
type Kind string

const (
	KindResponse Kind = "response" // plain reply, no action
	KindClarify  Kind = "clarify"  // ask a follow-up question
	KindAction   Kind = "action"   // single tool call
	KindPlan     Kind = "plan"     // ordered multi-step tool calls
	KindObserve  Kind = "observe"  // proactive statement, no action
)

// Step is one entry of a plan intent.
type Step struct {
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Description string         `json:"description,omitempty"`
}

// Intent is the parsed interpretation of one user message.
type Intent struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message,omitempty"`
	Choices   []string       `json:"choices,omitempty"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Steps     []Step         `json:"steps,omitempty"`
}
