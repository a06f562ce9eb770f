package harness

// Trace entry types.
const (
	TraceTypeInvocation = "invocation"
	TraceTypeEvent      = "event"
	TraceTypeCompletion = "completion"
)

// TraceEvent is one entry of a scenario trace: a step invocation, a vault
// event the step emitted, or the step's completion.
type TraceEvent struct {
	Type       string         `json:"type"`
	Action     string         `json:"action,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	OutputCase string         `json:"output_case,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Seq        int64          `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains invocations, events and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(action string, args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   TraceTypeInvocation,
		Action: action,
		Args:   args,
		Seq:    seq,
	})
}

// AddEventTrace adds a vault event to the trace.
func (r *Result) AddEventTrace(kind string, fields map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   TraceTypeEvent,
		Action: kind,
		Args:   fields,
		Seq:    seq,
	})
}

// AddCompletionTrace adds a completion to the trace.
func (r *Result) AddCompletionTrace(outputCase string, result map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:       TraceTypeCompletion,
		OutputCase: outputCase,
		Result:     result,
		Seq:        seq,
	})
}
