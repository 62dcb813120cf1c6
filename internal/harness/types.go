package harness

import "github.com/roach88/ghostbridge/internal/ir"

// Trace event types.
const (
	TraceDispatch = "dispatch"
	TraceFrame    = "frame"
	TraceCommit   = "commit"
	TraceAdopt    = "adopt"
	TraceSend     = "send"
	TraceReset    = "reset"
)

// TraceEvent is one observable effect of a step.
type TraceEvent struct {
	Step  int        `json:"step"`
	Type  string     `json:"type"`
	Name  string     `json:"name,omitempty"`
	Field string     `json:"field,omitempty"`
	ID    int64      `json:"id,omitempty"`
	Value ir.IRValue `json:"value,omitempty"`
	// Dropped marks a broadcast the channel refused.
	Dropped bool `json:"dropped,omitempty"`
}

// toIR renders the event with empty fields omitted.
func (e TraceEvent) toIR() ir.IRObject {
	obj := ir.IRObject{
		"step": ir.IRInt(e.Step),
		"type": ir.IRString(e.Type),
	}
	if e.Name != "" {
		obj["name"] = ir.IRString(e.Name)
	}
	if e.Field != "" {
		obj["field"] = ir.IRString(e.Field)
	}
	if e.ID != 0 {
		obj["id"] = ir.IRInt(e.ID)
	}
	if e.Value != nil {
		obj["value"] = e.Value
	}
	if e.Dropped {
		obj["dropped"] = ir.IRBool(true)
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Session is the session id the scenario started with.
	Session string `json:"session"`

	// Trace lists observable effects in order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(e TraceEvent) int {
	r.Trace = append(r.Trace, e)
	return len(r.Trace) - 1
}
