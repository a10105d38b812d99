package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq int64  `json:"seq"`
	Op  string `json:"op"`
	ID  string `json:"id,omitempty"`

	// At is the fake clock reading when the step ran, RFC 3339 in UTC.
	At string `json:"at"`

	// Result holds op-specific fields; see Harness.execute.
	Result map[string]any `json:"result,omitempty"`

	// Error is the engine error code, "not_found", or the error text.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// State holds the final rows of each table, keyed by table name.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
