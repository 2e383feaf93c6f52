package deployment

import (
	"time"

	"gitdeploy/internal/deployerr"
)

// State is a step of a deployment.
type State string

const (
	StateIdle      State = "idle"
	StateMatching  State = "matching"
	StateStaging   State = "staging"
	StatePushing   State = "pushing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Result is the outcome of one Command.Execute call.
type Result struct {
	State    State
	Kind     deployerr.Kind
	Message  string
	Files    []string
	Commit   string
	Target   string
	Duration time.Duration

	err error
}

// OK reports whether the deployment succeeded.
func (r *Result) OK() bool {
	return r.State == StateSucceeded
}

// Err returns the failure, or nil on success.
func (r *Result) Err() error {
	return r.err
}

// advance moves to s unless the result is already final.
func (r *Result) advance(s State) {
	if r.State.Terminal() {
		return
	}
	r.State = s
}

func (r *Result) fail(err error) {
	if r.State.Terminal() {
		return
	}
	r.State = StateFailed
	r.err = err
	r.Message = err.Error()
	if kind, ok := deployerr.KindOf(err); ok {
		r.Kind = kind
	}
}

// Failed returns a failed Result for err. Hosts use it for failures that
// happen before a Command runs, such as an unresolvable publishing profile.
func Failed(err error) *Result {
	r := &Result{State: StateIdle}
	r.fail(err)
	return r
}
