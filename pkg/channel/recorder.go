package channel

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// Call is one invocation captured by a Recorder.
type Call struct {
	Target    string    `json:"target"`
	Operation string    `json:"operation"`
	Params    []any     `json:"params"`
	Signature []string  `json:"signature"`
	At        time.Time `json:"at"`
}

// Recorder is an in-memory engine.Invoker. It records every call and
// answers with canned results. Dry runs dispatch through it.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	results map[string]any
	errs    map[string]error
}

// NewRecorder creates an empty recorder. Unconfigured operations return nil.
func NewRecorder() *Recorder {
	return &Recorder{
		results: make(map[string]any),
		errs:    make(map[string]error),
	}
}

// SetResult makes operation return value.
func (r *Recorder) SetResult(operation string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[operation] = value
}

// SetError makes operation fail with err.
func (r *Recorder) SetError(operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[operation] = err
}

// Invoke implements engine.Invoker.
func (r *Recorder) Invoke(_ context.Context, target engine.Handle, operation string, params []any, signature []string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{
		Target:    target.Address(),
		Operation: operation,
		Params:    append([]any{}, params...),
		Signature: append([]string{}, signature...),
		At:        time.Now(),
	})

	if err, ok := r.errs[operation]; ok {
		return nil, err
	}
	return r.results[operation], nil
}

// Calls returns a copy of the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset forgets recorded calls but keeps canned answers.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
