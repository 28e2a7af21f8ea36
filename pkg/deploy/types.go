package deploy

import (
	"fmt"
	"time"

	"github.com/openfroyo/iamdeploy/pkg/channel"
	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/policy"
	"github.com/openfroyo/iamdeploy/pkg/stores"
)

// Options control one apply run.
type Options struct {
	// DryRun dispatches through an in-memory recorder instead of the channel.
	DryRun bool

	// Parallelism overrides the service's concurrent dispatches per level.
	Parallelism int

	// ContinueOnError keeps applying later levels after a failure. Dependents
	// of a failed definition are skipped either way.
	ContinueOnError bool

	// Sources are recorded with the run.
	Sources []string
}

// Outcome is the result of dispatching one definition.
type Outcome struct {
	DispatchID   string                `json:"dispatch_id"`
	DefinitionID string                `json:"definition_id"`
	Category     string                `json:"category"`
	Entity       string                `json:"entity"`
	Verb         string                `json:"verb"`
	Invocation   *engine.Invocation    `json:"invocation,omitempty"`
	Value        any                   `json:"value,omitempty"`
	Status       stores.DispatchStatus `json:"status"`
	Decision     *policy.Decision      `json:"decision,omitempty"`
	Err          error                 `json:"-"`
	Error        string                `json:"error,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  time.Time             `json:"completed_at"`
}

// Duration returns how long the dispatch took.
func (o *Outcome) Duration() time.Duration {
	return o.CompletedAt.Sub(o.StartedAt)
}

func (o *Outcome) fail(status stores.DispatchStatus, err error) *Outcome {
	o.Status = status
	o.Err = err
	if err != nil {
		o.Error = err.Error()
	}
	o.CompletedAt = time.Now()
	return o
}

// Report summarizes an apply run. Outcomes follow execution order.
type Report struct {
	RunID       string           `json:"run_id"`
	Status      stores.RunStatus `json:"status"`
	DryRun      bool             `json:"dry_run"`
	Levels      [][]string       `json:"levels"`
	Outcomes    []*Outcome       `json:"outcomes"`
	Calls       []channel.Call   `json:"calls,omitempty"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Skipped     int              `json:"skipped"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Err returns an error when any dispatch failed or was denied.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d dispatches failed", r.Failed, len(r.Outcomes))
}

// Outcome returns the outcome for a definition id, or nil.
func (r *Report) Outcome(definitionID string) *Outcome {
	for _, o := range r.Outcomes {
		if o.DefinitionID == definitionID {
			return o
		}
	}
	return nil
}

func (r *Report) tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case stores.DispatchSucceeded:
			r.Succeeded++
		case stores.DispatchFailed, stores.DispatchDenied:
			r.Failed++
		case stores.DispatchSkipped:
			r.Skipped++
		}
	}
}

// Step is one planned dispatch.
type Step struct {
	DefinitionID string             `json:"definition_id"`
	Level        int                `json:"level"`
	Category     string             `json:"category"`
	Entity       string             `json:"entity"`
	Verb         string             `json:"verb"`
	DependsOn    []string           `json:"depends_on,omitempty"`
	Invocation   *engine.Invocation `json:"invocation,omitempty"`
	Decision     *policy.Decision   `json:"decision,omitempty"`
	Err          error              `json:"-"`
	Error        string             `json:"error,omitempty"`
}

// Blocked reports whether the step would fail before reaching the channel.
func (s *Step) Blocked() bool {
	return s.Err != nil
}

// Plan lists the invocations an apply would send, in execution order.
type Plan struct {
	Levels [][]string `json:"levels"`
	Steps  []*Step    `json:"steps"`
	DOT    string     `json:"-"`
}

// Blocked returns the steps that would fail or be denied.
func (p *Plan) Blocked() []*Step {
	var blocked []*Step
	for _, s := range p.Steps {
		if s.Blocked() {
			blocked = append(blocked, s)
		}
	}
	return blocked
}
