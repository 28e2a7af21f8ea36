package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the dispatch.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Mode controls what a denial does.
type Mode string

const (
	// ModeEnforcing turns blocking violations into POLICY_DENIED errors.
	ModeEnforcing Mode = "enforcing"

	// ModeAdvisory reports violations without stopping the dispatch.
	ModeAdvisory Mode = "advisory"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy module. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with iamdeploy.
	Builtin bool `json:"builtin"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`

	// UpdatedAt is when the policy was last loaded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the document a policy sees as `input`.
type Input struct {
	// Entity is the entity about to be dispatched.
	Entity EntityInput `json:"entity"`

	// Verb is print, create, modify or delete.
	Verb string `json:"verb"`

	// Operation is the remote operation name.
	Operation string `json:"operation,omitempty"`

	// Target is the address the operation is sent to.
	Target string `json:"target,omitempty"`

	// DryRun is set when nothing reaches the management host.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// EntityInput describes an entity to policies.
type EntityInput struct {
	// ID is the definition id.
	ID string `json:"id"`

	Category string `json:"category"`
	Flavor   string `json:"flavor"`
	Segment  string `json:"segment"`
	Name     string `json:"name"`

	// Labels come from the definition.
	Labels map[string]string `json:"labels"`

	// Properties are the converted property values that are set.
	Properties map[string]any `json:"properties"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Entity is the definition id that violated the policy.
	Entity string `json:"entity,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating every enabled policy against one input.
type Decision struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the non-blocking violations and evaluation failures.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Reasons returns the violation messages.
func (d *Decision) Reasons() []string {
	reasons := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		reasons[i] = v.Policy + ": " + v.Message
	}
	return reasons
}
