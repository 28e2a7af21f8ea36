package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of an apply run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// DispatchStatus is the outcome of one dispatch
type DispatchStatus string

const (
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
	DispatchDenied    DispatchStatus = "denied"
	DispatchSkipped   DispatchStatus = "skipped"
)

// Run represents one apply over a set of definitions
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Sources     string     `json:"sources"` // comma separated definition paths
	DryRun      bool       `json:"dry_run"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DispatchRecord is the history entry for one dispatched operation
type DispatchRecord struct {
	ID           string         `json:"id"`
	RunID        *string        `json:"run_id,omitempty"` // nil for ad-hoc dispatches
	DefinitionID string         `json:"definition_id,omitempty"`
	Category     string         `json:"category"`
	Entity       string         `json:"entity"`
	Verb         string         `json:"verb"`
	Operation    string         `json:"operation"`
	Target       string         `json:"target"`
	Signature    []string       `json:"signature"`
	Result       *string        `json:"result,omitempty"` // JSON encoded reply value
	Status       DispatchStatus `json:"status"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Error        *string        `json:"error,omitempty"`
	DryRun       bool           `json:"dry_run"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// Duration is how long the dispatch took.
func (r *DispatchRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// DispatchFilter narrows ListDispatches. Zero fields match everything.
type DispatchFilter struct {
	RunID    string
	Category string
	Entity   string
	Status   DispatchStatus
	Since    time.Time
	Limit    int
	Offset   int
}

// Store is the history persistence interface
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Dispatches
	RecordDispatch(ctx context.Context, rec *DispatchRecord) error
	GetDispatch(ctx context.Context, id string) (*DispatchRecord, error)
	ListDispatches(ctx context.Context, filter DispatchFilter) ([]*DispatchRecord, error)
	ListByEntity(ctx context.Context, category, entity string, limit int) ([]*DispatchRecord, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Backup(ctx context.Context, dest string) error
}

// ErrNotFound is returned when a run or dispatch does not exist
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return e.Kind + " not found: " + e.ID
}
