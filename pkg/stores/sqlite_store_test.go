package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func newDispatch(id, runID, entity string, status DispatchStatus, started time.Time) *DispatchRecord {
	rec := &DispatchRecord{
		ID:          id,
		Category:    "access-agent",
		Entity:      entity,
		Verb:        "create",
		Operation:   "agentcreate",
		Target:      "com.oracle.iam:Name=IAMConfiguration,Type=DeployedComponent",
		Signature:   []string{"java.lang.String", "java.lang.Integer"},
		Status:      status,
		StartedAt:   started,
		CompletedAt: started.Add(150 * time.Millisecond),
	}
	if runID != "" {
		rec.RunID = strPtr(runID)
	}
	return rec
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("migrate should fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A second run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.RecordDispatch(ctx, newDispatch("d1", "", "webgate", DispatchSucceeded, time.Now())); err != nil {
		t.Fatalf("RecordDispatch: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetDispatch(ctx, "d1"); err != nil {
		t.Errorf("dispatch not persisted: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	run := &Run{
		ID:        "run-1",
		Status:    RunStatusRunning,
		Sources:   "defs/partners.yaml",
		DryRun:    true,
		StartedAt: started,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusRunning || !got.DryRun || got.CompletedAt != nil {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}

	run.Status = RunStatusFailed
	run.Total, run.Succeeded, run.Failed, run.Skipped = 3, 1, 1, 1
	run.Error = strPtr("1 dispatch failed")
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, _ = store.GetRun(ctx, "run-1")
	if got.Status != RunStatusFailed || got.Total != 3 || got.Skipped != 1 {
		t.Errorf("completed run = %+v", got)
	}
	if got.CompletedAt == nil || got.Error == nil || *got.Error != "1 dispatch failed" {
		t.Errorf("completion fields = %v, %v", got.CompletedAt, got.Error)
	}

	var notFound *ErrNotFound
	if _, err := store.GetRun(ctx, "missing"); !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.CompleteRun(ctx, &Run{ID: "missing"}); !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		run := &Run{ID: id, Status: RunStatusCompleted, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("runs = %v, %v", runs[0].ID, runs[1].ID)
	}

	runs, _ = store.ListRuns(ctx, 2, 2)
	if len(runs) != 1 || runs[0].ID != "old" {
		t.Errorf("second page = %+v", runs)
	}
}

func TestDispatchRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().Truncate(time.Millisecond)
	rec := newDispatch("d1", "", "webgate", DispatchFailed, started)
	rec.DefinitionID = "agents/webgate"
	rec.ErrorCode = "INVOCATION_FAILED"
	rec.Error = strPtr("[INVOCATION_FAILED] invocation failed")
	rec.DryRun = true

	if err := store.RecordDispatch(ctx, rec); err != nil {
		t.Fatalf("RecordDispatch: %v", err)
	}

	got, err := store.GetDispatch(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDispatch: %v", err)
	}
	if got.RunID != nil {
		t.Errorf("ad-hoc dispatch should have no run, got %v", *got.RunID)
	}
	if len(got.Signature) != 2 || got.Signature[1] != "java.lang.Integer" {
		t.Errorf("signature = %v", got.Signature)
	}
	if got.ErrorCode != "INVOCATION_FAILED" || got.Error == nil || !got.DryRun {
		t.Errorf("record = %+v", got)
	}
	if got.Duration() != 150*time.Millisecond {
		t.Errorf("duration = %v", got.Duration())
	}
	if got.Result != nil {
		t.Errorf("result = %v", *got.Result)
	}

	withResult := newDispatch("d2", "", "webgate", DispatchSucceeded, started)
	withResult.Signature = nil
	withResult.Result = strPtr(`"OK"`)
	if err := store.RecordDispatch(ctx, withResult); err != nil {
		t.Fatalf("RecordDispatch: %v", err)
	}
	got, _ = store.GetDispatch(ctx, "d2")
	if got.Result == nil || *got.Result != `"OK"` || len(got.Signature) != 0 {
		t.Errorf("record = %+v", got)
	}

	if err := store.RecordDispatch(ctx, rec); err == nil {
		t.Error("duplicate id should fail")
	}
	if err := store.RecordDispatch(ctx, newDispatch("d3", "no-such-run", "x", DispatchSucceeded, started)); err == nil {
		t.Error("unknown run id should violate the foreign key")
	}
}

func TestListDispatches(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	if err := store.CreateRun(ctx, &Run{ID: "run-1", Status: RunStatusRunning, StartedAt: base}); err != nil {
		t.Fatal(err)
	}

	records := []*DispatchRecord{
		newDispatch("d1", "run-1", "webgate", DispatchSucceeded, base.Add(1*time.Minute)),
		newDispatch("d2", "run-1", "ohs", DispatchFailed, base.Add(2*time.Minute)),
		newDispatch("d3", "", "webgate", DispatchDenied, base.Add(3*time.Minute)),
		newDispatch("d4", "run-1", "webgate", DispatchSkipped, base.Add(4*time.Minute)),
	}
	records[1].Category = "application-domain"
	for _, rec := range records {
		if err := store.RecordDispatch(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter DispatchFilter
		want   []string
	}{
		{"all", DispatchFilter{}, []string{"d4", "d3", "d2", "d1"}},
		{"by run", DispatchFilter{RunID: "run-1"}, []string{"d4", "d2", "d1"}},
		{"by category", DispatchFilter{Category: "application-domain"}, []string{"d2"}},
		{"by status", DispatchFilter{Status: DispatchDenied}, []string{"d3"}},
		{"since", DispatchFilter{Since: base.Add(150 * time.Second)}, []string{"d4", "d3"}},
		{"paged", DispatchFilter{Limit: 2, Offset: 1}, []string{"d3", "d2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListDispatches(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListDispatches: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %v", len(got), tt.want)
			}
			for i, rec := range got {
				if rec.ID != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, rec.ID, tt.want[i])
				}
			}
		})
	}

	byEntity, err := store.ListByEntity(ctx, "access-agent", "webgate", 2)
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	if len(byEntity) != 2 || byEntity[0].ID != "d4" || byEntity[1].ID != "d3" {
		t.Errorf("ListByEntity = %+v", byEntity)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if err := store.CreateRun(ctx, &Run{ID: "run-1", Status: RunStatusCompleted, StartedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordDispatch(ctx, newDispatch("d1", "run-1", "webgate", DispatchSucceeded, now)); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := store.GetDispatch(ctx, "d1"); err == nil {
		t.Error("dispatch should be deleted with its run")
	}
	if err := store.DeleteRun(ctx, "run-1"); err == nil {
		t.Error("second delete should report not found")
	}
}

func TestPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	old := now.Add(-48 * time.Hour)
	if err := store.CreateRun(ctx, &Run{ID: "old-run", Status: RunStatusCompleted, StartedAt: old}); err != nil {
		t.Fatal(err)
	}
	for _, rec := range []*DispatchRecord{
		newDispatch("old-1", "old-run", "a", DispatchSucceeded, old),
		newDispatch("old-2", "", "b", DispatchSucceeded, old),
		newDispatch("new-1", "", "c", DispatchSucceeded, now),
	} {
		if err := store.RecordDispatch(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	pruned, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	remaining, _ := store.ListDispatches(ctx, DispatchFilter{})
	if len(remaining) != 1 || remaining[0].ID != "new-1" {
		t.Errorf("remaining = %+v", remaining)
	}
	if _, err := store.GetRun(ctx, "old-run"); err == nil {
		t.Error("old run should be pruned")
	}
}

func TestBackup(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	if err := store.RecordDispatch(ctx, newDispatch("d1", "", "agent1", DispatchSucceeded, started)); err != nil {
		t.Fatalf("RecordDispatch() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "history-backup.db")
	if err := store.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	copied, err := Open(ctx, dest)
	if err != nil {
		t.Fatalf("Open(backup) error = %v", err)
	}
	defer copied.Close()

	rec, err := copied.GetDispatch(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDispatch() on backup error = %v", err)
	}
	if rec.Entity != "agent1" {
		t.Errorf("backup entity = %q, want agent1", rec.Entity)
	}

	if err := store.Backup(ctx, dest); err == nil {
		t.Error("Backup() over an existing file succeeded")
	}
}
