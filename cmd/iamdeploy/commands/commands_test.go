package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/iamdeploy/pkg/catalog"
	"github.com/openfroyo/iamdeploy/pkg/deploy"
	"github.com/openfroyo/iamdeploy/pkg/stores"
	"github.com/openfroyo/iamdeploy/pkg/telemetry"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// workspace runs init in a temp directory and returns the directory and
// the settings path.
func workspace(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	settings := filepath.Join(dir, "iamdeploy.yaml")
	if _, err := run(t, "--config", settings, "init", "--dir", dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	return dir, settings
}

func TestCatalogList(t *testing.T) {
	out, err := run(t, "catalog", "list", "--json")
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}

	var all []catalog.Description
	if err := json.Unmarshal([]byte(out), &all); err != nil {
		t.Fatalf("failed to decode output: %v\n%s", err, out)
	}
	if len(all) != len(catalog.DescribeAll()) {
		t.Errorf("got %d categories", len(all))
	}

	out, err = run(t, "catalog", "list")
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}
	if !strings.Contains(out, catalog.OAuthClient) {
		t.Errorf("table output missing %s:\n%s", catalog.OAuthClient, out)
	}
}

func TestCatalogShow(t *testing.T) {
	out, err := run(t, "catalog", "show", catalog.OAuthClient)
	if err != nil {
		t.Fatalf("catalog show: %v", err)
	}
	for _, want := range []string{"createOAuthClient", "clientName", "CONFIDENTIAL_CLIENT"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "catalog", "show", "no-such-category"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestInit(t *testing.T) {
	dir, settings := workspace(t)

	for _, path := range []string{
		settings,
		filepath.Join(dir, "definitions", "example.yaml"),
		filepath.Join(dir, ".iamdeploy", "history.db"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}

	out, err := run(t, "--config", settings, "init", "--dir", dir, "--ssh-key")
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "Kept existing settings") {
		t.Errorf("settings were not kept:\n%s", out)
	}

	key := filepath.Join(dir, ".iamdeploy", "id_ed25519")
	info, err := os.Stat(key)
	if err != nil {
		t.Fatalf("missing private key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %v", info.Mode().Perm())
	}
	pub, err := os.ReadFile(key + ".pub")
	if err != nil || !strings.HasPrefix(string(pub), "ssh-ed25519 ") {
		t.Errorf("public key = %q, %v", pub, err)
	}
}

func TestValidate(t *testing.T) {
	dir, settings := workspace(t)
	defs := filepath.Join(dir, "definitions")

	out, err := run(t, "--config", settings, "validate", defs)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 definitions from 1 files are valid") {
		t.Errorf("output = %s", out)
	}

	bad := `definitions:
  - id: weak
    category: oauth-client
    name: weak
    properties:
      clientName: weak
      identityDomain: PortalDomain
      clientSecret: short
`
	if err := os.WriteFile(filepath.Join(defs, "weak.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "--config", settings, "validate", defs)
	if err == nil {
		t.Fatalf("expected validation failure:\n%s", out)
	}
	if !strings.Contains(out, "clientSecret must be at least 12 characters") {
		t.Errorf("output missing policy violation:\n%s", out)
	}
}

func TestPlan(t *testing.T) {
	dir, settings := workspace(t)
	defs := filepath.Join(dir, "definitions")

	out, err := run(t, "--config", settings, "plan", defs, "--json")
	if err != nil {
		t.Fatalf("plan: %v\n%s", err, out)
	}
	var plan deploy.Plan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("failed to decode plan: %v\n%s", err, out)
	}
	if len(plan.Levels) != 2 || plan.Steps[0].DefinitionID != "portal-domain" {
		t.Errorf("plan = %+v", plan)
	}
	if plan.Steps[1].Invocation == nil || plan.Steps[1].Invocation.Operation != "createOAuthClient" {
		t.Errorf("second step = %+v", plan.Steps[1])
	}

	out, err = run(t, "--config", settings, "plan", defs, "--dot")
	if err != nil {
		t.Fatalf("plan --dot: %v", err)
	}
	if !strings.Contains(out, `"portal-domain" -> "portal-client"`) {
		t.Errorf("DOT output missing edge:\n%s", out)
	}
}

func TestApplyDryRunAndHistory(t *testing.T) {
	dir, settings := workspace(t)
	defs := filepath.Join(dir, "definitions")

	out, err := run(t, "--config", settings, "apply", defs, "--dry-run", "--json")
	if err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}
	var report deploy.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode report: %v\n%s", err, out)
	}
	if report.Succeeded != 2 || !report.DryRun || len(report.Calls) != 2 {
		t.Errorf("report = %+v", report)
	}

	out, err = run(t, "--config", settings, "history", "runs", "--json")
	if err != nil {
		t.Fatalf("history runs: %v", err)
	}
	var runs []stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("failed to decode runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Status != stores.RunStatusCompleted {
		t.Errorf("runs = %+v", runs)
	}

	out, err = run(t, "--config", settings, "history", "--run", report.RunID, "--category", catalog.OAuthClient, "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var records []stores.DispatchRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("failed to decode records: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].Operation != "createOAuthClient" || !records[0].DryRun {
		t.Errorf("records = %+v", records)
	}

	out, err = run(t, "--config", settings, "history", "show", records[0].ID)
	if err != nil || !strings.Contains(out, records[0].ID) {
		t.Errorf("history show: %v\n%s", err, out)
	}
}

func TestApplySelector(t *testing.T) {
	dir, settings := workspace(t)

	out, err := run(t, "--config", settings, "apply", filepath.Join(dir, "definitions"), "--dry-run", "-l", "env=prod", "--json")
	if err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}
	var report deploy.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("selector matched %d definitions, want 0", len(report.Outcomes))
	}
}

func TestStatusAdHoc(t *testing.T) {
	_, settings := workspace(t)

	out, err := run(t, "--config", settings, "status", "--category", catalog.OAuthIdentityDomain, "--name", "PortalDomain", "--json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var rows []statusRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("failed to decode rows: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].Operation != "existsOAuthIdentityDomain" || rows[0].Error != "" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestHistoryPruneRequiresPositiveAge(t *testing.T) {
	_, settings := workspace(t)

	if _, err := run(t, "--config", settings, "history", "prune", "--older-than", "0s"); err == nil {
		t.Error("expected error for a zero age")
	}
	out, err := run(t, "--config", settings, "history", "prune")
	if err != nil || !strings.Contains(out, "Pruned 0 records") {
		t.Errorf("prune: %v\n%s", err, out)
	}
}

func TestHistoryBackup(t *testing.T) {
	dir, settings := workspace(t)
	dest := filepath.Join(dir, "copy.db")

	if _, err := run(t, "--config", settings, "history", "backup"); err == nil {
		t.Error("expected error without --out")
	}
	out, err := run(t, "--config", settings, "history", "backup", "--out", dest)
	if err != nil {
		t.Fatalf("backup: %v\n%s", err, out)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}

func TestInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("channel:\n  type: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--config", path, "plan", t.TempDir()); err == nil {
		t.Error("expected error for an invalid channel type")
	}
}

func TestRuntimeProductionProfile(t *testing.T) {
	_, settings := workspace(t)

	configPath = settings
	t.Cleanup(func() { configPath = "" })

	ctx := context.Background()
	rt, err := newRuntime(ctx, runtimeOptions{production: true})
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close(ctx)

	cfg := rt.tel.Config
	if cfg.Environment != "production" || cfg.Logging.Format != "json" || !cfg.Events.EnableAsync {
		t.Errorf("telemetry config = %+v %+v", cfg.Logging, cfg.Events)
	}

	rt.logEvents()
	if err := rt.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypePolicyReloaded,
		Message: "0 user policies loaded",
	}); err != nil {
		t.Errorf("Publish: %v", err)
	}
}
