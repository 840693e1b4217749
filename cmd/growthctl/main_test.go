package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aquacore/internal/infra/persistence/sqlite"
	"aquacore/internal/worker"
)

const scenarioYAML = `
id: scn
name: flat
stages:
  - {order: 1, name: parr, min_weight_g: 5, max_weight_g: 30}
  - {order: 2, name: smolt, min_weight_g: 30}
tgc:
  name: standard
  coefficients:
    - {stage_order: 1, tgc: 0.025}
    - {stage_order: 2, tgc: 0.025}
temperature_profile:
  name: flat
  points:
    - {day: 0, temp_c: 10}
`

const inputsJSON = `{
  "batches": [{"id": "b1", "code": "B1", "start_date": "2024-03-01T00:00:00Z"}],
  "containers": [{"id": "c1", "name": "tank 1"}],
  "assignments": [{"id": "a1", "batch_id": "b1", "container_id": "c1", "assignment_date": "2024-03-01T00:00:00Z", "initial_population": 1000, "lifecycle_stage": "parr", "active": true}],
  "growth_samples": [{"assignment_id": "a1", "sample_date": "2024-03-01T00:00:00Z", "avg_weight_g": "12"}],
  "sensor_readings": [{"container_id": "c1", "timestamp": "2024-03-02T08:00:00Z", "value": "11"}]
}`

// setupEnv points the CLI at a sqlite file and an fs blob root under a
// temp dir so state survives across invocations.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aquacore.db")
	probe, err := sqlite.NewStore(dbPath)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	_ = probe.Close()
	t.Setenv("AQUACORE_CONFIG_FILE", "")
	t.Setenv("AQUACORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("AQUACORE_SQLITE_PATH", dbPath)
	t.Setenv("AQUACORE_BLOB_DRIVER", "fs")
	t.Setenv("AQUACORE_BLOB_FS_ROOT", filepath.Join(dir, "blobs"))
	t.Setenv("AQUACORE_LOG_MODE", "development")
	t.Setenv("AQUACORE_WORKER_BACKOFF", "1ms")
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCommandFlow(t *testing.T) {
	dir := setupEnv(t)
	scnPath := filepath.Join(dir, "scenario.yaml")
	inPath := filepath.Join(dir, "inputs.json")
	if err := os.WriteFile(scnPath, []byte(scenarioYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inPath, []byte(inputsJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	if code, out, errOut := runCLI(t, "import-inputs", "-file", inPath); code != 0 || !strings.Contains(out, `"assignments": 1`) {
		t.Fatalf("import-inputs: %d %s %s", code, out, errOut)
	}
	if code, out, errOut := runCLI(t, "import-scenario", "-file", scnPath, "-pin", "b1"); code != 0 || !strings.Contains(out, `"scenario_id": "scn"`) {
		t.Fatalf("import-scenario: %d %s %s", code, out, errOut)
	}

	code, out, errOut := runCLI(t, "recompute", "-assignment", "a1", "-start", "2024-03-01", "-end", "2024-03-03")
	if code != 0 {
		t.Fatalf("recompute: %d %s %s", code, out, errOut)
	}
	var result struct {
		Jobs []worker.Job `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil || len(result.Jobs) != 1 || result.Jobs[0].Assignment.Created != 3 {
		t.Fatalf("unexpected recompute output %s %v", out, err)
	}

	code, out, errOut = runCLI(t, "series", "-id", "a1", "-start", "2024-03-01", "-end", "2024-03-03", "-format", "csv")
	if code != 0 || strings.Count(out, "\n") != 4 || !strings.Contains(out, "GROWTH_SAMPLE") {
		t.Fatalf("series: %d %q %s", code, out, errOut)
	}

	code, out, errOut = runCLI(t, "export", "-scope", "batch", "-id", "b1", "-start", "2024-03-01", "-end", "2024-03-03", "-formats", "csv")
	if code != 0 || !strings.Contains(out, "series/batch/b1/2024-03-01_2024-03-03/") {
		t.Fatalf("export: %d %s %s", code, out, errOut)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "blobs", "series", "batch", "b1", "*", "*.csv"))
	if len(matches) != 1 {
		t.Fatalf("expected exported csv on disk, got %v", matches)
	}

	if code, out, _ := runCLI(t, "triggers", "-batch", "b1"); code != 0 || !strings.Contains(out, `"events"`) {
		t.Fatalf("triggers: %d %s", code, out)
	}
}

func TestRecomputeFailsWithoutScenario(t *testing.T) {
	dir := setupEnv(t)
	inPath := filepath.Join(dir, "inputs.json")
	if err := os.WriteFile(inPath, []byte(inputsJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	if code, _, errOut := runCLI(t, "import-inputs", "-file", inPath); code != 0 {
		t.Fatalf("import-inputs: %s", errOut)
	}
	code, out, _ := runCLI(t, "recompute", "-assignment", "a1", "-start", "2024-03-01")
	if code != 1 || !strings.Contains(out, `"status": "failed"`) {
		t.Fatalf("expected failed job, got %d %s", code, out)
	}
}

func TestUsageErrors(t *testing.T) {
	setupEnv(t)
	if code, _, errOut := runCLI(t); code != 2 || !strings.Contains(errOut, "commands:") {
		t.Fatalf("expected usage, got %d %s", code, errOut)
	}
	if code, _, errOut := runCLI(t, "frobnicate"); code != 2 || !strings.Contains(errOut, "unknown command") {
		t.Fatalf("expected unknown command, got %d %s", code, errOut)
	}
	if code, _, _ := runCLI(t, "series", "-id", "a1"); code != 2 {
		t.Fatalf("missing -start should be a usage error, got %d", code)
	}
	if code, _, _ := runCLI(t, "triggers"); code != 2 {
		t.Fatalf("missing -batch should be a usage error, got %d", code)
	}
}
