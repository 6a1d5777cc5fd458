package history

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tandem/internal/coupling"
)

func sampleResult() *coupling.Result {
	return &coupling.Result{
		Converged: true,
		Timesteps: []coupling.TimestepResult{
			{Timestep: 0, Iterations: 3, FinalNorm: 4.2e-4, Converged: true, Keff: 1.00012, BoronPPM: 812.4},
		},
		Events: []coupling.IterationEvent{
			{Timestep: 0, Picard: 0, Norm: 31.5, Keff: 1.0388},
			{Timestep: 0, Picard: 1, Norm: 0.02, Keff: 1.0051, BoronPPM: 340.1},
			{Timestep: 0, Picard: 2, Norm: 4.2e-4, Keff: 1.00012, BoronPPM: 812.4, Converged: true},
		},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(RunMetadata{Power: 15e6, MaxPicard: 20, Norm: "linf", Boron: true, Ranks: 2}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID == "" {
		t.Fatal("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.ID != runID {
		t.Errorf("expected id %s, got %s", runID, meta.ID)
	}
	if !meta.Converged {
		t.Error("expected converged run")
	}
	if meta.Iterations != 3 {
		t.Errorf("expected 3 iterations, got %d", meta.Iterations)
	}
	if meta.FinalKeff != 1.00012 {
		t.Errorf("expected final keff 1.00012, got %f", meta.FinalKeff)
	}
	if meta.BoronPPM != 812.4 {
		t.Errorf("expected 812.4 ppm, got %f", meta.BoronPPM)
	}
}

func TestStoreLoadHistory(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	want := sampleResult()
	runID, err := st.Save(RunMetadata{}, want)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	events, err := st.LoadHistory(runID)
	if err != nil {
		t.Fatalf("load history failed: %v", err)
	}
	if len(events) != len(want.Events) {
		t.Fatalf("expected %d events, got %d", len(want.Events), len(events))
	}
	last := events[len(events)-1]
	if last.Picard != 2 || !last.Converged {
		t.Errorf("final event mismatch: %+v", last)
	}
	if last.BoronPPM != 812.4 {
		t.Errorf("expected 812.4 ppm, got %f", last.BoronPPM)
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	if _, err := st.Save(RunMetadata{}, sampleResult()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := st.Save(RunMetadata{}, sampleResult()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(RunMetadata{}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	if _, err := os.Stat(filepath.Join(runDir, "metadata.json")); os.IsNotExist(err) {
		t.Error("metadata.json not created")
	}
	if _, err := os.Stat(filepath.Join(runDir, "history.csv")); os.IsNotExist(err) {
		t.Error("history.csv not created")
	}
}

func TestExportJSON(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(RunMetadata{Power: 1e6}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var buf bytes.Buffer
	if err := st.ExportJSON(&buf, runID); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if data.Meta.Power != 1e6 {
		t.Errorf("expected power 1e6, got %g", data.Meta.Power)
	}
	if len(data.Events) != 3 {
		t.Errorf("expected 3 events, got %d", len(data.Events))
	}
}
