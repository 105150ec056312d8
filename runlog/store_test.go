package runlog

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)

	run, err := store.StartRun("rnnlm", map[string]interface{}{"optimizer": "nt-avgsgd", "epochs": 3})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	for epoch := 1; epoch <= 3; epoch++ {
		if err := run.AddEpochLog(epoch, 5-float64(epoch)/10, 5.2-float64(epoch)/10, 180-float64(epoch)); err != nil {
			t.Fatalf("AddEpochLog failed: %v", err)
		}
	}
	if err := run.SetFinalPPL(170.5); err != nil {
		t.Fatalf("SetFinalPPL failed: %v", err)
	}

	epochs, err := store.Epochs(run.ID())
	if err != nil {
		t.Fatalf("Epochs failed: %v", err)
	}
	if len(epochs) != 3 {
		t.Fatalf("Expected 3 epochs, got %d", len(epochs))
	}
	if epochs[2].Epoch != 3 || epochs[2].DevPPL != 177 {
		t.Errorf("Unexpected last epoch: %+v", epochs[2])
	}

	runs, err := store.Runs()
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Name != "rnnlm" || runs[0].FinalPPL == nil || *runs[0].FinalPPL != 170.5 {
		t.Errorf("Unexpected run: %+v", runs[0])
	}
	if !strings.Contains(runs[0].Config, `"optimizer":"nt-avgsgd"`) {
		t.Errorf("Config not stored: %s", runs[0].Config)
	}
}

func TestRunRelogReplacesEpoch(t *testing.T) {
	store := openTestStore(t)
	run, _ := store.StartRun("rnnlm", nil)

	run.AddEpochLog(1, 5, 5, 150)
	run.AddEpochLog(1, 4, 4, 55)

	epochs, err := store.Epochs(run.ID())
	if err != nil {
		t.Fatalf("Epochs failed: %v", err)
	}
	if len(epochs) != 1 || epochs[0].DevPPL != 55 {
		t.Errorf("Expected the later row to replace the earlier, got %+v", epochs)
	}
}

func TestRunNonFiniteValues(t *testing.T) {
	store := openTestStore(t)
	run, _ := store.StartRun("rnnlm", nil)

	if err := run.AddEpochLog(1, math.NaN(), math.Inf(1), math.Inf(1)); err != nil {
		t.Fatalf("AddEpochLog failed: %v", err)
	}

	epochs, err := store.Epochs(run.ID())
	if err != nil {
		t.Fatalf("Epochs failed: %v", err)
	}
	if !math.IsNaN(epochs[0].TrainLoss) || !math.IsNaN(epochs[0].DevPPL) {
		t.Errorf("Expected non-finite values to read back as NaN, got %+v", epochs[0])
	}
}

func TestBestRun(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.BestRun(); err == nil {
		t.Error("Expected error without finished runs")
	}

	a, _ := store.StartRun("sgd", nil)
	b, _ := store.StartRun("nt-avgsgd", nil)
	store.StartRun("unfinished", nil)
	a.SetFinalPPL(140)
	b.SetFinalPPL(120)

	best, err := store.BestRun()
	if err != nil {
		t.Fatalf("BestRun failed: %v", err)
	}
	if best.Name != "nt-avgsgd" {
		t.Errorf("Expected nt-avgsgd to be best, got %s", best.Name)
	}
}

func TestRunsSeparated(t *testing.T) {
	store := openTestStore(t)
	a, _ := store.StartRun("a", nil)
	b, _ := store.StartRun("b", nil)

	a.AddEpochLog(1, 1, 1, 1)
	a.AddEpochLog(2, 1, 1, 1)
	b.AddEpochLog(1, 2, 2, 2)

	epochs, _ := store.Epochs(b.ID())
	if len(epochs) != 1 || epochs[0].TrainLoss != 2 {
		t.Errorf("Run b sees foreign epochs: %+v", epochs)
	}
}
