package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-rnnlm/tensor"
)

// TestDefaultSGDConfig tests the default SGD configuration
func TestDefaultSGDConfig(t *testing.T) {
	config := DefaultSGDConfig()

	if config.LearningRate != 1.0 {
		t.Errorf("Expected LearningRate 1.0, got %f", config.LearningRate)
	}
	if config.Clip != 5.0 {
		t.Errorf("Expected Clip 5.0, got %f", config.Clip)
	}
}

// TestSGDOptimizerCreation tests SGD optimizer creation and validation
func TestSGDOptimizerCreation(t *testing.T) {
	params := newTestSet(t, 1, 2, 3)

	opt, err := NewSGDOptimizer(DefaultSGDConfig(), params)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}
	if opt.GetStepCount() != 0 {
		t.Errorf("Expected step count 0, got %d", opt.GetStepCount())
	}
	if opt.Name() != "SGD" {
		t.Errorf("Expected name SGD, got %s", opt.Name())
	}

	if _, err := NewSGDOptimizer(DefaultSGDConfig(), nil); err == nil {
		t.Error("Expected error for nil parameters")
	}

	config := DefaultSGDConfig()
	config.LearningRate = -0.1
	if _, err := NewSGDOptimizer(config, params); err == nil {
		t.Error("Expected error for negative learning rate")
	}
}

func TestSGDStep(t *testing.T) {
	params := newTestSet(t, 1, 1, 1)
	opt, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.5, Clip: 0}, params)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	grads := newTestSet(t, 1, 2, 4)
	for i := 0; i < 2; i++ {
		if err := opt.Step(grads); err != nil {
			t.Fatalf("Step %d failed: %v", i+1, err)
		}
	}

	expected := []float64{0, -1, -3}
	actual := []float64{params.At(0).Data[0], params.At(1).Data[0], params.At(1).Data[1]}
	for i := range expected {
		if math.Abs(actual[i]-expected[i]) > 1e-12 {
			t.Errorf("Parameter %d: expected %f, got %f", i, expected[i], actual[i])
		}
	}
	if opt.GetStepCount() != 2 {
		t.Errorf("Expected step count 2, got %d", opt.GetStepCount())
	}
}

// TestSGDAveragingNoOps checks that the averaging contract is inert for plain SGD
func TestSGDAveragingNoOps(t *testing.T) {
	params := newTestSet(t, 1, 2, 3)
	opt, err := NewSGDOptimizer(DefaultSGDConfig(), params)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	before := tensor.Capture(params)
	opt.RecordValidation(3.0)
	if err := opt.SetAverageWeights(); err != nil {
		t.Fatalf("SetAverageWeights failed: %v", err)
	}
	if !params.Equal(before) {
		t.Error("SetAverageWeights changed parameters")
	}
	if err := opt.ResetWeights(); err != nil {
		t.Fatalf("ResetWeights failed: %v", err)
	}
	if opt.AveragingActive() {
		t.Error("Plain SGD reported active averaging")
	}

	// Stepping right after SetAverageWeights is fine for plain SGD
	if err := opt.SetAverageWeights(); err != nil {
		t.Fatalf("SetAverageWeights failed: %v", err)
	}
	if err := opt.Step(newTestSet(t, 0, 0, 0)); err != nil {
		t.Errorf("Step after SetAverageWeights failed: %v", err)
	}
}

// TestSGDStateRoundTrip tests GetState and LoadState
func TestSGDStateRoundTrip(t *testing.T) {
	params := newTestSet(t, 1, 2, 3)
	opt, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.3, Clip: 2}, params)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := opt.Step(newTestSet(t, 0.1, 0.1, 0.1)); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	state, err := opt.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "SGD" {
		t.Errorf("Expected state type SGD, got %s", state.Type)
	}

	restored, err := NewSGDOptimizer(DefaultSGDConfig(), newTestSet(t, 0, 0, 0))
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if restored.GetStepCount() != 3 {
		t.Errorf("Expected step count 3, got %d", restored.GetStepCount())
	}
	if restored.GetLearningRate() != 0.3 || restored.Clip != 2 {
		t.Errorf("Hyperparameters not restored: lr=%f clip=%f", restored.GetLearningRate(), restored.Clip)
	}

	state.Type = "NT-AvgSGD"
	if err := restored.LoadState(state); err == nil {
		t.Error("Expected error for mismatched state type")
	}
	if err := restored.LoadState(nil); err == nil {
		t.Error("Expected error for nil state")
	}
}
