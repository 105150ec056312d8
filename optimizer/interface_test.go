package optimizer

import (
	"testing"
)

// Both variants satisfy the shared capability set
var (
	_ Optimizer = (*SGDOptimizerState)(nil)
	_ Optimizer = (*NTASGDOptimizerState)(nil)
)

// TestOptimizerInterface drives both variants through the interface only,
// the way the training loop does
func TestOptimizerInterface(t *testing.T) {
	for _, kind := range []Kind{KindSGD, KindNTASGD} {
		t.Run(string(kind), func(t *testing.T) {
			params := newTestSet(t, 1, 2, 3)
			opt, err := New(Config{Kind: kind, LearningRate: 0.1, Clip: 5, Window: 1, Baseline: 0}, params)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			for epoch := 0; epoch < 3; epoch++ {
				if err := opt.Step(newTestSet(t, 1, 1, 1)); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
				if err := opt.SetAverageWeights(); err != nil {
					t.Fatalf("SetAverageWeights failed: %v", err)
				}
				opt.RecordValidation(1.0)
				if err := opt.ResetWeights(); err != nil {
					t.Fatalf("ResetWeights failed: %v", err)
				}
			}

			if opt.GetStepCount() != 3 {
				t.Errorf("Expected 3 steps, got %d", opt.GetStepCount())
			}
			if opt.AveragingActive() != (kind == KindNTASGD) {
				t.Errorf("Unexpected AveragingActive: %t", opt.AveragingActive())
			}

			opt.UpdateLearningRate(0.05)
			if opt.GetLearningRate() != 0.05 {
				t.Errorf("Expected learning rate 0.05, got %f", opt.GetLearningRate())
			}

			state, err := opt.GetState()
			if err != nil {
				t.Fatalf("GetState failed: %v", err)
			}
			if state.Type != opt.Name() {
				t.Errorf("State type %q does not match name %q", state.Type, opt.Name())
			}
		})
	}
}
