package optimizer

import (
	"fmt"

	"github.com/tsawler/go-rnnlm/tensor"
)

// SGDOptimizerState represents plain SGD with global-norm clipping
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Clip         float64

	// Step tracking
	StepCount uint64

	params *tensor.ParameterSet
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Clip         float64 // global gradient norm threshold, <= 0 disables clipping
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 1.0,
		Clip:         5.0,
	}
}

// NewSGDOptimizer creates a new SGD optimizer bound to params
func NewSGDOptimizer(config SGDConfig, params *tensor.ParameterSet) (*SGDOptimizerState, error) {
	if params == nil || params.Len() == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}

	return &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Clip:         config.Clip,
		params:       params,
	}, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step(grads *tensor.ParameterSet) error {
	if err := ApplyGradientStep(sgd.params, grads, sgd.LearningRate, sgd.Clip); err != nil {
		return fmt.Errorf("sgd step %d: %v", sgd.StepCount+1, err)
	}
	sgd.StepCount++
	return nil
}

// CheckpointDue is always false: plain SGD has no validation window
func (sgd *SGDOptimizerState) CheckpointDue() bool { return false }

// RecordValidation is a no-op: plain SGD keeps no validation history
func (sgd *SGDOptimizerState) RecordValidation(metric float64) {}

// SetAverageWeights is a no-op: the live weights are the only weights
func (sgd *SGDOptimizerState) SetAverageWeights() error { return nil }

// ResetWeights is a no-op
func (sgd *SGDOptimizerState) ResetWeights() error { return nil }

func (sgd *SGDOptimizerState) AveragingActive() bool { return false }

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

func (sgd *SGDOptimizerState) GetLearningRate() float64 {
	return sgd.LearningRate
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float64) {
	sgd.LearningRate = newLR
}

func (sgd *SGDOptimizerState) Name() string {
	return "SGD"
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: sgd.Name(),
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"clip":          sgd.Clip,
			"step_count":    sgd.StepCount,
		},
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType(sgd.Name(), state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Clip = extractFloat64Param(state.Parameters, "clip", sgd.Clip)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)
	return nil
}
