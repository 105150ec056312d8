package optimizer

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-rnnlm/checkpoints"
	"github.com/tsawler/go-rnnlm/tensor"
)

// ErrAveragedWeightsActive is returned when an operation needs the live
// weights while the averaged weights are swapped into the parameter set.
var ErrAveragedWeightsActive = errors.New("averaged weights are active; call ResetWeights first")

// Optimizer defines the capability set shared by every optimizer variant.
// The averaging operations are part of the contract for all variants so the
// training loop can call them unconditionally; variants without averaging
// implement them as no-ops.
type Optimizer interface {
	// Step performs a single optimization step on the bound parameter set.
	// grads must have the same layout as the parameters and are consumed.
	Step(grads *tensor.ParameterSet) error

	// CheckpointDue reports whether the last step completed a validation
	// window that has not been recorded yet
	CheckpointDue() bool

	// RecordValidation appends a validation metric (lower is better)
	RecordValidation(metric float64)

	// SetAverageWeights swaps the averaged weights into the parameter set
	SetAverageWeights() error

	// ResetWeights swaps the live weights back after SetAverageWeights
	ResetWeights() error

	// AveragingActive reports whether weight averaging has started
	AveragingActive() bool

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// GetLearningRate returns the learning rate
	GetLearningRate() float64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)

	// Name identifies the variant in logs and checkpoints
	Name() string
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState = checkpoints.OptimizerState

// Kind selects an optimizer variant
type Kind string

const (
	KindSGD    Kind = "sgd"
	KindNTASGD Kind = "nt-avgsgd"
)

// ParseKind maps a configuration string onto a Kind
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindSGD, "":
		return KindSGD, nil
	case KindNTASGD, "ntasgd", "nt-asgd":
		return KindNTASGD, nil
	default:
		return "", fmt.Errorf("unknown optimizer: %q (expected %q or %q)", name, KindSGD, KindNTASGD)
	}
}

// Config holds the settings shared by both variants. Window and Baseline are
// only read by the averaging variant.
type Config struct {
	Kind         Kind
	LearningRate float64
	Clip         float64
	Window       int
	Baseline     int
}

// New builds the optimizer selected by config.Kind bound to params
func New(config Config, params *tensor.ParameterSet) (Optimizer, error) {
	switch config.Kind {
	case KindSGD, "":
		opt, err := NewSGDOptimizer(SGDConfig{
			LearningRate: config.LearningRate,
			Clip:         config.Clip,
		}, params)
		if err != nil {
			return nil, err
		}
		return opt, nil
	case KindNTASGD:
		opt, err := NewNTASGDOptimizer(NTASGDConfig{
			LearningRate: config.LearningRate,
			Clip:         config.Clip,
			Window:       config.Window,
			Baseline:     config.Baseline,
		}, params)
		if err != nil {
			return nil, err
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("unknown optimizer kind: %q", config.Kind)
	}
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
