package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-rnnlm/tensor"
)

// NTASGDOptimizerState implements non-monotonically triggered averaged SGD.
//
// Every step is a plain clipped SGD update. Validation metrics are appended to
// a log by the caller; once the latest metric fails to beat the best metric
// recorded before the most recent Baseline entries, averaging is triggered and
// from then on every step adds the live weights to a running sum. The
// averaged weights can be swapped into the parameter set for evaluation and
// must be swapped out again before training continues.
type NTASGDOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Clip         float64
	Window       int // L: steps between validation checkpoints
	Baseline     int // n: recent entries excluded from the baseline minimum

	// Step tracking
	StepCount     uint64
	ValidationLog []float64
	AverageCount  int

	// triggerStep is the step count at which averaging started, valid once triggered is set
	triggered   bool
	triggerStep uint64

	accumulator  *tensor.ParameterSet
	liveSnapshot *tensor.ParameterSet
	averaged     bool
	due          bool

	params *tensor.ParameterSet
}

// NTASGDConfig holds configuration for the averaging optimizer
type NTASGDConfig struct {
	LearningRate float64
	Clip         float64
	Window       int
	Baseline     int
}

// DefaultNTASGDConfig returns default NT-AvgSGD configuration.
// Window is normally set to the number of training batches per epoch.
func DefaultNTASGDConfig() NTASGDConfig {
	return NTASGDConfig{
		LearningRate: 1.0,
		Clip:         5.0,
		Window:       1,
		Baseline:     5,
	}
}

// NewNTASGDOptimizer creates a new NT-AvgSGD optimizer bound to params
func NewNTASGDOptimizer(config NTASGDConfig, params *tensor.ParameterSet) (*NTASGDOptimizerState, error) {
	if params == nil || params.Len() == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("averaging window must be positive: %d", config.Window)
	}
	if config.Baseline < 0 {
		return nil, fmt.Errorf("averaging baseline cannot be negative: %d", config.Baseline)
	}

	return &NTASGDOptimizerState{
		LearningRate: config.LearningRate,
		Clip:         config.Clip,
		Window:       config.Window,
		Baseline:     config.Baseline,
		params:       params,
	}, nil
}

// Step performs one clipped SGD update and, once averaging has been
// triggered, adds the updated weights to the running sum. It refuses to run
// while the averaged weights are swapped in.
func (o *NTASGDOptimizerState) Step(grads *tensor.ParameterSet) error {
	if o.averaged {
		return fmt.Errorf("nt-avgsgd step %d: %w", o.StepCount+1, ErrAveragedWeightsActive)
	}

	if err := ApplyGradientStep(o.params, grads, o.LearningRate, o.Clip); err != nil {
		return fmt.Errorf("nt-avgsgd step %d: %v", o.StepCount+1, err)
	}
	o.StepCount++
	o.due = o.StepCount%uint64(o.Window) == 0

	if o.triggered {
		for i, acc := range o.accumulator.Tensors() {
			floats.Add(acc.Data, o.params.At(i).Data)
		}
		o.AverageCount++
	}
	return nil
}

// CheckpointDue reports whether the latest step completed a window of L steps
// that has not been followed by RecordValidation yet
func (o *NTASGDOptimizerState) CheckpointDue() bool {
	return o.due
}

// RecordValidation appends metric to the validation log and fires the
// averaging trigger when the log holds more than Baseline entries and metric
// is not strictly lower than the minimum of all entries except the last Baseline.
// The trigger fires at most once.
func (o *NTASGDOptimizerState) RecordValidation(metric float64) {
	o.ValidationLog = append(o.ValidationLog, metric)
	o.due = false

	if o.triggered || len(o.ValidationLog) <= o.Baseline {
		return
	}

	baseline := floats.Min(o.ValidationLog[:len(o.ValidationLog)-o.Baseline])
	if metric < baseline {
		return
	}

	o.triggered = true
	o.triggerStep = o.StepCount
	o.accumulator = tensor.Capture(o.params)
	o.AverageCount = 1
}

// SetAverageWeights overwrites the parameter set in place with the mean of the
// accumulated weights, keeping the live weights aside. It is a no-op before
// averaging has been triggered or when the averaged weights are already active.
func (o *NTASGDOptimizerState) SetAverageWeights() error {
	if o.averaged || !o.triggered || o.AverageCount == 0 {
		return nil
	}

	if o.liveSnapshot == nil {
		o.liveSnapshot = tensor.ZerosLike(o.params)
	}

	// Write the mean into the spare buffer, then swap it with the live weights
	scale := 1 / float64(o.AverageCount)
	for i, t := range o.liveSnapshot.Tensors() {
		floats.ScaleTo(t.Data, scale, o.accumulator.At(i).Data)
	}
	if err := tensor.Exchange(o.params, o.liveSnapshot); err != nil {
		return fmt.Errorf("failed to swap in averaged weights: %v", err)
	}

	o.averaged = true
	return nil
}

// ResetWeights restores the live weights saved by SetAverageWeights. Without
// an unconsumed SetAverageWeights call it is a no-op.
func (o *NTASGDOptimizerState) ResetWeights() error {
	if !o.averaged {
		return nil
	}

	if err := tensor.Exchange(o.params, o.liveSnapshot); err != nil {
		return fmt.Errorf("failed to restore live weights: %v", err)
	}

	// The buffer is kept for the next swap; its contents are stale now.
	o.averaged = false
	return nil
}

// Triggered reports whether the non-monotonic trigger has fired
func (o *NTASGDOptimizerState) Triggered() bool {
	return o.triggered
}

// TriggerStep returns the step count at which averaging started. The value is
// meaningful only when Triggered reports true.
func (o *NTASGDOptimizerState) TriggerStep() uint64 {
	return o.triggerStep
}

// IsAveraged reports whether the averaged weights are currently swapped in
func (o *NTASGDOptimizerState) IsAveraged() bool {
	return o.averaged
}

func (o *NTASGDOptimizerState) AveragingActive() bool {
	return o.Triggered()
}

// GetStepCount returns the current step count
func (o *NTASGDOptimizerState) GetStepCount() uint64 {
	return o.StepCount
}

func (o *NTASGDOptimizerState) GetLearningRate() float64 {
	return o.LearningRate
}

// UpdateLearningRate updates the learning rate
func (o *NTASGDOptimizerState) UpdateLearningRate(newLR float64) {
	o.LearningRate = newLR
}

func (o *NTASGDOptimizerState) Name() string {
	return "NT-AvgSGD"
}

// GetState extracts optimizer state for checkpointing. The live weights must
// be in place: state taken while averaged weights are swapped in is rejected.
func (o *NTASGDOptimizerState) GetState() (*OptimizerState, error) {
	if o.averaged {
		return nil, fmt.Errorf("get state: %w", ErrAveragedWeightsActive)
	}

	validationLog := make([]float64, len(o.ValidationLog))
	copy(validationLog, o.ValidationLog)

	state := &OptimizerState{
		Type: o.Name(),
		Parameters: map[string]interface{}{
			"learning_rate":  o.LearningRate,
			"clip":           o.Clip,
			"window":         o.Window,
			"baseline":       o.Baseline,
			"step_count":     o.StepCount,
			"triggered":      o.triggered,
			"trigger_step":   o.triggerStep,
			"average_count":  o.AverageCount,
			"validation_log": validationLog,
		},
	}

	if o.accumulator != nil {
		state.StateData = extractSetState(o.accumulator, "average_accumulator")
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (o *NTASGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType(o.Name(), state); err != nil {
		return err
	}
	if o.averaged {
		return fmt.Errorf("load state: %w", ErrAveragedWeightsActive)
	}

	triggered := extractBoolParam(state.Parameters, "triggered", false)
	var accumulator *tensor.ParameterSet
	if triggered {
		accumulator = tensor.ZerosLike(o.params)
		if err := restoreSetState(accumulator, state.StateData, "average_accumulator"); err != nil {
			return err
		}
	}

	o.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", o.LearningRate)
	o.Clip = extractFloat64Param(state.Parameters, "clip", o.Clip)
	o.Window = int(extractUint64Param(state.Parameters, "window", uint64(o.Window)))
	o.Baseline = int(extractUint64Param(state.Parameters, "baseline", uint64(o.Baseline)))
	o.StepCount = extractUint64Param(state.Parameters, "step_count", o.StepCount)
	o.AverageCount = int(extractUint64Param(state.Parameters, "average_count", 0))
	o.ValidationLog = extractFloat64SliceParam(state.Parameters, "validation_log")
	o.triggered = triggered
	o.triggerStep = extractUint64Param(state.Parameters, "trigger_step", 0)
	o.accumulator = accumulator
	o.due = false
	return nil
}
