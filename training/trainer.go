package training

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-rnnlm/optimizer"
	"github.com/tsawler/go-rnnlm/tensor"
)

// StopReason tells why the epoch loop ended
type StopReason string

const (
	StopPatience    StopReason = "patience"
	StopEpochBudget StopReason = "epoch budget"
)

// TrainerConfig holds the controller settings
type TrainerConfig struct {
	Epochs        int
	Patience      int // epochs without validation improvement before stopping
	TriggerMetric TriggerMetric
	PadIndex      int
	Device        tensor.DeviceType
	ShowProgress  bool
}

// DefaultTrainerConfig returns the default controller settings
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:        100,
		Patience:      3,
		TriggerMetric: TriggerOnLoss,
		Device:        tensor.CPU,
	}
}

// Data groups the three evaluation splits
type Data struct {
	Train BatchSource
	Dev   BatchSource
	Test  BatchSource
}

// BestModelRecord holds the live weights of the epoch with the lowest
// validation perplexity, detached from the model. Once averaging is active
// the perplexity is that of the averaged weights, but Params are the live
// weights they were averaged from.
type BestModelRecord struct {
	Params     *tensor.ParameterSet
	Perplexity float64
	Loss       float64
	Epoch      int
	Step       uint64 // optimizer steps taken when the record was captured
}

// EpochStats summarizes one completed epoch
type EpochStats struct {
	Epoch         int
	TrainLoss     float64 // mean of per-batch training losses
	DevLoss       float64 // mean of per-batch summed validation losses
	DevPerplexity float64
	Improved      bool
	Patience      int
	Averaging     bool
}

// TrainingResult is the outcome of a completed run
type TrainingResult struct {
	Best           *BestModelRecord
	TestPerplexity float64
	TestLoss       float64
	Epochs         int
	StopReason     StopReason
	TriggerEpoch   int // first epoch after which averaging was active, 0 if never
	History        []EpochStats
}

// Trainer drives the epoch loop: train, validate (on averaged weights once
// averaging is active), keep the best weights, stop on exhausted patience or
// epoch budget, then evaluate the best weights on the test split.
type Trainer struct {
	config TrainerConfig
	model  Module
	opt    optimizer.Optimizer
	data   Data

	trainCriterion Loss
	evalCriterion  Loss

	logger   *logrus.Logger
	loggers  MultiLogger
	progress io.Writer

	// Phases, replaceable in tests
	trainEpoch func(epoch int) ([]float64, error)
	evaluate   func(src BatchSource) (*EvalResult, error)
}

// NewTrainer creates a trainer. opt must be bound to model.Parameters().
func NewTrainer(model Module, opt optimizer.Optimizer, data Data, config TrainerConfig) (*Trainer, error) {
	if model == nil || opt == nil {
		return nil, fmt.Errorf("model and optimizer are required")
	}
	if data.Train == nil || data.Dev == nil || data.Test == nil {
		return nil, fmt.Errorf("train, dev and test data are required")
	}
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive: %d", config.Epochs)
	}
	if config.Patience <= 0 {
		return nil, fmt.Errorf("patience must be positive: %d", config.Patience)
	}
	if config.TriggerMetric == "" {
		config.TriggerMetric = TriggerOnLoss
	}

	t := &Trainer{
		config:         config,
		model:          model,
		opt:            opt,
		data:           data,
		trainCriterion: NewCrossEntropyLoss(config.PadIndex, ReductionMean),
		evalCriterion:  NewCrossEntropyLoss(config.PadIndex, ReductionSum),
		logger:         logrus.New(),
		progress:       os.Stderr,
	}
	t.trainEpoch = t.runTrainEpoch
	t.evaluate = func(src BatchSource) (*EvalResult, error) {
		return Evaluate(t.model, src, t.evalCriterion)
	}
	return t, nil
}

// SetLogger replaces the structured logger
func (t *Trainer) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// AddEpochLogger registers a receiver for per-epoch summaries
func (t *Trainer) AddEpochLogger(l EpochLogger) {
	t.loggers = append(t.loggers, l)
}

// SetProgressOutput sets where progress bars are drawn
func (t *Trainer) SetProgressOutput(w io.Writer) {
	t.progress = w
}

// runTrainEpoch trains one epoch. Validation windows that close before the
// last batch are recorded on the spot; the one closing on the last batch is
// left to the end-of-epoch validation in Train.
func (t *Trainer) runTrainEpoch(epoch int) ([]float64, error) {
	var bar *ProgressBar
	if t.config.ShowProgress && t.progress != nil {
		bar = NewProgressBar(t.progress, fmt.Sprintf("Epoch %d/%d", epoch, t.config.Epochs), t.data.Train.Len())
	}

	hook := func(step, total int, loss float64) error {
		if bar != nil {
			bar.Update(step, map[string]float64{"loss": loss})
		}
		if step < total && t.opt.CheckpointDue() {
			if err := t.validationCheckpoint(); err != nil {
				return err
			}
			t.model.Train()
		}
		return nil
	}

	losses, err := trainEpoch(t.model, t.data.Train, t.trainCriterion, t.opt, hook)
	if bar != nil {
		bar.Finish()
	}
	return losses, err
}

// validationCheckpoint evaluates the dev split on the averaged weights and
// feeds the result to the averaging trigger
func (t *Trainer) validationCheckpoint() error {
	if err := t.opt.SetAverageWeights(); err != nil {
		return err
	}
	dev, evalErr := t.evaluate(t.data.Dev)
	if err := t.opt.ResetWeights(); err != nil {
		return err
	}
	if evalErr != nil {
		return fmt.Errorf("validation checkpoint failed: %w", evalErr)
	}

	t.opt.RecordValidation(t.triggerValue(dev))
	t.logger.WithFields(logrus.Fields{
		"step":    t.opt.GetStepCount(),
		"dev_ppl": dev.Perplexity,
	}).Debug("Validation checkpoint")
	return nil
}

func (t *Trainer) triggerValue(dev *EvalResult) float64 {
	if t.config.TriggerMetric == TriggerOnPerplexity {
		return dev.Perplexity
	}
	return dev.MeanLoss
}

// Train runs the epoch loop until patience or the epoch budget is exhausted
// and reports the test perplexity of the best weights. ctx is checked between
// epochs. On return the live parameters hold the averaged weights if
// averaging was triggered.
func (t *Trainer) Train(ctx context.Context) (*TrainingResult, error) {
	params := t.model.Parameters()
	result := &TrainingResult{StopReason: StopEpochBudget}

	var best *BestModelRecord
	bestPPL := math.Inf(1)
	patience := t.config.Patience
	averaging := t.opt.AveragingActive()

	t.logger.WithFields(logrus.Fields{
		"optimizer":  t.opt.Name(),
		"epochs":     t.config.Epochs,
		"patience":   t.config.Patience,
		"parameters": params.NumElements(),
	}).Info("Starting training")

	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trainLosses, err := t.trainEpoch(epoch)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: training failed: %w", epoch, err)
		}

		if err := t.opt.SetAverageWeights(); err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		dev, err := t.evaluate(t.data.Dev)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: validation failed: %w", epoch, err)
		}
		if t.opt.CheckpointDue() {
			t.opt.RecordValidation(t.triggerValue(dev))
		}

		if err := t.opt.ResetWeights(); err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		// The live weights are kept, scored by the averaged evaluation
		improved := dev.Perplexity < bestPPL
		if improved {
			snapshot := tensor.Capture(params)
			snapshot.To(tensor.CPU)
			best = &BestModelRecord{
				Params:     snapshot,
				Perplexity: dev.Perplexity,
				Loss:       dev.MeanLoss,
				Epoch:      epoch,
				Step:       t.opt.GetStepCount(),
			}
			bestPPL = dev.Perplexity
			patience = t.config.Patience
		} else {
			patience--
		}

		if !averaging && t.opt.AveragingActive() {
			averaging = true
			result.TriggerEpoch = epoch
			t.logger.WithFields(logrus.Fields{
				"epoch": epoch,
				"step":  t.opt.GetStepCount(),
			}).Info("Weight averaging triggered")
		}

		stats := EpochStats{
			Epoch:         epoch,
			TrainLoss:     mean(trainLosses),
			DevLoss:       mean(dev.BatchLosses),
			DevPerplexity: dev.Perplexity,
			Improved:      improved,
			Patience:      patience,
			Averaging:     averaging,
		}
		result.History = append(result.History, stats)
		result.Epochs = epoch

		t.logger.WithFields(logrus.Fields{
			"epoch":      epoch,
			"train_loss": stats.TrainLoss,
			"dev_loss":   stats.DevLoss,
			"dev_ppl":    stats.DevPerplexity,
			"patience":   patience,
			"averaging":  averaging,
		}).Info("Epoch complete")

		if err := t.loggers.AddEpochLog(epoch, stats.TrainLoss, stats.DevLoss, stats.DevPerplexity); err != nil {
			return nil, fmt.Errorf("epoch %d: failed to log epoch: %w", epoch, err)
		}

		if patience <= 0 {
			result.StopReason = StopPatience
			t.logger.WithField("epoch", epoch).Info("Early stopping: validation perplexity stopped improving")
			break
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no epoch produced a finite validation perplexity")
	}
	result.Best = best

	test, err := t.finalEvaluation(best)
	if err != nil {
		return nil, err
	}
	result.TestPerplexity = test.Perplexity
	result.TestLoss = test.MeanLoss

	t.logger.WithFields(logrus.Fields{
		"best_epoch":   best.Epoch,
		"best_dev_ppl": best.Perplexity,
		"test_ppl":     test.Perplexity,
		"stop_reason":  result.StopReason,
	}).Info("Training finished")

	if err := t.loggers.SetFinalPPL(test.Perplexity); err != nil {
		return nil, fmt.Errorf("failed to log final perplexity: %w", err)
	}
	return result, nil
}

// finalEvaluation moves the best weights onto the active device, swaps in
// the averaged weights for reporting, and evaluates the best weights on the
// test split by exchanging them with the live parameters for the duration
// of the pass
func (t *Trainer) finalEvaluation(best *BestModelRecord) (*EvalResult, error) {
	params := t.model.Parameters()

	best.Params.To(t.config.Device)
	t.model.To(t.config.Device)

	if err := t.opt.SetAverageWeights(); err != nil {
		return nil, fmt.Errorf("final averaging: %w", err)
	}

	if err := tensor.Exchange(params, best.Params); err != nil {
		return nil, fmt.Errorf("failed to load best weights: %w", err)
	}
	test, evalErr := t.evaluate(t.data.Test)
	if err := tensor.Exchange(params, best.Params); err != nil {
		return nil, fmt.Errorf("failed to restore weights after test evaluation: %w", err)
	}
	if evalErr != nil {
		return nil, fmt.Errorf("test evaluation failed: %w", evalErr)
	}
	return test, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Sum(xs) / float64(len(xs))
}
