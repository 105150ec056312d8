package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-rnnlm/checkpoints"
	"github.com/tsawler/go-rnnlm/layers"
	"github.com/tsawler/go-rnnlm/optimizer"
	"github.com/tsawler/go-rnnlm/runlog"
	"github.com/tsawler/go-rnnlm/training"
)

var _ training.EpochLogger = (*runlog.Run)(nil)

// run trains one model end to end and prints the JSON report to out
func run(ctx context.Context, config training.Config, logger *logrus.Logger, out io.Writer) (*training.TrainingResult, error) {
	data, err := loadCorpora(config)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"vocab_size":    data.encoder.VocabSize(),
		"train_batches": data.train.Len(),
		"dev_batches":   data.dev.Len(),
		"test_batches":  data.test.Len(),
	}).Info("Loaded corpora")

	padIndex := data.encoder.PadIndex()
	model, err := layers.NewRNNLM(config.ModelConfig(data.encoder.VocabSize(), padIndex))
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	if config.ShowProgress {
		training.NewModelArchitecturePrinter("RNNLM").PrintArchitecture(os.Stderr, model.Spec())
	}

	optConfig, err := config.OptimizerConfig(data.train.Len())
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(optConfig, model.Parameters())
	if err != nil {
		return nil, fmt.Errorf("failed to build optimizer: %w", err)
	}

	trainerConfig, err := config.TrainerConfig(padIndex)
	if err != nil {
		return nil, err
	}
	trainer, err := training.NewTrainer(model, opt, training.Data{
		Train: data.train,
		Dev:   data.dev,
		Test:  data.test,
	}, trainerConfig)
	if err != nil {
		return nil, err
	}
	trainer.SetLogger(logger)

	report := training.NewReport(opt.Name(), config)
	trainer.AddEpochLogger(report)

	if config.RunLogPath != "" {
		store, err := runlog.Open(config.RunLogPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		runLog, err := store.StartRun(opt.Name(), config)
		if err != nil {
			return nil, err
		}
		trainer.AddEpochLogger(runLog)
		logger.WithField("run_id", runLog.ID()).Info("Logging run")
	}

	result, err := trainer.Train(ctx)
	if err != nil {
		return nil, err
	}

	// Train leaves the averaged weights swapped in
	if err := opt.ResetWeights(); err != nil {
		return nil, err
	}

	if config.CheckpointPath != "" {
		format, err := checkpoints.ParseFormat(config.CheckpointFormat)
		if err != nil {
			return nil, err
		}
		if err := saveCheckpoint(config.CheckpointPath, format, model, opt, result); err != nil {
			return nil, err
		}
		logger.WithField("path", config.CheckpointPath).Info("Saved best weights")
	}

	dump, err := report.Dumps()
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, dump)

	if config.ReportPath != "" {
		if err := os.WriteFile(config.ReportPath, []byte(dump), 0644); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
	}
	return result, nil
}

// saveCheckpoint writes the best weights with the optimizer state at the end
// of the run
func saveCheckpoint(path string, format checkpoints.CheckpointFormat, model *layers.RNNLM, opt optimizer.Optimizer, result *training.TrainingResult) error {
	state, err := opt.GetState()
	if err != nil {
		return fmt.Errorf("failed to read optimizer state: %w", err)
	}

	cp := &checkpoints.Checkpoint{
		ModelSpec: model.CheckpointSpec(),
		Weights:   checkpoints.ExtractWeights(result.Best.Params),
		TrainingState: checkpoints.TrainingState{
			Epoch:          result.Best.Epoch,
			Step:           int(result.Best.Step),
			LearningRate:   opt.GetLearningRate(),
			BestPerplexity: result.Best.Perplexity,
			BestLoss:       result.Best.Loss,
			TotalSteps:     int(opt.GetStepCount()),
		},
		OptimizerState: state,
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("best of %d epochs, stopped on %s", result.Epochs, result.StopReason),
			Tags:        []string{opt.Name()},
		},
	}

	if err := checkpoints.NewCheckpointSaver(format).SaveCheckpoint(cp, path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
