// Command lmtrain trains a recurrent language model with plain SGD or
// NT-AvgSGD, keeps the best validation weights and reports the test
// perplexity of those weights.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-rnnlm/training"
)

func main() {
	config, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(config, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := run(ctx, config, logger, os.Stdout); err != nil {
		logger.WithError(err).Error("Training failed")
		os.Exit(1)
	}
}

// parseFlags builds the run configuration: defaults, then the optional JSON
// config file, then any flags given explicitly
func parseFlags(args []string) (training.Config, error) {
	defaults := training.DefaultConfig()
	fs := flag.NewFlagSet("lmtrain", flag.ContinueOnError)

	configPath := fs.String("config", "", "JSON configuration file")
	opt := fs.String("optim", defaults.Optimizer, "optimizer: sgd or nt-avgsgd")
	lr := fs.Float64("lr", defaults.LearningRate, "learning rate")
	clip := fs.Float64("clip", defaults.Clip, "global gradient norm threshold (<= 0 disables)")
	epochs := fs.Int("epochs", defaults.Epochs, "maximum number of epochs")
	patience := fs.Int("patience", defaults.Patience, "epochs without improvement before stopping")
	window := fs.Int("avg-window", defaults.AveragingWindow, "steps between validation checkpoints fed to the averaging trigger (0 = batches per epoch)")
	baseline := fs.Int("avg-baseline", defaults.AveragingBaseline, "recent validation entries excluded from the trigger baseline")
	trigger := fs.String("trigger-metric", defaults.TriggerMetric, "validation value fed to the trigger: loss or perplexity")
	embSize := fs.Int("emb-size", defaults.EmbSize, "embedding size")
	hiddenSize := fs.Int("hidden-size", defaults.HiddenSize, "hidden state size")
	embDropout := fs.Float64("emb-dropout", defaults.EmbDropout, "dropout on embeddings")
	outDropout := fs.Float64("out-dropout", defaults.OutDropout, "dropout on hidden states before the output layer")
	tying := fs.Bool("weight-tying", defaults.WeightTying, "share embedding and output weights")
	trainPath := fs.String("train", defaults.TrainPath, "training corpus")
	devPath := fs.String("dev", defaults.DevPath, "validation corpus")
	testPath := fs.String("test", defaults.TestPath, "test corpus")
	tokenizerFile := fs.String("tokenizer", defaults.TokenizerFile, "tokenizer.json to use instead of a word vocabulary")
	trainBatch := fs.Int("train-batch-size", defaults.TrainBatchSize, "training batch size")
	devBatch := fs.Int("dev-batch-size", defaults.DevBatchSize, "validation batch size")
	testBatch := fs.Int("test-batch-size", defaults.TestBatchSize, "test batch size")
	shuffle := fs.Bool("shuffle", defaults.Shuffle, "shuffle training batches every epoch")
	seed := fs.Int64("seed", defaults.Seed, "random seed")
	device := fs.String("device", defaults.Device, "device: cpu or gpu")
	checkpoint := fs.String("checkpoint", defaults.CheckpointPath, "write the best weights to this file")
	format := fs.String("checkpoint-format", defaults.CheckpointFormat, "checkpoint format: json or proto")
	runlogPath := fs.String("runlog", defaults.RunLogPath, "SQLite run log")
	report := fs.String("report", defaults.ReportPath, "write the JSON run report to this file")
	logLevel := fs.String("log-level", defaults.LogLevel, "log level")
	logFormat := fs.String("log-format", defaults.LogFormat, "log format: text or json")
	progress := fs.Bool("progress", defaults.ShowProgress, "draw a progress bar per epoch")

	if err := fs.Parse(args); err != nil {
		return defaults, err
	}

	config := defaults
	if *configPath != "" {
		loaded, err := training.LoadConfig(*configPath)
		if err != nil {
			return defaults, err
		}
		config = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "optim":
			config.Optimizer = *opt
		case "lr":
			config.LearningRate = *lr
		case "clip":
			config.Clip = *clip
		case "epochs":
			config.Epochs = *epochs
		case "patience":
			config.Patience = *patience
		case "avg-window":
			config.AveragingWindow = *window
		case "avg-baseline":
			config.AveragingBaseline = *baseline
		case "trigger-metric":
			config.TriggerMetric = *trigger
		case "emb-size":
			config.EmbSize = *embSize
		case "hidden-size":
			config.HiddenSize = *hiddenSize
		case "emb-dropout":
			config.EmbDropout = *embDropout
		case "out-dropout":
			config.OutDropout = *outDropout
		case "weight-tying":
			config.WeightTying = *tying
		case "train":
			config.TrainPath = *trainPath
		case "dev":
			config.DevPath = *devPath
		case "test":
			config.TestPath = *testPath
		case "tokenizer":
			config.TokenizerFile = *tokenizerFile
		case "train-batch-size":
			config.TrainBatchSize = *trainBatch
		case "dev-batch-size":
			config.DevBatchSize = *devBatch
		case "test-batch-size":
			config.TestBatchSize = *testBatch
		case "shuffle":
			config.Shuffle = *shuffle
		case "seed":
			config.Seed = *seed
		case "device":
			config.Device = *device
		case "checkpoint":
			config.CheckpointPath = *checkpoint
		case "checkpoint-format":
			config.CheckpointFormat = *format
		case "runlog":
			config.RunLogPath = *runlogPath
		case "report":
			config.ReportPath = *report
		case "log-level":
			config.LogLevel = *logLevel
		case "log-format":
			config.LogFormat = *logFormat
		case "progress":
			config.ShowProgress = *progress
		}
	})

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func newLogger(config training.Config, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch config.LogFormat {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format: %q", config.LogFormat)
	}
	return logger, nil
}
