package training

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tsawler/go-rnnlm/checkpoints"
	"github.com/tsawler/go-rnnlm/layers"
	"github.com/tsawler/go-rnnlm/optimizer"
	"github.com/tsawler/go-rnnlm/tensor"
)

// TriggerMetric selects which validation value feeds the averaging trigger
type TriggerMetric string

const (
	TriggerOnLoss       TriggerMetric = "loss"
	TriggerOnPerplexity TriggerMetric = "perplexity"
)

// Config holds every recognized option of a training run
type Config struct {
	// Optimization
	Optimizer         string  `json:"optimizer"` // "sgd" or "nt-avgsgd"
	LearningRate      float64 `json:"learning_rate"`
	Clip              float64 `json:"clip"` // global gradient norm threshold, <= 0 disables
	Epochs            int     `json:"epochs"`
	Patience          int     `json:"patience"`
	AveragingWindow   int     `json:"averaging_window"`   // L, 0 = training batches per epoch
	AveragingBaseline int     `json:"averaging_baseline"` // n
	TriggerMetric     string  `json:"trigger_metric"`

	// Model
	EmbSize     int     `json:"emb_size"`
	HiddenSize  int     `json:"hidden_size"`
	EmbDropout  float64 `json:"emb_dropout"`
	OutDropout  float64 `json:"out_dropout"`
	WeightTying bool    `json:"weight_tying"`

	// Data
	TrainPath      string `json:"train_path"`
	DevPath        string `json:"dev_path"`
	TestPath       string `json:"test_path"`
	TokenizerFile  string `json:"tokenizer_file,omitempty"`
	TrainBatchSize int    `json:"train_batch_size"`
	DevBatchSize   int    `json:"dev_batch_size"`
	TestBatchSize  int    `json:"test_batch_size"`
	Shuffle        bool   `json:"shuffle"`
	Seed           int64  `json:"seed"`
	Device         string `json:"device"`

	// Outputs
	CheckpointPath   string `json:"checkpoint_path,omitempty"`
	CheckpointFormat string `json:"checkpoint_format"`
	RunLogPath       string `json:"runlog_path,omitempty"`
	ReportPath       string `json:"report_path,omitempty"`
	LogLevel         string `json:"log_level"`
	LogFormat        string `json:"log_format"` // "text" or "json"
	ShowProgress     bool   `json:"show_progress"`
}

// DefaultConfig returns the default training configuration
func DefaultConfig() Config {
	return Config{
		Optimizer:         string(optimizer.KindSGD),
		LearningRate:      1.0,
		Clip:              5.0,
		Epochs:            100,
		Patience:          3,
		AveragingBaseline: 5,
		TriggerMetric:     string(TriggerOnLoss),

		EmbSize:    300,
		HiddenSize: 300,

		TrainPath:      "dataset/ptb.train.txt",
		DevPath:        "dataset/ptb.valid.txt",
		TestPath:       "dataset/ptb.test.txt",
		TrainBatchSize: 64,
		DevBatchSize:   128,
		TestBatchSize:  128,
		Shuffle:        true,
		Seed:           1,
		Device:         "cpu",

		CheckpointFormat: "json",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadConfig reads a JSON configuration file over the defaults
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config %s: %v", path, err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	return config, nil
}

// Validate checks the configuration for values the run cannot start with
func (c Config) Validate() error {
	if _, err := optimizer.ParseKind(c.Optimizer); err != nil {
		return err
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive: %f", c.LearningRate)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive: %d", c.Epochs)
	}
	if c.Patience <= 0 {
		return fmt.Errorf("patience must be positive: %d", c.Patience)
	}
	if c.AveragingWindow < 0 {
		return fmt.Errorf("averaging window cannot be negative: %d", c.AveragingWindow)
	}
	if c.AveragingBaseline < 0 {
		return fmt.Errorf("averaging baseline cannot be negative: %d", c.AveragingBaseline)
	}
	if _, err := ParseTriggerMetric(c.TriggerMetric); err != nil {
		return err
	}
	if c.EmbSize <= 0 || c.HiddenSize <= 0 {
		return fmt.Errorf("emb_size and hidden_size must be positive: %d, %d", c.EmbSize, c.HiddenSize)
	}
	if c.WeightTying && c.EmbSize != c.HiddenSize {
		return fmt.Errorf("weight tying requires emb_size == hidden_size (%d != %d)", c.EmbSize, c.HiddenSize)
	}
	for name, rate := range map[string]float64{"emb_dropout": c.EmbDropout, "out_dropout": c.OutDropout} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%s must be in [0, 1): %f", name, rate)
		}
	}
	if c.TrainBatchSize <= 0 || c.DevBatchSize <= 0 || c.TestBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive: %d/%d/%d", c.TrainBatchSize, c.DevBatchSize, c.TestBatchSize)
	}
	if _, err := tensor.ParseDevice(c.Device); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	return nil
}

// ParseTriggerMetric maps a configuration string onto a TriggerMetric
func ParseTriggerMetric(name string) (TriggerMetric, error) {
	switch TriggerMetric(name) {
	case TriggerOnLoss, "":
		return TriggerOnLoss, nil
	case TriggerOnPerplexity:
		return TriggerOnPerplexity, nil
	default:
		return "", fmt.Errorf("unknown trigger metric: %q (expected %q or %q)", name, TriggerOnLoss, TriggerOnPerplexity)
	}
}

// OptimizerConfig resolves the optimizer settings. A zero averaging window
// becomes the number of training batches per epoch.
func (c Config) OptimizerConfig(batchesPerEpoch int) (optimizer.Config, error) {
	kind, err := optimizer.ParseKind(c.Optimizer)
	if err != nil {
		return optimizer.Config{}, err
	}
	window := c.AveragingWindow
	if window == 0 {
		window = batchesPerEpoch
	}
	return optimizer.Config{
		Kind:         kind,
		LearningRate: c.LearningRate,
		Clip:         c.Clip,
		Window:       window,
		Baseline:     c.AveragingBaseline,
	}, nil
}

// ModelConfig resolves the architecture for a vocabulary
func (c Config) ModelConfig(vocabSize, padIndex int) layers.RNNLMConfig {
	mc := layers.DefaultRNNLMConfig(vocabSize)
	mc.EmbSize = c.EmbSize
	mc.HiddenSize = c.HiddenSize
	mc.EmbDropout = c.EmbDropout
	mc.OutDropout = c.OutDropout
	mc.WeightTying = c.WeightTying
	mc.PadIndex = padIndex
	mc.Seed = c.Seed
	return mc
}

// TrainerConfig resolves the controller settings
func (c Config) TrainerConfig(padIndex int) (TrainerConfig, error) {
	metric, err := ParseTriggerMetric(c.TriggerMetric)
	if err != nil {
		return TrainerConfig{}, err
	}
	device, err := tensor.ParseDevice(c.Device)
	if err != nil {
		return TrainerConfig{}, err
	}
	return TrainerConfig{
		Epochs:        c.Epochs,
		Patience:      c.Patience,
		TriggerMetric: metric,
		PadIndex:      padIndex,
		Device:        device,
		ShowProgress:  c.ShowProgress,
	}, nil
}
