package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-rnnlm/checkpoints"
	"github.com/tsawler/go-rnnlm/layers"
	"github.com/tsawler/go-rnnlm/runlog"
	"github.com/tsawler/go-rnnlm/training"
)

func writeCorpora(t *testing.T) training.Config {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"train.txt": "the cat sat on the mat\nthe dog sat on the log\n\na cat saw a dog\nthe mat was red\n",
		"dev.txt":   "the cat sat on the log\na dog saw the mat\n",
		"test.txt":  "the dog sat on the mat\na bird saw a cat\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	config := training.DefaultConfig()
	config.TrainPath = filepath.Join(dir, "train.txt")
	config.DevPath = filepath.Join(dir, "dev.txt")
	config.TestPath = filepath.Join(dir, "test.txt")
	config.EmbSize = 8
	config.HiddenSize = 8
	config.TrainBatchSize = 2
	config.DevBatchSize = 2
	config.TestBatchSize = 2
	config.Epochs = 3
	config.CheckpointPath = filepath.Join(dir, "best.ckpt")
	config.RunLogPath = filepath.Join(dir, "runs.db")
	config.ReportPath = filepath.Join(dir, "report.json")
	return config
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLoadCorpora(t *testing.T) {
	config := writeCorpora(t)

	data, err := loadCorpora(config)
	if err != nil {
		t.Fatalf("loadCorpora failed: %v", err)
	}

	if data.train.Dataset().Len() != 4 {
		t.Errorf("Expected 4 training sentences (blank line skipped), got %d", data.train.Dataset().Len())
	}
	if data.train.Len() != 2 || data.dev.Len() != 1 || data.test.Len() != 1 {
		t.Errorf("Unexpected batch counts %d/%d/%d", data.train.Len(), data.dev.Len(), data.test.Len())
	}
	if data.encoder.PadIndex() != 0 {
		t.Errorf("Expected pad index 0, got %d", data.encoder.PadIndex())
	}

	// "bird" only appears in the test split
	lang := data.encoder.(interface{ ID(string) (int, bool) })
	if _, ok := lang.ID("bird"); ok {
		t.Error("Vocabulary should come from the training split only")
	}
}

func TestLoadCorporaMissingFile(t *testing.T) {
	config := writeCorpora(t)
	config.DevPath = filepath.Join(t.TempDir(), "missing.txt")

	if _, err := loadCorpora(config); err == nil {
		t.Error("Expected error for missing split")
	}
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		optimizer string
		format    string
	}{
		{"sgd", "json"},
		{"nt-avgsgd", "proto"},
	} {
		t.Run(tc.optimizer, func(t *testing.T) {
			config := writeCorpora(t)
			config.Optimizer = tc.optimizer
			config.CheckpointFormat = tc.format
			config.AveragingBaseline = 1

			var out bytes.Buffer
			result, err := run(context.Background(), config, quietLogger(), &out)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			// Report on stdout and on disk
			var report training.Report
			if err := json.Unmarshal(out.Bytes(), &report); err != nil {
				t.Fatalf("stdout is not a JSON report: %v\n%s", err, out.String())
			}
			if len(report.Epochs) != result.Epochs || report.FinalPPL == nil {
				t.Errorf("Incomplete report: %+v", report)
			}
			saved, err := os.ReadFile(config.ReportPath)
			if err != nil {
				t.Fatalf("Report file missing: %v", err)
			}
			if strings.TrimSpace(string(saved)) != strings.TrimSpace(out.String()) {
				t.Error("Report file differs from stdout")
			}

			// Run log
			store, err := runlog.Open(config.RunLogPath)
			if err != nil {
				t.Fatalf("Failed to open run log: %v", err)
			}
			defer store.Close()
			runs, err := store.Runs()
			if err != nil || len(runs) != 1 {
				t.Fatalf("Expected one logged run, got %d (%v)", len(runs), err)
			}
			epochs, _ := store.Epochs(runs[0].ID)
			if len(epochs) != result.Epochs {
				t.Errorf("Expected %d logged epochs, got %d", result.Epochs, len(epochs))
			}

			// The checkpointed weights reproduce the reported test perplexity
			format, _ := checkpoints.ParseFormat(tc.format)
			cp, err := checkpoints.NewCheckpointSaver(format).LoadCheckpoint(config.CheckpointPath)
			if err != nil {
				t.Fatalf("Failed to load checkpoint: %v", err)
			}
			if cp.TrainingState.Epoch != result.Best.Epoch {
				t.Errorf("Checkpoint epoch %d, best epoch %d", cp.TrainingState.Epoch, result.Best.Epoch)
			}
			if cp.TrainingState.Step != int(result.Best.Step) || result.Best.Step == 0 {
				t.Errorf("Checkpoint step %d, best step %d", cp.TrainingState.Step, result.Best.Step)
			}
			if cp.OptimizerState == nil || cp.OptimizerState.Type == "" {
				t.Error("Checkpoint has no optimizer state")
			}

			model, err := layers.NewRNNLM(layers.RNNLMConfig{
				VocabSize:   cp.ModelSpec.VocabSize,
				EmbSize:     cp.ModelSpec.EmbSize,
				HiddenSize:  cp.ModelSpec.HiddenSize,
				WeightTying: cp.ModelSpec.WeightTying,
				PadIndex:    cp.ModelSpec.PadIndex,
			})
			if err != nil {
				t.Fatalf("Failed to rebuild model: %v", err)
			}
			if err := checkpoints.LoadWeights(cp.Weights, model.Parameters()); err != nil {
				t.Fatalf("Failed to load weights: %v", err)
			}

			data, _ := loadCorpora(config)
			eval, err := training.Evaluate(model, data.test, training.NewCrossEntropyLoss(cp.ModelSpec.PadIndex, training.ReductionSum))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if math.Abs(eval.Perplexity-result.TestPerplexity) > 1e-9*result.TestPerplexity {
				t.Errorf("Checkpoint test perplexity %f, reported %f", eval.Perplexity, result.TestPerplexity)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	config := writeCorpora(t)
	config.RunLogPath = ""
	config.CheckpointPath = ""

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if _, err := run(ctx, config, quietLogger(), &out); err == nil {
		t.Fatal("Expected cancelled run to fail")
	}
	if out.Len() != 0 {
		t.Error("Cancelled run should not print a report")
	}
}

func TestParseFlags(t *testing.T) {
	config, err := parseFlags([]string{"-optim", "nt-avgsgd", "-epochs", "12", "-weight-tying"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if config.Optimizer != "nt-avgsgd" || config.Epochs != 12 || !config.WeightTying {
		t.Errorf("Flags not applied: %+v", config)
	}
	if config.Patience != 3 {
		t.Errorf("Expected default patience, got %d", config.Patience)
	}
}

func TestParseFlagsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"optimizer": "nt-avgsgd", "epochs": 40, "patience": 6}`), 0644)

	// Explicit flags win over the file
	config, err := parseFlags([]string{"-config", path, "-epochs", "5"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if config.Optimizer != "nt-avgsgd" || config.Patience != 6 {
		t.Errorf("File values not applied: %+v", config)
	}
	if config.Epochs != 5 {
		t.Errorf("Expected flag to override file epochs, got %d", config.Epochs)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := parseFlags([]string{"-optim", "adam"}); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
	if _, err := parseFlags([]string{"-no-such-flag"}); err == nil {
		t.Error("Expected error for unknown flag")
	}
}

func TestNewLogger(t *testing.T) {
	config := training.DefaultConfig()
	config.LogFormat = "json"
	config.LogLevel = "debug"

	var buf bytes.Buffer
	logger, err := newLogger(config, &buf)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.WithField("epoch", 1).Debug("hello")
	if !strings.Contains(buf.String(), `"epoch":1`) {
		t.Errorf("Expected JSON log line, got %q", buf.String())
	}

	config.LogFormat = "xml"
	if _, err := newLogger(config, &buf); err == nil {
		t.Error("Expected error for unknown log format")
	}
	config.LogFormat = "text"
	config.LogLevel = "loud"
	if _, err := newLogger(config, &buf); err == nil {
		t.Error("Expected error for unknown log level")
	}
}
