package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-rnnlm/tensor"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a configuration string onto a CheckpointFormat
func ParseFormat(name string) (CheckpointFormat, error) {
	switch name {
	case "", "json", "JSON":
		return FormatJSON, nil
	case "proto", "protobuf", "pb":
		return FormatProto, nil
	default:
		return FormatJSON, fmt.Errorf("unsupported checkpoint format: %q", name)
	}
}

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	// Model architecture and weights
	ModelSpec ModelSpec      `json:"model_spec"`
	Weights   []WeightTensor `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// ModelSpec records the hyper-parameters needed to rebuild the language model
type ModelSpec struct {
	Type        string `json:"type"` // "elman"
	VocabSize   int    `json:"vocab_size"`
	EmbSize     int    `json:"emb_size"`
	HiddenSize  int    `json:"hidden_size"`
	WeightTying bool   `json:"weight_tying"`
	PadIndex    int    `json:"pad_index"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures the training progress at the time of the snapshot
type TrainingState struct {
	Epoch          int     `json:"epoch"`
	Step           int     `json:"step"`
	LearningRate   float64 `json:"learning_rate"`
	BestPerplexity float64 `json:"best_perplexity"`
	BestLoss       float64 `json:"best_loss"`
	TotalSteps     int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (step count, averaging accumulator, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "NT-AvgSGD"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "average_accumulator", "live_snapshot"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-rnnlm"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatProto:
		return cs.saveProto(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatProto:
		return cs.loadProto(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// saveProto saves checkpoint in the protobuf wire format
func (cs *CheckpointSaver) saveProto(checkpoint *Checkpoint, path string) error {
	data, err := MarshalProto(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}

	return nil
}

// loadProto loads checkpoint from the protobuf wire format
func (cs *CheckpointSaver) loadProto(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	checkpoint, err := UnmarshalProto(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
	}

	return checkpoint, nil
}

// ExtractWeights copies every tensor of ps into serializable weight records
func ExtractWeights(ps *tensor.ParameterSet) []WeightTensor {
	weights := make([]WeightTensor, 0, ps.Len())
	for _, t := range ps.Tensors() {
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		weights = append(weights, WeightTensor{
			Name:  t.Name,
			Shape: append([]int(nil), t.Shape...),
			Data:  data,
		})
	}
	return weights
}

// LoadWeights copies weight data back into ps in place, matching by name
func LoadWeights(weights []WeightTensor, ps *tensor.ParameterSet) error {
	if len(weights) != ps.Len() {
		return fmt.Errorf("weight count mismatch: %d weights, %d tensors", len(weights), ps.Len())
	}

	for _, weight := range weights {
		t, ok := ps.Get(weight.Name)
		if !ok {
			return fmt.Errorf("unknown weight %s", weight.Name)
		}

		if len(t.Shape) != len(weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v",
				weight.Name, t.Shape, weight.Shape)
		}
		for j, dim := range t.Shape {
			if dim != weight.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					weight.Name, j, dim, weight.Shape[j])
			}
		}
		if len(weight.Data) != len(t.Data) {
			return fmt.Errorf("data length mismatch for weight %s: %d vs %d", weight.Name, len(weight.Data), len(t.Data))
		}

		copy(t.Data, weight.Data)
	}

	return nil
}
