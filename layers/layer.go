package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Embedding LayerType = iota
	Dropout
	Elman
	Dense
)

func (lt LayerType) String() string {
	switch lt {
	case Embedding:
		return "Embedding"
	case Dropout:
		return "Dropout"
	case Elman:
		return "Elman"
	case Dense:
		return "Dense"
	default:
		return "Unknown"
	}
}

// ParameterShape names one learnable tensor of a layer
type ParameterShape struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// LayerSpec defines layer configuration. This is pure configuration - no execution logic.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation); -1 marks the time axis
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes []ParameterShape `json:"parameter_shapes,omitempty"`
	ParameterCount  int64            `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete recurrent language model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64            `json:"total_parameters"`
	ParameterShapes []ParameterShape `json:"parameter_shapes"`
	VocabSize       int              `json:"vocab_size"`
	Compiled        bool             `json:"compiled"`
}

// LayerFactory creates layer specifications (configuration only)
type LayerFactory struct{}

// NewFactory creates a new layer factory
func NewFactory() *LayerFactory {
	return &LayerFactory{}
}

// CreateEmbeddingSpec creates a token embedding specification. Rows at
// padIndex receive no gradient.
func (lf *LayerFactory) CreateEmbeddingSpec(vocabSize, embSize, padIndex int, name string) LayerSpec {
	return LayerSpec{
		Type: Embedding,
		Name: name,
		Parameters: map[string]interface{}{
			"vocab_size": vocabSize,
			"emb_size":   embSize,
			"pad_index":  padIndex,
		},
	}
}

// CreateDropoutSpec creates an inverted dropout specification
func (lf *LayerFactory) CreateDropoutSpec(rate float64, name string) LayerSpec {
	return LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	}
}

// CreateElmanSpec creates a single-layer tanh recurrence specification
func (lf *LayerFactory) CreateElmanSpec(inputSize, hiddenSize int, name string) LayerSpec {
	return LayerSpec{
		Type: Elman,
		Name: name,
		Parameters: map[string]interface{}{
			"input_size":  inputSize,
			"hidden_size": hiddenSize,
		},
	}
}

// CreateDenseSpec creates the output projection. With tiedTo set the weight
// is shared with the named embedding and only the bias is owned.
func (lf *LayerFactory) CreateDenseSpec(inputSize, outputSize int, tiedTo, name string) LayerSpec {
	return LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"input_size":  inputSize,
			"output_size": outputSize,
			"tied_to":     tiedTo,
		},
	}
}

// ModelBuilder provides a fluent interface for building recurrent models
type ModelBuilder struct {
	layers    []LayerSpec
	vocabSize int
	compiled  bool
}

// NewModelBuilder creates a builder for a model over a vocabulary of vocabSize tokens
func NewModelBuilder(vocabSize int) *ModelBuilder {
	return &ModelBuilder{
		layers:    make([]LayerSpec, 0),
		vocabSize: vocabSize,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// Compile computes shapes and parameter counts for every layer
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if mb.vocabSize <= 0 {
		return nil, fmt.Errorf("vocabulary size must be positive: %d", mb.vocabSize)
	}

	model := &ModelSpec{
		Layers:    make([]LayerSpec, len(mb.layers)),
		VocabSize: mb.vocabSize,
	}
	copy(model.Layers, mb.layers)

	// Token ids in, one feature vector per time step out
	currentShape := []int{-1}
	owned := make(map[string]bool)

	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, params, err := mb.computeLayerInfo(layer, currentShape, owned)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = params
		layer.ParameterCount = 0
		for _, p := range params {
			owned[p.Name] = true
			layer.ParameterCount += int64(elements(p.Shape))
		}

		model.ParameterShapes = append(model.ParameterShapes, params...)
		model.TotalParameters += layer.ParameterCount
		currentShape = outputShape
	}

	if last := currentShape[len(currentShape)-1]; last != mb.vocabSize {
		return nil, fmt.Errorf("model output size %d does not match vocabulary size %d", last, mb.vocabSize)
	}

	model.Compiled = true
	mb.compiled = true
	return model, nil
}

func (mb *ModelBuilder) computeLayerInfo(layer *LayerSpec, inputShape []int, owned map[string]bool) ([]int, []ParameterShape, error) {
	features := inputShape[len(inputShape)-1]

	switch layer.Type {
	case Embedding:
		if len(inputShape) != 1 {
			return nil, nil, fmt.Errorf("embedding must be the first layer")
		}
		vocab := getIntParam(layer.Parameters, "vocab_size", 0)
		emb := getIntParam(layer.Parameters, "emb_size", 0)
		if vocab != mb.vocabSize || emb <= 0 {
			return nil, nil, fmt.Errorf("invalid embedding %dx%d for vocabulary %d", vocab, emb, mb.vocabSize)
		}
		return []int{-1, emb}, []ParameterShape{
			{Name: layer.Name + ".weight", Shape: []int{vocab, emb}},
		}, nil

	case Dropout:
		rate := getFloatParam(layer.Parameters, "rate", 0)
		if rate < 0 || rate >= 1 {
			return nil, nil, fmt.Errorf("dropout rate must be in [0, 1): %f", rate)
		}
		return append([]int(nil), inputShape...), nil, nil

	case Elman:
		in := getIntParam(layer.Parameters, "input_size", 0)
		hidden := getIntParam(layer.Parameters, "hidden_size", 0)
		if in != features {
			return nil, nil, fmt.Errorf("input size %d does not match incoming features %d", in, features)
		}
		if hidden <= 0 {
			return nil, nil, fmt.Errorf("hidden size must be positive: %d", hidden)
		}
		return []int{-1, hidden}, []ParameterShape{
			{Name: layer.Name + ".weight_ih", Shape: []int{hidden, in}},
			{Name: layer.Name + ".weight_hh", Shape: []int{hidden, hidden}},
			{Name: layer.Name + ".bias", Shape: []int{hidden}},
		}, nil

	case Dense:
		in := getIntParam(layer.Parameters, "input_size", 0)
		out := getIntParam(layer.Parameters, "output_size", 0)
		if in != features {
			return nil, nil, fmt.Errorf("input size %d does not match incoming features %d", in, features)
		}
		if out <= 0 {
			return nil, nil, fmt.Errorf("output size must be positive: %d", out)
		}

		params := []ParameterShape{}
		if tied := getStringParam(layer.Parameters, "tied_to", ""); tied != "" {
			if !owned[tied+".weight"] {
				return nil, nil, fmt.Errorf("tied weight %s.weight is not defined by an earlier layer", tied)
			}
		} else {
			params = append(params, ParameterShape{Name: layer.Name + ".weight", Shape: []int{out, in}})
		}
		params = append(params, ParameterShape{Name: layer.Name + ".bias", Shape: []int{out}})
		return []int{-1, out}, params, nil

	default:
		return nil, nil, fmt.Errorf("unsupported layer type: %s", layer.Type)
	}
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Model Summary:\n")
	fmt.Fprintf(&sb, "Vocabulary: %d\n", ms.VocabSize)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		fmt.Fprintf(&sb, "Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type)
		fmt.Fprintf(&sb, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&sb, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&sb, "  Params: %d\n", layer.ParameterCount)
		if len(layer.Parameters) > 0 {
			fmt.Fprintf(&sb, "  Config: %v\n", layer.Parameters)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Layer returns the first layer of the given type
func (ms *ModelSpec) Layer(lt LayerType) (LayerSpec, bool) {
	for _, l := range ms.Layers {
		if l.Type == lt {
			return l, true
		}
	}
	return LayerSpec{}, false
}

func elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Helper functions for parameter extraction
func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	if val, exists := params[key]; exists {
		if intVal, ok := val.(int); ok {
			return intVal
		}
	}
	return defaultValue
}

func getStringParam(params map[string]interface{}, key string, defaultValue string) string {
	if val, exists := params[key]; exists {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultValue
}

func getFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	if val, exists := params[key]; exists {
		if floatVal, ok := val.(float64); ok {
			return floatVal
		}
		if floatVal, ok := val.(float32); ok {
			return float64(floatVal)
		}
	}
	return defaultValue
}
