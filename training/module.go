package training

import (
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rnnlm/layers"
	"github.com/tsawler/go-rnnlm/tensor"
	"github.com/tsawler/go-rnnlm/text/dataset"
)

// Module interface defines what the training loop needs from a sequence model
type Module interface {
	// Forward computes per-step logits for a padded batch
	Forward(batch *dataset.Batch) (*layers.ForwardResult, error)
	// Backward accumulates gradients given d(loss)/d(logits) for every step
	Backward(result *layers.ForwardResult, dLogits []*mat.Dense) error

	Parameters() *tensor.ParameterSet // Trainable weights, updated in place
	Gradients() *tensor.ParameterSet  // Same layout as Parameters
	ZeroGrad()

	Train()           // Sets module to training mode
	Eval()            // Sets module to evaluation mode
	IsTraining() bool // Returns true if in training mode
	To(device tensor.DeviceType)
}

// BatchSource yields one epoch of batches in a fixed order
type BatchSource interface {
	Batches() ([]*dataset.Batch, error)
	Len() int
}

var (
	_ Module      = (*layers.RNNLM)(nil)
	_ BatchSource = (*dataset.DataLoader)(nil)
)
