package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-rnnlm/tensor"
)

// GlobalNorm returns the L2 norm of all gradient tensors taken together
func GlobalNorm(grads *tensor.ParameterSet) float64 {
	var sumSq float64
	for _, g := range grads.Tensors() {
		sumSq += floats.Dot(g.Data, g.Data)
	}
	return math.Sqrt(sumSq)
}

// ClipGradNorm rescales grads in place so that their global norm does not exceed
// maxNorm. It returns the norm measured before clipping. maxNorm <= 0 disables clipping.
func ClipGradNorm(grads *tensor.ParameterSet, maxNorm float64) float64 {
	norm := GlobalNorm(grads)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}

	scale := maxNorm / norm
	for _, g := range grads.Tensors() {
		floats.Scale(scale, g.Data)
	}
	return norm
}

// ApplyGradientStep clips grads to clip and then updates params in place as
// p -= lr * g. Gradients are consumed: they hold the clipped values afterwards.
func ApplyGradientStep(params, grads *tensor.ParameterSet, lr, clip float64) error {
	if err := params.CheckLayout(grads); err != nil {
		return fmt.Errorf("gradient layout doesn't match parameters: %v", err)
	}

	ClipGradNorm(grads, clip)

	for i, p := range params.Tensors() {
		floats.AddScaled(p.Data, -lr, grads.At(i).Data)
	}
	return nil
}
