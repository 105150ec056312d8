package training

import (
	"fmt"
	"math"
)

// EvalResult aggregates a full pass over an evaluation set
type EvalResult struct {
	Perplexity  float64
	MeanLoss    float64   // total loss / tokens
	TotalLoss   float64
	Tokens      int
	BatchLosses []float64 // summed loss per batch
}

// Evaluate runs the model in evaluation mode over loader without touching
// parameters or gradients. criterion must use sum reduction.
func Evaluate(model Module, loader BatchSource, criterion Loss) (*EvalResult, error) {
	if criterion.Reduction() != ReductionSum {
		return nil, fmt.Errorf("evaluation needs a sum-reduced loss, got %s", criterion.Reduction())
	}

	batches, err := loader.Batches()
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluation batches: %w", err)
	}

	model.Eval()
	result := &EvalResult{BatchLosses: make([]float64, 0, len(batches))}

	for i, batch := range batches {
		out, err := model.Forward(batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d: forward failed: %w", i+1, err)
		}
		loss, tokens, err := criterion.Forward(out.Logits, batch.Target)
		if err != nil {
			return nil, fmt.Errorf("batch %d: loss failed: %w", i+1, err)
		}
		result.TotalLoss += loss
		result.Tokens += tokens
		result.BatchLosses = append(result.BatchLosses, loss)
	}

	if result.Tokens == 0 {
		return nil, fmt.Errorf("evaluation set has no predicted tokens")
	}

	result.MeanLoss = result.TotalLoss / float64(result.Tokens)
	result.Perplexity = math.Exp(result.MeanLoss)
	return result, nil
}
