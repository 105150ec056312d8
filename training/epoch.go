package training

import (
	"fmt"

	"github.com/tsawler/go-rnnlm/optimizer"
)

// BatchHook is called after every optimizer step with the 1-based batch
// number, the number of batches in the epoch and the batch loss. A non-nil
// error aborts the epoch.
type BatchHook func(step, total int, loss float64) error

// TrainEpoch runs one pass over loader in its order: clear gradients,
// forward, mean-reduced loss, backward, optimizer step. It returns the
// per-batch losses. Any failure aborts the epoch.
func TrainEpoch(model Module, loader BatchSource, criterion Loss, opt optimizer.Optimizer) ([]float64, error) {
	return trainEpoch(model, loader, criterion, opt, nil)
}

func trainEpoch(model Module, loader BatchSource, criterion Loss, opt optimizer.Optimizer, hook BatchHook) ([]float64, error) {
	batches, err := loader.Batches()
	if err != nil {
		return nil, fmt.Errorf("failed to load training batches: %w", err)
	}

	model.Train()
	losses := make([]float64, 0, len(batches))

	for i, batch := range batches {
		model.ZeroGrad()

		result, err := model.Forward(batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d: forward failed: %w", i+1, err)
		}

		loss, _, err := criterion.Forward(result.Logits, batch.Target)
		if err != nil {
			return nil, fmt.Errorf("batch %d: loss failed: %w", i+1, err)
		}

		dLogits, err := criterion.Backward(result.Logits, batch.Target)
		if err != nil {
			return nil, fmt.Errorf("batch %d: loss gradient failed: %w", i+1, err)
		}
		if err := model.Backward(result, dLogits); err != nil {
			return nil, fmt.Errorf("batch %d: backward failed: %w", i+1, err)
		}

		if err := opt.Step(model.Gradients()); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i+1, err)
		}

		losses = append(losses, loss)
		if hook != nil {
			if err := hook(i+1, len(batches), loss); err != nil {
				return nil, fmt.Errorf("batch %d: %w", i+1, err)
			}
		}
	}

	return losses, nil
}
