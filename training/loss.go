package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Reduction selects how per-token losses are combined
type Reduction string

const (
	ReductionMean Reduction = "mean"
	ReductionSum  Reduction = "sum"
)

// Loss interface for sequence losses over per-step logits
type Loss interface {
	// Forward returns the reduced loss and the number of non-ignored targets
	Forward(logits []*mat.Dense, targets [][]int) (loss float64, tokens int, err error)
	// Backward returns d(loss)/d(logits) for every step
	Backward(logits []*mat.Dense, targets [][]int) ([]*mat.Dense, error)
	Reduction() Reduction
}

// CrossEntropyLoss implements softmax cross-entropy over the vocabulary,
// skipping target positions equal to IgnoreIndex
type CrossEntropyLoss struct {
	IgnoreIndex int
	reduction   Reduction
}

// NewCrossEntropyLoss creates a new cross-entropy loss function
func NewCrossEntropyLoss(ignoreIndex int, reduction Reduction) *CrossEntropyLoss {
	if reduction == "" {
		reduction = ReductionMean
	}
	return &CrossEntropyLoss{
		IgnoreIndex: ignoreIndex,
		reduction:   reduction,
	}
}

func (ce *CrossEntropyLoss) Reduction() Reduction {
	return ce.reduction
}

// Forward computes the masked cross-entropy. A mean over zero tokens is 0.
func (ce *CrossEntropyLoss) Forward(logits []*mat.Dense, targets [][]int) (float64, int, error) {
	if err := ce.checkShapes(logits, targets); err != nil {
		return 0, 0, err
	}

	total := 0.0
	tokens := 0
	for t, l := range logits {
		_, vocab := l.Dims()
		for b := range targets {
			target := targets[b][t]
			if target == ce.IgnoreIndex {
				continue
			}
			if target < 0 || target >= vocab {
				return 0, 0, fmt.Errorf("target %d outside vocabulary of %d", target, vocab)
			}
			row := l.RawRowView(b)
			total += floats.LogSumExp(row) - row[target]
			tokens++
		}
	}

	switch ce.reduction {
	case ReductionSum:
		return total, tokens, nil
	case ReductionMean:
		if tokens == 0 {
			return 0, 0, nil
		}
		return total / float64(tokens), tokens, nil
	default:
		return 0, 0, fmt.Errorf("unknown reduction: %s", ce.reduction)
	}
}

// Backward computes softmax(logits) - onehot(target) per non-ignored position,
// scaled by 1/tokens under mean reduction
func (ce *CrossEntropyLoss) Backward(logits []*mat.Dense, targets [][]int) ([]*mat.Dense, error) {
	if err := ce.checkShapes(logits, targets); err != nil {
		return nil, err
	}

	tokens := 0
	for t := range logits {
		for b := range targets {
			if targets[b][t] != ce.IgnoreIndex {
				tokens++
			}
		}
	}
	scale := 1.0
	if ce.reduction == ReductionMean && tokens > 0 {
		scale = 1 / float64(tokens)
	}

	grads := make([]*mat.Dense, len(logits))
	for t, l := range logits {
		rows, vocab := l.Dims()
		g := mat.NewDense(rows, vocab, nil)
		for b := range targets {
			target := targets[b][t]
			if target == ce.IgnoreIndex {
				continue
			}
			if target < 0 || target >= vocab {
				return nil, fmt.Errorf("target %d outside vocabulary of %d", target, vocab)
			}
			row := l.RawRowView(b)
			lse := floats.LogSumExp(row)
			out := g.RawRowView(b)
			for v, x := range row {
				out[v] = math.Exp(x-lse) * scale
			}
			out[target] -= scale
		}
		grads[t] = g
	}
	return grads, nil
}

func (ce *CrossEntropyLoss) checkShapes(logits []*mat.Dense, targets [][]int) error {
	for t, l := range logits {
		rows, _ := l.Dims()
		if rows != len(targets) {
			return fmt.Errorf("step %d: %d logit rows for %d targets", t, rows, len(targets))
		}
	}
	for b, seq := range targets {
		if len(seq) != len(logits) {
			return fmt.Errorf("target %d has %d steps, expected %d", b, len(seq), len(logits))
		}
	}
	return nil
}
