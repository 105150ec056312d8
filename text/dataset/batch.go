package dataset

import (
	"fmt"
	"sort"
)

// Batch is a padded group of samples, sorted by decreasing length.
// Source and Target are [batch][maxLen]; positions past Lengths[b] hold PadIndex.
type Batch struct {
	Source    [][]int
	Target    [][]int
	Lengths   []int
	NumTokens int // non-padding target positions
	PadIndex  int
}

// Size returns the number of sequences in the batch
func (b *Batch) Size() int {
	return len(b.Source)
}

// MaxLen returns the padded sequence length
func (b *Batch) MaxLen() int {
	if len(b.Lengths) == 0 {
		return 0
	}
	return b.Lengths[0]
}

// Collate sorts samples by decreasing source length (stable, so equal lengths
// keep corpus order) and pads them into a Batch
func Collate(samples []Sample, padIndex int) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Source) > len(sorted[j].Source)
	})

	maxLen := len(sorted[0].Source)
	batch := &Batch{
		Source:   make([][]int, len(sorted)),
		Target:   make([][]int, len(sorted)),
		Lengths:  make([]int, len(sorted)),
		PadIndex: padIndex,
	}
	for i, s := range sorted {
		if len(s.Source) != len(s.Target) {
			return nil, fmt.Errorf("sample %d: source length %d != target length %d", i, len(s.Source), len(s.Target))
		}
		batch.Source[i] = pad(s.Source, maxLen, padIndex)
		batch.Target[i] = pad(s.Target, maxLen, padIndex)
		batch.Lengths[i] = len(s.Source)
		for _, t := range s.Target {
			if t != padIndex {
				batch.NumTokens++
			}
		}
	}
	return batch, nil
}

func pad(ids []int, length, padIndex int) []int {
	out := make([]int, length)
	n := copy(out, ids)
	for i := n; i < length; i++ {
		out[i] = padIndex
	}
	return out
}
