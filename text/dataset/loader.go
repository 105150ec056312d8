package dataset

import (
	"fmt"
	"math/rand"
)

// DataLoader groups a Dataset into padded batches. Without shuffling the
// order is fixed; with shuffling it is drawn from the loader's own seeded
// source, so two loaders built with the same seed yield the same sequence of
// epochs.
type DataLoader struct {
	dataset   *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(ds *Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive: %d", batchSize)
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

func (dl *DataLoader) Dataset() *Dataset {
	return dl.dataset
}

// Batches returns one epoch of batches. Each call reshuffles when shuffling is enabled.
func (dl *DataLoader) Batches() ([]*Batch, error) {
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}

	batches := make([]*Batch, 0, dl.Len())
	for start := 0; start < len(dl.indices); start += dl.batchSize {
		end := start + dl.batchSize
		if end > len(dl.indices) {
			end = len(dl.indices)
		}

		samples := make([]Sample, 0, end-start)
		for _, idx := range dl.indices[start:end] {
			s, err := dl.dataset.Get(idx)
			if err != nil {
				return nil, err
			}
			samples = append(samples, s)
		}

		batch, err := Collate(samples, dl.dataset.PadIndex())
		if err != nil {
			return nil, fmt.Errorf("failed to collate batch %d: %v", len(batches), err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
