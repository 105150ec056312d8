package dataset

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadLines reads a corpus file with one sentence per line, skipping blank lines
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %v", path, err)
	}
	return lines, nil
}

// Sample is one training example: Target is Source shifted left by one token
type Sample struct {
	Source []int
	Target []int
}

// Dataset holds encoded next-token prediction samples in corpus order
type Dataset struct {
	samples  []Sample
	padIndex int
}

// NewDataset encodes lines with enc. Lines that encode to fewer than two
// tokens carry no prediction and are dropped.
func NewDataset(lines []string, enc Encoder) (*Dataset, error) {
	ds := &Dataset{
		samples:  make([]Sample, 0, len(lines)),
		padIndex: enc.PadIndex(),
	}
	for i, line := range lines {
		ids, err := enc.Encode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", i+1, err)
		}
		if len(ids) < 2 {
			continue
		}
		ds.samples = append(ds.samples, Sample{
			Source: ids[:len(ids)-1],
			Target: ids[1:],
		})
	}
	return ds, nil
}

func (ds *Dataset) Len() int {
	return len(ds.samples)
}

// Get returns the sample at idx
func (ds *Dataset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(ds.samples) {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.samples))
	}
	return ds.samples[idx], nil
}

func (ds *Dataset) PadIndex() int {
	return ds.padIndex
}

// NumTokens counts predicted tokens over the whole dataset
func (ds *Dataset) NumTokens() int {
	n := 0
	for _, s := range ds.samples {
		n += len(s.Target)
	}
	return n
}
