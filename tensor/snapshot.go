package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas64"
)

// Capture deep-copies every tensor of ps into a detached set. Later in-place
// updates to ps never reach the snapshot and vice versa.
func Capture(ps *ParameterSet) *ParameterSet {
	out := &ParameterSet{
		tensors: make([]*Tensor, len(ps.tensors)),
		index:   make(map[string]int, len(ps.tensors)),
		device:  ps.device,
	}
	for i, t := range ps.tensors {
		out.tensors[i] = t.Clone()
		out.index[t.Name] = i
	}
	return out
}

// Restore overwrites into with the values of snapshot. The tensors of into
// keep their identity and backing arrays, so views held elsewhere see the change.
func Restore(snapshot, into *ParameterSet) error {
	if err := into.CheckLayout(snapshot); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	for i, t := range into.tensors {
		blas64.Copy(vector(snapshot.tensors[i]), vector(t))
	}
	return nil
}

// Exchange swaps the values of a and b element by element
func Exchange(a, b *ParameterSet) error {
	if err := a.CheckLayout(b); err != nil {
		return fmt.Errorf("exchange: %v", err)
	}
	for i, t := range a.tensors {
		blas64.Swap(vector(t), vector(b.tensors[i]))
	}
	return nil
}

func vector(t *Tensor) blas64.Vector {
	return blas64.Vector{N: len(t.Data), Inc: 1, Data: t.Data}
}
