package tensor

import (
	"fmt"
)

// ParameterSet is an ordered collection of named tensors holding every
// learnable weight of a model. Gradient sets share the same layout.
type ParameterSet struct {
	tensors []*Tensor
	index   map[string]int
	device  DeviceType
}

// NewParameterSet builds a set from tensors, rejecting duplicate names
func NewParameterSet(tensors ...*Tensor) (*ParameterSet, error) {
	ps := &ParameterSet{
		tensors: make([]*Tensor, 0, len(tensors)),
		index:   make(map[string]int, len(tensors)),
		device:  CPU,
	}
	for _, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("nil tensor in parameter set")
		}
		if _, exists := ps.index[t.Name]; exists {
			return nil, fmt.Errorf("duplicate parameter name: %s", t.Name)
		}
		ps.index[t.Name] = len(ps.tensors)
		ps.tensors = append(ps.tensors, t)
	}
	return ps, nil
}

// ZerosLike allocates a zero-valued set with the same names and shapes as ps
func ZerosLike(ps *ParameterSet) *ParameterSet {
	out := &ParameterSet{
		tensors: make([]*Tensor, len(ps.tensors)),
		index:   make(map[string]int, len(ps.tensors)),
		device:  ps.device,
	}
	for i, t := range ps.tensors {
		out.tensors[i] = &Tensor{
			Name:     t.Name,
			Shape:    append([]int(nil), t.Shape...),
			Data:     make([]float64, len(t.Data)),
			NumElems: t.NumElems,
		}
		out.index[t.Name] = i
	}
	return out
}

func (ps *ParameterSet) Len() int {
	return len(ps.tensors)
}

// Tensors returns the tensors in their fixed order. The slice must not be modified.
func (ps *ParameterSet) Tensors() []*Tensor {
	return ps.tensors
}

func (ps *ParameterSet) At(i int) *Tensor {
	return ps.tensors[i]
}

// Get looks a tensor up by name
func (ps *ParameterSet) Get(name string) (*Tensor, bool) {
	i, ok := ps.index[name]
	if !ok {
		return nil, false
	}
	return ps.tensors[i], true
}

// Names returns parameter names in order
func (ps *ParameterSet) Names() []string {
	names := make([]string, len(ps.tensors))
	for i, t := range ps.tensors {
		names[i] = t.Name
	}
	return names
}

// NumElements is the total number of scalar weights in the set
func (ps *ParameterSet) NumElements() int {
	n := 0
	for _, t := range ps.tensors {
		n += t.NumElems
	}
	return n
}

func (ps *ParameterSet) Device() DeviceType {
	return ps.device
}

// To relocates the set onto device. Storage is host memory either way, so
// relocation only changes the placement tag.
func (ps *ParameterSet) To(device DeviceType) {
	ps.device = device
}

// Zero clears every tensor in place
func (ps *ParameterSet) Zero() {
	for _, t := range ps.tensors {
		t.Zero()
	}
}

// CheckLayout returns an error unless other has exactly the same names and shapes
func (ps *ParameterSet) CheckLayout(other *ParameterSet) error {
	if other == nil {
		return fmt.Errorf("parameter set is nil")
	}
	if len(ps.tensors) != len(other.tensors) {
		return fmt.Errorf("parameter count mismatch: %d vs %d", len(ps.tensors), len(other.tensors))
	}
	for i, t := range ps.tensors {
		if !t.SameLayout(other.tensors[i]) {
			return fmt.Errorf("layout mismatch at index %d: %s%v vs %s%v",
				i, t.Name, t.Shape, other.tensors[i].Name, other.tensors[i].Shape)
		}
	}
	return nil
}

// Equal reports bit-for-bit equality of values (layouts must match)
func (ps *ParameterSet) Equal(other *ParameterSet) bool {
	if ps.CheckLayout(other) != nil {
		return false
	}
	for i, t := range ps.tensors {
		od := other.tensors[i].Data
		for j, v := range t.Data {
			if v != od[j] {
				return false
			}
		}
	}
	return true
}
