package tensor

import (
	"fmt"
)

type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a configuration string onto a DeviceType
func ParseDevice(name string) (DeviceType, error) {
	switch name {
	case "", "cpu", "CPU":
		return CPU, nil
	case "gpu", "GPU", "cuda", "metal":
		return GPU, nil
	default:
		return CPU, fmt.Errorf("unknown device: %q", name)
	}
}

// Tensor is a named, dense float64 buffer in row-major order.
// Shape and Name are fixed at creation; only Data values change.
type Tensor struct {
	Name     string
	Shape    []int
	Data     []float64
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(name=%s, shape=%v, elements=%d)", t.Name, t.Shape, t.NumElems)
}

// NewTensor creates a tensor of the given shape. A nil data slice allocates zeros;
// otherwise data is used as backing storage without copying.
func NewTensor(name string, shape []int, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, fmt.Errorf("tensor %s: %v", name, err)
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float64, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("tensor %s: data length %d doesn't match shape %v (%d elements)",
			name, len(data), shape, numElems)
	}

	return &Tensor{
		Name:     name,
		Shape:    append([]int(nil), shape...),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zero sets every element to zero in place
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Clone returns a deep copy that shares no memory with t
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Name:     t.Name,
		Shape:    append([]int(nil), t.Shape...),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// SameLayout reports whether two tensors have identical name and shape
func (t *Tensor) SameLayout(other *Tensor) bool {
	if t.Name != other.Name || len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
