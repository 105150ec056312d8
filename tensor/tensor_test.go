package tensor

import (
	"reflect"
	"testing"
)

func TestDeviceTypeString(t *testing.T) {
	tests := []struct {
		device   DeviceType
		expected string
	}{
		{CPU, "CPU"},
		{GPU, "GPU"},
		{DeviceType(999), "Unknown"},
	}

	for _, test := range tests {
		result := test.device.String()
		if result != test.expected {
			t.Errorf("DeviceType.String() = %s, expected %s", result, test.expected)
		}
	}
}

func TestParseDevice(t *testing.T) {
	for name, expected := range map[string]DeviceType{"": CPU, "cpu": CPU, "gpu": GPU, "cuda": GPU} {
		device, err := ParseDevice(name)
		if err != nil {
			t.Errorf("ParseDevice(%q) returned error: %v", name, err)
		}
		if device != expected {
			t.Errorf("ParseDevice(%q) = %s, expected %s", name, device, expected)
		}
	}

	if _, err := ParseDevice("tpu"); err == nil {
		t.Error("Expected error for unknown device")
	}
}

func TestCalculateNumElements(t *testing.T) {
	tests := []struct {
		shape    []int
		expected int
	}{
		{[]int{}, 0},
		{[]int{5}, 5},
		{[]int{2, 3}, 6},
		{[]int{2, 3, 4}, 24},
	}

	for _, test := range tests {
		result := calculateNumElements(test.shape)
		if result != test.expected {
			t.Errorf("calculateNumElements(%v) = %d, expected %d", test.shape, result, test.expected)
		}
	}
}

func TestNewTensor(t *testing.T) {
	t.Run("zero allocation", func(t *testing.T) {
		tensor, err := NewTensor("w", []int{2, 3}, nil)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tensor.NumElems != 6 || len(tensor.Data) != 6 {
			t.Errorf("Expected 6 elements, got NumElems=%d len=%d", tensor.NumElems, len(tensor.Data))
		}
	})

	t.Run("uses provided storage", func(t *testing.T) {
		data := []float64{1, 2, 3}
		tensor, err := NewTensor("b", []int{3}, data)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		data[0] = 42
		if tensor.Data[0] != 42 {
			t.Error("Expected tensor to share the provided backing slice")
		}
	})

	t.Run("invalid inputs", func(t *testing.T) {
		if _, err := NewTensor("x", []int{0, 3}, nil); err == nil {
			t.Error("Expected error for zero dimension")
		}
		if _, err := NewTensor("x", []int{}, nil); err == nil {
			t.Error("Expected error for empty shape")
		}
		if _, err := NewTensor("x", []int{2}, []float64{1, 2, 3}); err == nil {
			t.Error("Expected error for data length mismatch")
		}
	})
}

func TestTensorClone(t *testing.T) {
	original, _ := NewTensor("w", []int{2}, []float64{1, 2})
	clone := original.Clone()

	clone.Data[0] = 99
	clone.Shape[0] = 7
	if original.Data[0] != 1 || original.Shape[0] != 2 {
		t.Error("Clone shares memory with the original")
	}
	if !reflect.DeepEqual(original.Name, clone.Name) {
		t.Errorf("Expected name %s, got %s", original.Name, clone.Name)
	}
}
