package optimizer

import (
	"fmt"

	"github.com/tsawler/go-rnnlm/checkpoints"
	"github.com/tsawler/go-rnnlm/tensor"
)

// Common helper functions for optimizer state management

// extractSetState copies every tensor of ps into state tensors named "<stateType>_<index>"
func extractSetState(ps *tensor.ParameterSet, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, ps.Len())
	for i, t := range ps.Tensors() {
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		out = append(out, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", stateType, i),
			Shape:     append([]int(nil), t.Shape...),
			Data:      data,
			StateType: stateType,
		})
	}
	return out
}

// restoreSetState copies the state tensors of stateType back into ps by index
func restoreSetState(ps *tensor.ParameterSet, stateData []checkpoints.OptimizerTensor, stateType string) error {
	restored := 0
	for _, st := range stateData {
		if st.StateType != stateType {
			continue
		}

		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= ps.Len() {
			return fmt.Errorf("invalid buffer index in tensor name: %s", st.Name)
		}

		target := ps.At(idx)
		if len(st.Data) != len(target.Data) {
			return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
				st.Name, len(target.Data), len(st.Data))
		}
		copy(target.Data, st.Data)
		restored++
	}

	if restored != ps.Len() {
		return fmt.Errorf("expected %d %s tensors, got %d", ps.Len(), stateType, restored)
	}
	return nil
}

// extractBufferIndex extracts the buffer index from state tensor names like "average_accumulator_3"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// extractFloat64Param safely extracts a float64 parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a counter from the state map. Values
// decoded from JSON arrive as float64, in-memory state keeps its Go type.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	case int64:
		return uint64(val)
	}
	return defaultValue
}

// extractFloat64SliceParam extracts a list of floats from the state map
func extractFloat64SliceParam(params map[string]interface{}, key string) []float64 {
	switch val := params[key].(type) {
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	case []interface{}:
		out := make([]float64, 0, len(val))
		for _, v := range val {
			if f, ok := v.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}
