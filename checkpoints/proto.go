package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of the binary checkpoint. Field numbers are stable; new fields
// must take new numbers.
//
//	Checkpoint      { 1 model_spec, 2 repeated weights, 3 training_state, 4 optimizer_state, 5 metadata }
//	ModelSpec       { 1 type, 2 vocab_size, 3 emb_size, 4 hidden_size, 5 weight_tying, 6 pad_index }
//	WeightTensor    { 1 name, 2 packed shape, 3 packed double data }
//	TrainingState   { 1 epoch, 2 step, 3 learning_rate, 4 best_perplexity, 5 best_loss, 6 total_steps }
//	OptimizerState  { 1 type, 2 parameters (JSON), 3 repeated state_data }
//	OptimizerTensor { 1 name, 2 packed shape, 3 packed double data, 4 state_type }
//	Metadata        { 1 version, 2 framework, 3 created_at (unix nanos), 4 description, 5 repeated tags }

// MarshalProto encodes a checkpoint in the protobuf wire format
func MarshalProto(cp *Checkpoint) ([]byte, error) {
	var b []byte

	b = appendMessage(b, 1, marshalModelSpec(cp.ModelSpec))
	for _, w := range cp.Weights {
		b = appendMessage(b, 2, marshalTensor(w.Name, w.Shape, w.Data, ""))
	}
	b = appendMessage(b, 3, marshalTrainingState(cp.TrainingState))

	if cp.OptimizerState != nil {
		msg, err := marshalOptimizerState(cp.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 4, msg)
	}

	b = appendMessage(b, 5, marshalMetadata(cp.Metadata))
	return b, nil
}

// UnmarshalProto decodes a checkpoint written by MarshalProto
func UnmarshalProto(data []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		var err error
		switch num {
		case 1:
			cp.ModelSpec, err = unmarshalModelSpec(msg)
		case 2:
			var w WeightTensor
			w.Name, w.Shape, w.Data, _, err = unmarshalTensor(msg)
			cp.Weights = append(cp.Weights, w)
		case 3:
			cp.TrainingState, err = unmarshalTrainingState(msg)
		case 4:
			cp.OptimizerState, err = unmarshalOptimizerState(msg)
		case 5:
			cp.Metadata, err = unmarshalMetadata(msg)
		}
		return n, err
	})
	if err != nil {
		return nil, err
	}

	return cp, nil
}

func marshalModelSpec(spec ModelSpec) []byte {
	var b []byte
	b = appendString(b, 1, spec.Type)
	b = appendInt(b, 2, spec.VocabSize)
	b = appendInt(b, 3, spec.EmbSize)
	b = appendInt(b, 4, spec.HiddenSize)
	b = appendBool(b, 5, spec.WeightTying)
	b = appendInt(b, 6, spec.PadIndex)
	return b
}

func unmarshalModelSpec(data []byte) (ModelSpec, error) {
	var spec ModelSpec
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			spec.Type = v
			return n, nil
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case 2:
				spec.VocabSize = int(int64(v))
			case 3:
				spec.EmbSize = int(int64(v))
			case 4:
				spec.HiddenSize = int(int64(v))
			case 5:
				spec.WeightTying = protowire.DecodeBool(v)
			case 6:
				spec.PadIndex = int(int64(v))
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return spec, err
}

func marshalTensor(name string, shape []int, data []float64, stateType string) []byte {
	var b []byte
	b = appendString(b, 1, name)
	b = appendPackedInts(b, 2, shape)
	b = appendPackedDoubles(b, 3, data)
	b = appendString(b, 4, stateType)
	return b
}

func unmarshalTensor(data []byte) (name string, shape []int, values []float64, stateType string, err error) {
	err = consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			name = v
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			stateType = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			ints, err := decodePackedInts(packed)
			shape = append(shape, ints...)
			return n, err
		case num == 3 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			doubles, err := decodePackedDoubles(packed)
			values = append(values, doubles...)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return name, shape, values, stateType, err
}

func marshalTrainingState(state TrainingState) []byte {
	var b []byte
	b = appendInt(b, 1, state.Epoch)
	b = appendInt(b, 2, state.Step)
	b = appendDouble(b, 3, state.LearningRate)
	b = appendDouble(b, 4, state.BestPerplexity)
	b = appendDouble(b, 5, state.BestLoss)
	b = appendInt(b, 6, state.TotalSteps)
	return b
}

func unmarshalTrainingState(data []byte) (TrainingState, error) {
	var state TrainingState
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case 1:
				state.Epoch = int(int64(v))
			case 2:
				state.Step = int(int64(v))
			case 6:
				state.TotalSteps = int(int64(v))
			}
			return n, nil
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			switch num {
			case 3:
				state.LearningRate = math.Float64frombits(v)
			case 4:
				state.BestPerplexity = math.Float64frombits(v)
			case 5:
				state.BestLoss = math.Float64frombits(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return state, err
}

func marshalOptimizerState(state *OptimizerState) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, state.Type)

	if len(state.Parameters) > 0 {
		params, err := json.Marshal(state.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode optimizer parameters: %v", err)
		}
		b = appendMessage(b, 2, params)
	}

	for _, t := range state.StateData {
		b = appendMessage(b, 3, marshalTensor(t.Name, t.Shape, t.Data, t.StateType))
	}
	return b, nil
}

func unmarshalOptimizerState(data []byte) (*OptimizerState, error) {
	state := &OptimizerState{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		switch num {
		case 1:
			state.Type = string(msg)
		case 2:
			if err := json.Unmarshal(msg, &state.Parameters); err != nil {
				return n, fmt.Errorf("failed to decode optimizer parameters: %v", err)
			}
		case 3:
			var t OptimizerTensor
			var err error
			t.Name, t.Shape, t.Data, t.StateType, err = unmarshalTensor(msg)
			if err != nil {
				return n, err
			}
			state.StateData = append(state.StateData, t)
		}
		return n, nil
	})
	return state, err
}

func marshalMetadata(meta CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, meta.Version)
	b = appendString(b, 2, meta.Framework)
	if !meta.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(meta.CreatedAt.UnixNano()))
	}
	b = appendString(b, 4, meta.Description)
	for _, tag := range meta.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func unmarshalMetadata(data []byte) (CheckpointMetadata, error) {
	var meta CheckpointMetadata
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 3 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			meta.CreatedAt = time.Unix(0, int64(v))
			return n, nil
		}
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeString(b)
		switch num {
		case 1:
			meta.Version = v
		case 2:
			meta.Framework = v
		case 4:
			meta.Description = v
		case 5:
			meta.Tags = append(meta.Tags, v)
		}
		return n, nil
	})
	return meta, err
}

// consumeFields walks every field of a message, handing the bytes after the tag to fn.
// fn returns the number of bytes it consumed, or a negative protowire error code.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		data = data[m:]
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if math.Float64bits(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func decodePackedInts(packed []byte) ([]int, error) {
	var out []int
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(int64(v)))
		packed = packed[n:]
	}
	return out, nil
}

func decodePackedDoubles(packed []byte) ([]float64, error) {
	if len(packed)%8 != 0 {
		return nil, fmt.Errorf("packed double field has %d bytes, not a multiple of 8", len(packed))
	}
	out := make([]float64, 0, len(packed)/8)
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed64(packed)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		packed = packed[n:]
	}
	return out, nil
}
