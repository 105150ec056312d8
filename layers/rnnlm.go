package layers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rnnlm/checkpoints"
	"github.com/tsawler/go-rnnlm/tensor"
	"github.com/tsawler/go-rnnlm/text/dataset"
)

// Parameter names of the recurrent language model
const (
	EmbeddingWeight = "embedding.weight"
	RNNWeightIH     = "rnn.weight_ih"
	RNNWeightHH     = "rnn.weight_hh"
	RNNBias         = "rnn.bias"
	OutputWeight    = "output.weight"
	OutputBias      = "output.bias"
)

// RNNLMConfig holds the architecture of the recurrent language model
type RNNLMConfig struct {
	VocabSize   int     `json:"vocab_size"`
	EmbSize     int     `json:"emb_size"`
	HiddenSize  int     `json:"hidden_size"`
	EmbDropout  float64 `json:"emb_dropout"`
	OutDropout  float64 `json:"out_dropout"`
	WeightTying bool    `json:"weight_tying"`
	PadIndex    int     `json:"pad_index"`
	InitRange   float64 `json:"init_range"`
	Seed        int64   `json:"seed"`
}

// DefaultRNNLMConfig returns the default architecture for a vocabulary
func DefaultRNNLMConfig(vocabSize int) RNNLMConfig {
	return RNNLMConfig{
		VocabSize:  vocabSize,
		EmbSize:    300,
		HiddenSize: 300,
		InitRange:  0.1,
		Seed:       1,
	}
}

// BuildSpec compiles the layer specification of the model
func (c RNNLMConfig) BuildSpec() (*ModelSpec, error) {
	if c.WeightTying && c.EmbSize != c.HiddenSize {
		return nil, fmt.Errorf("weight tying requires emb_size == hidden_size (%d != %d)", c.EmbSize, c.HiddenSize)
	}
	if c.PadIndex < 0 || c.PadIndex >= c.VocabSize {
		return nil, fmt.Errorf("pad index %d outside vocabulary of %d", c.PadIndex, c.VocabSize)
	}

	tiedTo := ""
	if c.WeightTying {
		tiedTo = "embedding"
	}

	lf := NewFactory()
	return NewModelBuilder(c.VocabSize).
		AddLayer(lf.CreateEmbeddingSpec(c.VocabSize, c.EmbSize, c.PadIndex, "embedding")).
		AddLayer(lf.CreateDropoutSpec(c.EmbDropout, "emb_dropout")).
		AddLayer(lf.CreateElmanSpec(c.EmbSize, c.HiddenSize, "rnn")).
		AddLayer(lf.CreateDropoutSpec(c.OutDropout, "out_dropout")).
		AddLayer(lf.CreateDenseSpec(c.HiddenSize, c.VocabSize, tiedTo, "output")).
		Compile()
}

// RNNLM is a single-layer Elman recurrent language model:
//
//	x_t = dropout(E[w_t])
//	h_t = tanh(W_ih x_t + W_hh h_{t-1} + b)
//	y_t = W_out dropout(h_t) + b_out
//
// The matrices are gonum views over the tensors of the parameter set, so
// in-place updates to the set are seen by the next forward pass.
type RNNLM struct {
	config RNNLMConfig
	spec   *ModelSpec

	params *tensor.ParameterSet
	grads  *tensor.ParameterSet

	emb, wih, whh, wout     *mat.Dense
	bh, bout                []float64
	gEmb, gWih, gWhh, gWout *mat.Dense
	gBh, gBout              []float64

	training bool
	rng      *rand.Rand
}

// NewRNNLM builds and initializes a model
func NewRNNLM(config RNNLMConfig) (*RNNLM, error) {
	spec, err := config.BuildSpec()
	if err != nil {
		return nil, err
	}

	tensors := make([]*tensor.Tensor, 0, len(spec.ParameterShapes))
	for _, p := range spec.ParameterShapes {
		t, err := tensor.NewTensor(p.Name, p.Shape, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate %s: %v", p.Name, err)
		}
		tensors = append(tensors, t)
	}
	params, err := tensor.NewParameterSet(tensors...)
	if err != nil {
		return nil, err
	}

	m := &RNNLM{
		config:   config,
		spec:     spec,
		params:   params,
		grads:    tensor.ZerosLike(params),
		training: true,
		rng:      rand.New(rand.NewSource(config.Seed)),
	}
	m.bindViews()
	m.initWeights()
	return m, nil
}

func (m *RNNLM) bindViews() {
	V, E, H := m.config.VocabSize, m.config.EmbSize, m.config.HiddenSize

	view := func(ps *tensor.ParameterSet, name string, r, c int) *mat.Dense {
		t, _ := ps.Get(name)
		return mat.NewDense(r, c, t.Data)
	}
	vec := func(ps *tensor.ParameterSet, name string) []float64 {
		t, _ := ps.Get(name)
		return t.Data
	}

	m.emb = view(m.params, EmbeddingWeight, V, E)
	m.wih = view(m.params, RNNWeightIH, H, E)
	m.whh = view(m.params, RNNWeightHH, H, H)
	m.bh = vec(m.params, RNNBias)
	m.bout = vec(m.params, OutputBias)

	m.gEmb = view(m.grads, EmbeddingWeight, V, E)
	m.gWih = view(m.grads, RNNWeightIH, H, E)
	m.gWhh = view(m.grads, RNNWeightHH, H, H)
	m.gBh = vec(m.grads, RNNBias)
	m.gBout = vec(m.grads, OutputBias)

	if m.config.WeightTying {
		m.wout, m.gWout = m.emb, m.gEmb
	} else {
		m.wout = view(m.params, OutputWeight, V, H)
		m.gWout = view(m.grads, OutputWeight, V, H)
	}
}

// initWeights draws embeddings and the output projection from
// U(-InitRange, InitRange), recurrent weights from U(-1/sqrt(H), 1/sqrt(H)),
// and zeroes biases and the padding row.
func (m *RNNLM) initWeights() {
	uniform := func(data []float64, r float64) {
		for i := range data {
			data[i] = (2*m.rng.Float64() - 1) * r
		}
	}

	initRange := m.config.InitRange
	if initRange <= 0 {
		initRange = 0.1
	}
	rnnRange := 1 / math.Sqrt(float64(m.config.HiddenSize))

	for _, t := range m.params.Tensors() {
		switch t.Name {
		case EmbeddingWeight, OutputWeight:
			uniform(t.Data, initRange)
		case RNNWeightIH, RNNWeightHH:
			uniform(t.Data, rnnRange)
		default:
			t.Zero()
		}
	}

	pad := m.emb.RawRowView(m.config.PadIndex)
	for i := range pad {
		pad[i] = 0
	}
}

// ForwardResult holds the per-step logits of a batch plus the activations
// needed to backpropagate through time
type ForwardResult struct {
	// Logits[t] is batch x vocab for time step t
	Logits []*mat.Dense

	batch    *dataset.Batch
	inputs   []*mat.Dense // embeddings after dropout
	hidden   []*mat.Dense // hidden[0] is the zero state, hidden[t+1] follows step t
	outputs  []*mat.Dense // hidden states after dropout
	embMasks []*mat.Dense
	outMasks []*mat.Dense
}

func (r *ForwardResult) Steps() int {
	return len(r.Logits)
}

func (r *ForwardResult) Batch() *dataset.Batch {
	return r.batch
}

// Forward runs the recurrence over a padded batch starting from a zero
// hidden state. Dropout is applied only in training mode.
func (m *RNNLM) Forward(batch *dataset.Batch) (*ForwardResult, error) {
	if batch == nil || batch.Size() == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	B, T := batch.Size(), batch.MaxLen()
	V, E, H := m.config.VocabSize, m.config.EmbSize, m.config.HiddenSize

	res := &ForwardResult{
		Logits:   make([]*mat.Dense, T),
		batch:    batch,
		inputs:   make([]*mat.Dense, T),
		hidden:   make([]*mat.Dense, T+1),
		outputs:  make([]*mat.Dense, T),
		embMasks: make([]*mat.Dense, T),
		outMasks: make([]*mat.Dense, T),
	}
	res.hidden[0] = mat.NewDense(B, H, nil)

	var rec mat.Dense
	for t := 0; t < T; t++ {
		x := mat.NewDense(B, E, nil)
		for b := 0; b < B; b++ {
			if len(batch.Source[b]) != T {
				return nil, fmt.Errorf("sequence %d has length %d, expected %d", b, len(batch.Source[b]), T)
			}
			id := batch.Source[b][t]
			if id < 0 || id >= V {
				return nil, fmt.Errorf("token id %d outside vocabulary of %d", id, V)
			}
			copy(x.RawRowView(b), m.emb.RawRowView(id))
		}
		if mask := m.dropoutMask(B, E, m.config.EmbDropout); mask != nil {
			x.MulElem(x, mask)
			res.embMasks[t] = mask
		}
		res.inputs[t] = x

		h := mat.NewDense(B, H, nil)
		h.Mul(x, m.wih.T())
		rec.Reset()
		rec.Mul(res.hidden[t], m.whh.T())
		h.Add(h, &rec)
		addRowVector(h, m.bh)
		h.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, h)
		res.hidden[t+1] = h

		o := h
		if mask := m.dropoutMask(B, H, m.config.OutDropout); mask != nil {
			o = mat.NewDense(B, H, nil)
			o.MulElem(h, mask)
			res.outMasks[t] = mask
		}
		res.outputs[t] = o

		logits := mat.NewDense(B, V, nil)
		logits.Mul(o, m.wout.T())
		addRowVector(logits, m.bout)
		res.Logits[t] = logits
	}

	return res, nil
}

// Backward accumulates parameter gradients from the loss gradient with
// respect to every step's logits, backpropagating through time
func (m *RNNLM) Backward(res *ForwardResult, dLogits []*mat.Dense) error {
	if res == nil {
		return fmt.Errorf("nil forward result")
	}
	T := res.Steps()
	if len(dLogits) != T {
		return fmt.Errorf("expected %d logit gradients, got %d", T, len(dLogits))
	}
	B, H := res.batch.Size(), m.config.HiddenSize
	for t, d := range dLogits {
		if r, c := d.Dims(); r != B || c != m.config.VocabSize {
			return fmt.Errorf("logit gradient %d has shape %dx%d, expected %dx%d", t, r, c, B, m.config.VocabSize)
		}
	}

	dNext := mat.NewDense(B, H, nil)
	var tmp, dH, dA, dX mat.Dense

	for t := T - 1; t >= 0; t-- {
		dl := dLogits[t]

		// Output projection
		tmp.Reset()
		tmp.Mul(dl.T(), res.outputs[t])
		m.gWout.Add(m.gWout, &tmp)
		addColumnSums(m.gBout, dl)

		dH.Reset()
		dH.Mul(dl, m.wout)
		if mask := res.outMasks[t]; mask != nil {
			dH.MulElem(&dH, mask)
		}
		dH.Add(&dH, dNext)

		// tanh'
		h := res.hidden[t+1]
		dA.Reset()
		dA.Apply(func(i, j int, v float64) float64 {
			y := h.At(i, j)
			return v * (1 - y*y)
		}, &dH)

		tmp.Reset()
		tmp.Mul(dA.T(), res.inputs[t])
		m.gWih.Add(m.gWih, &tmp)

		tmp.Reset()
		tmp.Mul(dA.T(), res.hidden[t])
		m.gWhh.Add(m.gWhh, &tmp)
		addColumnSums(m.gBh, &dA)

		// Embedding rows, padding excluded
		dX.Reset()
		dX.Mul(&dA, m.wih)
		if mask := res.embMasks[t]; mask != nil {
			dX.MulElem(&dX, mask)
		}
		for b := 0; b < B; b++ {
			id := res.batch.Source[b][t]
			if id == m.config.PadIndex {
				continue
			}
			floats.Add(m.gEmb.RawRowView(id), dX.RawRowView(b))
		}

		dNext.Mul(&dA, m.whh)
	}

	return nil
}

// dropoutMask returns an inverted dropout mask, or nil when dropout is inactive
func (m *RNNLM) dropoutMask(r, c int, rate float64) *mat.Dense {
	if !m.training || rate <= 0 {
		return nil
	}
	keep := 1 / (1 - rate)
	data := make([]float64, r*c)
	for i := range data {
		if m.rng.Float64() >= rate {
			data[i] = keep
		}
	}
	return mat.NewDense(r, c, data)
}

func (m *RNNLM) Parameters() *tensor.ParameterSet {
	return m.params
}

func (m *RNNLM) Gradients() *tensor.ParameterSet {
	return m.grads
}

// ZeroGrad clears the accumulated gradients
func (m *RNNLM) ZeroGrad() {
	m.grads.Zero()
}

// Train enables dropout
func (m *RNNLM) Train() {
	m.training = true
}

// Eval disables dropout
func (m *RNNLM) Eval() {
	m.training = false
}

func (m *RNNLM) IsTraining() bool {
	return m.training
}

// To moves parameters and gradients onto device
func (m *RNNLM) To(device tensor.DeviceType) {
	m.params.To(device)
	m.grads.To(device)
}

func (m *RNNLM) Config() RNNLMConfig {
	return m.config
}

func (m *RNNLM) Spec() *ModelSpec {
	return m.spec
}

// CheckpointSpec describes the architecture for a checkpoint
func (m *RNNLM) CheckpointSpec() checkpoints.ModelSpec {
	return checkpoints.ModelSpec{
		Type:        "elman",
		VocabSize:   m.config.VocabSize,
		EmbSize:     m.config.EmbSize,
		HiddenSize:  m.config.HiddenSize,
		WeightTying: m.config.WeightTying,
		PadIndex:    m.config.PadIndex,
	}
}

func addRowVector(d *mat.Dense, v []float64) {
	r, _ := d.Dims()
	for i := 0; i < r; i++ {
		floats.Add(d.RawRowView(i), v)
	}
}

func addColumnSums(dst []float64, d *mat.Dense) {
	r, _ := d.Dims()
	for i := 0; i < r; i++ {
		floats.Add(dst, d.RawRowView(i))
	}
}
