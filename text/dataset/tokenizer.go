package dataset

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// TokenizerEncoder encodes lines with a pretrained tokenizer loaded from a
// tokenizer.json file. The vocabulary must contain PadToken.
type TokenizerEncoder struct {
	tokenizer *tk.Tokenizer
	vocabSize int
	padIndex  int
	eosIndex  int
}

// LoadTokenizer loads a tokenizer file and resolves the pad and eos ids
func LoadTokenizer(path string) (*TokenizerEncoder, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %v", path, err)
	}

	vocab := t.GetVocab(true)
	pad, ok := vocab[PadToken]
	if !ok {
		return nil, fmt.Errorf("tokenizer %s has no %s token", path, PadToken)
	}
	eos, ok := vocab[EOSToken]
	if !ok {
		eos = -1
	}

	return &TokenizerEncoder{
		tokenizer: t,
		vocabSize: len(vocab),
		padIndex:  pad,
		eosIndex:  eos,
	}, nil
}

// Encode tokenizes line and appends EOSToken when the vocabulary has one
func (e *TokenizerEncoder) Encode(line string) ([]int, error) {
	enc, err := e.tokenizer.EncodeSingle(line)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %v", line, err)
	}
	ids := make([]int, 0, len(enc.Ids)+1)
	for _, id := range enc.Ids {
		ids = append(ids, int(id))
	}
	if e.eosIndex >= 0 && (len(ids) == 0 || ids[len(ids)-1] != e.eosIndex) {
		ids = append(ids, e.eosIndex)
	}
	return ids, nil
}

func (e *TokenizerEncoder) VocabSize() int {
	return e.vocabSize
}

func (e *TokenizerEncoder) PadIndex() int {
	return e.padIndex
}
