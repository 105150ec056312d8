package dataset

import (
	"fmt"
	"strings"
)

// Reserved tokens. PadToken always maps to index 0.
const (
	PadToken = "<pad>"
	EOSToken = "<eos>"
	UNKToken = "<unk>"
)

// Encoder maps a line of text onto token ids
type Encoder interface {
	Encode(line string) ([]int, error)
	VocabSize() int
	PadIndex() int
}

// Lang is a word-level vocabulary built from a whitespace-tokenized corpus.
// Ids are assigned in order of first appearance after the special tokens.
type Lang struct {
	word2id map[string]int
	id2word []string
}

// NewLang builds a vocabulary from lines. PadToken and EOSToken are always
// present; extra special tokens follow them in the given order.
func NewLang(lines []string, special ...string) *Lang {
	l := &Lang{word2id: make(map[string]int)}
	l.add(PadToken)
	l.add(EOSToken)
	for _, s := range special {
		l.add(s)
	}
	for _, line := range lines {
		for _, w := range strings.Fields(line) {
			l.add(w)
		}
	}
	return l
}

func (l *Lang) add(word string) {
	if _, ok := l.word2id[word]; ok {
		return
	}
	l.word2id[word] = len(l.id2word)
	l.id2word = append(l.id2word, word)
}

// Encode splits line on whitespace and appends EOSToken. Words missing from
// the vocabulary map to UNKToken when the vocabulary has one.
func (l *Lang) Encode(line string) ([]int, error) {
	words := strings.Fields(line)
	ids := make([]int, 0, len(words)+1)
	for _, w := range words {
		id, ok := l.word2id[w]
		if !ok {
			if id, ok = l.word2id[UNKToken]; !ok {
				return nil, fmt.Errorf("word %q not in vocabulary", w)
			}
		}
		ids = append(ids, id)
	}
	return append(ids, l.word2id[EOSToken]), nil
}

// Decode maps ids back onto words
func (l *Lang) Decode(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id >= 0 && id < len(l.id2word) {
			out[i] = l.id2word[id]
		} else {
			out[i] = UNKToken
		}
	}
	return out
}

func (l *Lang) ID(word string) (int, bool) {
	id, ok := l.word2id[word]
	return id, ok
}

func (l *Lang) VocabSize() int {
	return len(l.id2word)
}

func (l *Lang) PadIndex() int {
	return l.word2id[PadToken]
}
