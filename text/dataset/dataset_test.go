package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var testCorpus = []string{
	"the cat sat",
	"a dog",
	"the dog sat on the mat",
}

func TestLang(t *testing.T) {
	lang := NewLang(testCorpus)

	if lang.PadIndex() != 0 {
		t.Errorf("Expected pad index 0, got %d", lang.PadIndex())
	}
	if id, ok := lang.ID(EOSToken); !ok || id != 1 {
		t.Errorf("Expected %s at index 1, got %d (%t)", EOSToken, id, ok)
	}
	// pad, eos, the, cat, sat, a, dog, on, mat
	if lang.VocabSize() != 9 {
		t.Errorf("Expected vocabulary size 9, got %d", lang.VocabSize())
	}

	ids, err := lang.Encode("the cat sat")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []int{2, 3, 4, 1}) {
		t.Errorf("Unexpected ids: %v", ids)
	}
	if words := lang.Decode(ids); !reflect.DeepEqual(words, []string{"the", "cat", "sat", EOSToken}) {
		t.Errorf("Unexpected decode: %v", words)
	}

	if _, err := lang.Encode("the bird"); err == nil {
		t.Error("Expected error for unknown word without <unk>")
	}

	withUnk := NewLang(testCorpus, UNKToken)
	ids, err = withUnk.Encode("the bird")
	if err != nil {
		t.Fatalf("Encode with <unk> failed: %v", err)
	}
	unk, _ := withUnk.ID(UNKToken)
	if ids[1] != unk {
		t.Errorf("Expected unknown word to map to %d, got %d", unk, ids[1])
	}
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.txt")
	if err := os.WriteFile(path, []byte(" the cat sat \n\n  \na dog\n"), 0o644); err != nil {
		t.Fatalf("Failed to write corpus: %v", err)
	}

	lines, err := ReadLines(path)
	if err != nil {
		t.Fatalf("ReadLines failed: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"the cat sat", "a dog"}) {
		t.Errorf("Unexpected lines: %q", lines)
	}

	if _, err := ReadLines(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("Expected error for missing corpus")
	}
}

func TestDatasetShiftsTargets(t *testing.T) {
	lang := NewLang(testCorpus)
	ds, err := NewDataset(testCorpus, lang)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("Expected 3 samples, got %d", ds.Len())
	}

	s, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// the cat sat <eos> -> source: the cat sat, target: cat sat <eos>
	if !reflect.DeepEqual(s.Source, []int{2, 3, 4}) || !reflect.DeepEqual(s.Target, []int{3, 4, 1}) {
		t.Errorf("Unexpected sample: %+v", s)
	}
	if ds.NumTokens() != 3+2+6 {
		t.Errorf("Expected 11 tokens, got %d", ds.NumTokens())
	}

	if _, err := ds.Get(3); err == nil {
		t.Error("Expected out of range error")
	}
}

func TestCollatePadsAndSorts(t *testing.T) {
	samples := []Sample{
		{Source: []int{5}, Target: []int{6}},
		{Source: []int{2, 3, 4}, Target: []int{3, 4, 1}},
		{Source: []int{7, 8}, Target: []int{8, 1}},
	}

	batch, err := Collate(samples, 0)
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}

	if !reflect.DeepEqual(batch.Lengths, []int{3, 2, 1}) {
		t.Errorf("Expected lengths sorted descending, got %v", batch.Lengths)
	}
	expectedSource := [][]int{{2, 3, 4}, {7, 8, 0}, {5, 0, 0}}
	expectedTarget := [][]int{{3, 4, 1}, {8, 1, 0}, {6, 0, 0}}
	if !reflect.DeepEqual(batch.Source, expectedSource) {
		t.Errorf("Unexpected source: %v", batch.Source)
	}
	if !reflect.DeepEqual(batch.Target, expectedTarget) {
		t.Errorf("Unexpected target: %v", batch.Target)
	}
	if batch.NumTokens != 6 {
		t.Errorf("Expected 6 tokens, got %d", batch.NumTokens)
	}
	if batch.Size() != 3 || batch.MaxLen() != 3 {
		t.Errorf("Unexpected size %d / max len %d", batch.Size(), batch.MaxLen())
	}

	// Input samples are untouched
	if len(samples[0].Source) != 1 {
		t.Error("Collate modified its input")
	}

	if _, err := Collate(nil, 0); err == nil {
		t.Error("Expected error for empty batch")
	}
}

func TestDataLoader(t *testing.T) {
	lines := []string{"a b", "c d e", "f g", "h i j k", "l m"}
	lang := NewLang(lines)
	ds, err := NewDataset(lines, lang)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	dl, err := NewDataLoader(ds, 2, false, 0)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if dl.Len() != 3 {
		t.Errorf("Expected 3 batches, got %d", dl.Len())
	}

	batches, err := dl.Batches()
	if err != nil {
		t.Fatalf("Batches failed: %v", err)
	}
	if len(batches) != 3 || batches[2].Size() != 1 {
		t.Fatalf("Unexpected batching: %d batches", len(batches))
	}
	total := 0
	for _, b := range batches {
		total += b.NumTokens
	}
	if total != ds.NumTokens() {
		t.Errorf("Batches cover %d tokens, dataset has %d", total, ds.NumTokens())
	}

	again, _ := dl.Batches()
	if !reflect.DeepEqual(batches, again) {
		t.Error("Unshuffled loader changed order between epochs")
	}

	if _, err := NewDataLoader(ds, 0, false, 0); err == nil {
		t.Error("Expected error for zero batch size")
	}
}

func TestDataLoaderShuffleIsSeeded(t *testing.T) {
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, string(rune('a'+i))+" x")
	}
	lang := NewLang(lines)
	ds, err := NewDataset(lines, lang)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	first, _ := NewDataLoader(ds, 4, true, 42)
	second, _ := NewDataLoader(ds, 4, true, 42)
	for epoch := 0; epoch < 3; epoch++ {
		a, err := first.Batches()
		if err != nil {
			t.Fatalf("Batches failed: %v", err)
		}
		b, err := second.Batches()
		if err != nil {
			t.Fatalf("Batches failed: %v", err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("Epoch %d: same seed produced different batches", epoch)
		}
	}
}

func TestLoadTokenizerMissingFile(t *testing.T) {
	if _, err := LoadTokenizer(filepath.Join(t.TempDir(), "tokenizer.json")); err == nil {
		t.Error("Expected error for missing tokenizer file")
	}
}
