package main

import (
	"fmt"

	"github.com/tsawler/go-rnnlm/text/dataset"
	"github.com/tsawler/go-rnnlm/training"
)

type corpora struct {
	encoder dataset.Encoder
	train   *dataset.DataLoader
	dev     *dataset.DataLoader
	test    *dataset.DataLoader
}

// loadCorpora reads the three splits and batches them. Without a tokenizer
// file the vocabulary is built from the training split, with unseen dev and
// test words mapped to the unknown token. Only the training loader shuffles.
func loadCorpora(config training.Config) (*corpora, error) {
	trainLines, err := dataset.ReadLines(config.TrainPath)
	if err != nil {
		return nil, err
	}
	devLines, err := dataset.ReadLines(config.DevPath)
	if err != nil {
		return nil, err
	}
	testLines, err := dataset.ReadLines(config.TestPath)
	if err != nil {
		return nil, err
	}

	var enc dataset.Encoder
	if config.TokenizerFile != "" {
		enc, err = dataset.LoadTokenizer(config.TokenizerFile)
		if err != nil {
			return nil, err
		}
	} else {
		enc = dataset.NewLang(trainLines, dataset.UNKToken)
	}

	c := &corpora{encoder: enc}
	splits := []struct {
		name      string
		lines     []string
		batchSize int
		shuffle   bool
		loader    **dataset.DataLoader
	}{
		{"train", trainLines, config.TrainBatchSize, config.Shuffle, &c.train},
		{"dev", devLines, config.DevBatchSize, false, &c.dev},
		{"test", testLines, config.TestBatchSize, false, &c.test},
	}
	for _, s := range splits {
		ds, err := dataset.NewDataset(s.lines, enc)
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", s.name, err)
		}
		loader, err := dataset.NewDataLoader(ds, s.batchSize, s.shuffle, config.Seed)
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", s.name, err)
		}
		*s.loader = loader
	}
	return c, nil
}
