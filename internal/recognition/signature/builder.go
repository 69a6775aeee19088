// Package signature turns the local feature vectors of one image into a
// sparse, normalised word-frequency vector.
package signature

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/norm"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
)

// WordSearcher finds the vocabulary word closest to a feature vector. ok is
// false when there is nothing to match against.
type WordSearcher interface {
	FindNearest(feature []float32) (word int, ok bool)
}

// Signature is a sparse weight vector. Words and Weights are aligned and
// Words is in first-occurrence order.
type Signature struct {
	Words   []int32
	Weights []float32
	// Skipped counts features the searcher could not assign to a word.
	Skipped int
}

func (s Signature) Len() int {
	return len(s.Words)
}

// Builder keeps a dense histogram with one counter per word. The histogram is
// all zeros between calls, so a build costs O(features) rather than O(words).
// A Builder is not safe for concurrent use.
type Builder struct {
	searcher  WordSearcher
	norm      norm.Norm
	histogram []int32
	words     []int32
	weights   []float32
}

func NewBuilder(searcher WordSearcher, n norm.Norm, numWords int) *Builder {
	return &Builder{
		searcher:  searcher,
		norm:      n,
		histogram: make([]int32, numWords),
	}
}

// Build computes the signature of features. The returned slices alias the
// builder's buffers and are only valid until the next call.
func (b *Builder) Build(features [][]float32) (Signature, error) {
	b.words = b.words[:0]
	skipped := 0
	for _, f := range features {
		word, ok := b.searcher.FindNearest(f)
		if !ok {
			skipped++
			continue
		}
		if word < 0 || word >= len(b.histogram) {
			b.resetHistogram()
			return Signature{}, fmt.Errorf("%w: searcher returned %d, vocabulary has %d words",
				apperrors.ErrWordOutOfRange, word, len(b.histogram))
		}
		if b.histogram[word] == 0 {
			b.words = append(b.words, int32(word))
		}
		b.histogram[word]++
	}

	total := float32(len(features))
	b.weights = b.weights[:0]
	for _, word := range b.words {
		b.weights = append(b.weights, float32(b.histogram[word])/total)
		b.histogram[word] = 0
	}
	b.norm.Normalize(b.weights)

	return Signature{Words: b.words, Weights: b.weights, Skipped: skipped}, nil
}

func (b *Builder) resetHistogram() {
	for _, word := range b.words {
		b.histogram[word] = 0
	}
	b.words = b.words[:0]
}
