package vocabulary

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// BruteForce compares a feature against every word. It is exact and fits
// vocabularies of a few thousand words; larger ones want a tree or an
// approximate searcher behind the same interface.
type BruteForce struct {
	vocab *Vocabulary
}

func NewBruteForce(v *Vocabulary) *BruteForce {
	return &BruteForce{vocab: v}
}

// FindNearest returns the id of the closest word by Euclidean distance.
// Ties go to the lowest id. ok is false for an empty vocabulary or a
// feature of the wrong dimension.
func (b *BruteForce) FindNearest(feature []float32) (int, bool) {
	if b.vocab == nil || len(b.vocab.Words) == 0 || len(feature) != b.vocab.Dimension {
		return -1, false
	}
	best := -1
	bestDist := float32(math.MaxFloat32)
	for i, w := range b.vocab.Words {
		d := vek32.Distance(feature, w)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

func (b *BruteForce) Size() int {
	return b.vocab.Size()
}

func (b *BruteForce) Dimension() int {
	return b.vocab.Dimension
}
