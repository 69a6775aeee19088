// Package norm implements the L1 and L2 norms used to normalise sparse word
// weight vectors and to compare two of them from their shared words only.
package norm

import (
	"fmt"
	"math"
	"strings"

	"github.com/viterin/vek/vek32"
)

// Norm selects the vector norm. The zero value is L2.
type Norm int

const (
	L2 Norm = iota
	L1
)

func (n Norm) String() string {
	switch n {
	case L2:
		return "L2"
	case L1:
		return "L1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(n))
	}
}

// ParseNorm accepts "l1" or "l2" in any case. An empty string selects L2.
func ParseNorm(s string) (Norm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l2":
		return L2, nil
	case "l1":
		return L1, nil
	default:
		return L2, fmt.Errorf("unknown norm %q", s)
	}
}

// CommonWord is a word present in both the query and a database image, with
// the weight each assigned to it.
type CommonWord struct {
	Word  int32
	Query float32
	Image float32
}

// Normalize rescales weights in place to unit magnitude. Only the observed
// words are passed in; unobserved words are zero and do not change either
// norm. Empty or all-zero input is left untouched.
func (n Norm) Normalize(weights []float32) {
	if len(weights) == 0 {
		return
	}
	var magnitude float32
	switch n {
	case L1:
		for _, w := range weights {
			magnitude += float32(math.Abs(float64(w)))
		}
	default:
		magnitude = float32(math.Sqrt(float64(vek32.Dot(weights, weights))))
	}
	if magnitude == 0 {
		return
	}
	vek32.MulNumber_Inplace(weights, 1/magnitude)
}

// Distance returns the distance between two normalised, non-negative
// vectors given only the words they share. Lower is more similar and two
// identical vectors score 0.
//
// L1: |q-i|_1 = Σq + Σi + Σ_common(|q-i| - q - i) = 2 + Σ_common(|q-i| - q - i)
// L2: |q-i|_2^2 = 2 - 2·Σ_common(q·i)
func (n Norm) Distance(common []CommonWord) float32 {
	var d float64
	switch n {
	case L1:
		sum := 0.0
		for _, c := range common {
			q, i := float64(c.Query), float64(c.Image)
			sum += math.Abs(q-i) - q - i
		}
		d = 2 + sum
	default:
		dot := 0.0
		for _, c := range common {
			dot += float64(c.Query) * float64(c.Image)
		}
		d = 2 - 2*dot
	}
	if d < 0 {
		return 0
	}
	return float32(d)
}
