package recognition

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/invertedfile"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/norm"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/signature"
)

// noCandidate marks an image that has not been seen by the current query.
const noCandidate int32 = -1

type candidate struct {
	image  int32
	common []norm.CommonWord
}

// queryScratch is the per-call working memory of one query. lookup maps an
// internal image index to its slot in candidates and is all noCandidate
// whenever the scratch is not in use.
type queryScratch struct {
	builder    *signature.Builder
	lookup     []int32
	candidates []candidate
}

// ensure extends lookup with sentinels so every registered image has a slot.
func (s *queryScratch) ensure(numImages int) {
	for len(s.lookup) < numImages {
		s.lookup = append(s.lookup, noCandidate)
	}
}

// gather walks the posting list of every query word and records, per
// image, the weights of the words it shares with the query.
func (s *queryScratch) gather(sig signature.Signature, store *invertedfile.Store) {
	s.candidates = s.candidates[:0]
	for wi, word := range sig.Words {
		queryWeight := sig.Weights[wi]
		store.Postings(int(word)).Range(func(_ int, p invertedfile.Posting) bool {
			slot := s.lookup[p.Image]
			if slot == noCandidate {
				slot = int32(len(s.candidates))
				s.lookup[p.Image] = slot
				s.add(p.Image)
			}
			c := &s.candidates[slot]
			c.common = append(c.common, norm.CommonWord{
				Word:  word,
				Query: queryWeight,
				Image: p.Weight,
			})
			return true
		})
	}
}

// add appends a candidate, reusing the common-word buffer of a previous query
// when one is available.
func (s *queryScratch) add(image int32) {
	n := len(s.candidates)
	if n < cap(s.candidates) {
		s.candidates = s.candidates[:n+1]
		s.candidates[n].image = image
		s.candidates[n].common = s.candidates[n].common[:0]
		return
	}
	s.candidates = append(s.candidates, candidate{image: image})
}

// restore puts every slot touched by gather back to noCandidate.
func (s *queryScratch) restore() {
	for _, c := range s.candidates {
		s.lookup[c.image] = noCandidate
	}
}

// scratchPool is a bounded free list of query scratch. Each concurrent query
// takes its own scratch so no histogram or lookup table is shared.
type scratchPool struct {
	mu      sync.Mutex
	free    []*queryScratch
	max     int
	newFunc func() *queryScratch
}

func newScratchPool(size int, newFunc func() *queryScratch) *scratchPool {
	if size <= 0 {
		size = 1
	}
	return &scratchPool{max: size, newFunc: newFunc}
}

func (p *scratchPool) get() *queryScratch {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		return s
	}
	return p.newFunc()
}

func (p *scratchPool) put(s *queryScratch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.max {
		p.free = append(p.free, s)
	}
}

// reset drops all pooled scratch and switches to a new constructor. Callers
// must hold the engine's write lock so no query owns a scratch.
func (p *scratchPool) reset(newFunc func() *queryScratch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = nil
	if newFunc != nil {
		p.newFunc = newFunc
	}
}
