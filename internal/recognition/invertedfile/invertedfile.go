// Package invertedfile stores one posting list per vocabulary word. Each
// posting records an image that observed the word and the weight the word
// has in that image's signature.
package invertedfile

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/bigarray"
)

const defaultBlockSize = 4096

type Posting struct {
	Image  int32   `msgpack:"i" json:"image"`
	Weight float32 `msgpack:"w" json:"weight"`
}

type PostingList = bigarray.Array[Posting]

// Store holds exactly NumWords posting lists. Entries are only ever appended
// or dropped all at once.
type Store struct {
	lists     []*PostingList
	blockSize int
}

func New(numWords, blockSize int) *Store {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	s := &Store{blockSize: blockSize}
	s.Resize(numWords)
	return s
}

// Resize discards all postings and creates numWords empty lists.
func (s *Store) Resize(numWords int) {
	lists := make([]*PostingList, numWords)
	for i := range lists {
		lists[i] = s.newList()
	}
	s.lists = lists
	if len(s.lists) != numWords {
		panic(fmt.Sprintf("invertedfile: have %d posting lists after resize to %d", len(s.lists), numWords))
	}
}

// Post appends one entry to the list of word.
func (s *Store) Post(word int, image int32, weight float32) {
	s.lists[word].Append(Posting{Image: image, Weight: weight})
}

// Postings returns the list for word in indexing order. Callers must not
// mutate it.
func (s *Store) Postings(word int) *PostingList {
	return s.lists[word]
}

func (s *Store) NumWords() int {
	return len(s.lists)
}

// Sizes returns the length of every posting list.
func (s *Store) Sizes() []int {
	sizes := make([]int, len(s.lists))
	for i, l := range s.lists {
		sizes[i] = l.Len()
	}
	return sizes
}

// ClearAll empties every list and keeps the vocabulary size.
func (s *Store) ClearAll() {
	s.Resize(len(s.lists))
}

func (s *Store) newList() *PostingList {
	return bigarray.New[Posting](4, s.blockSize)
}
