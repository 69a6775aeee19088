// Package bigarray provides an append-only array stored as a list of
// fixed-size blocks. Elements keep their index for the lifetime of the array
// and a full block is never copied again, so very large arrays grow without
// relocating previously written data.
package bigarray

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
)

const (
	DefaultBlockSize   = 1 << 16
	defaultInitialSize = 8
)

// Array is an append-only block array. The first block starts small and
// doubles until it reaches the block size; every later block is allocated at
// full size. It is not safe for concurrent mutation.
type Array[T any] struct {
	blocks    [][]T
	blockSize int
	initial   int
	size      int
}

// New creates an Array whose first block starts with initial capacity and
// whose blocks hold at most blockSize elements.
func New[T any](initial, blockSize int) *Array[T] {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if initial <= 0 {
		initial = defaultInitialSize
	}
	if initial > blockSize {
		initial = blockSize
	}
	return &Array[T]{blockSize: blockSize, initial: initial}
}

// Append adds v to the end of the array and returns its index.
func (a *Array[T]) Append(v T) int {
	idx := a.size
	if len(a.blocks) == 0 {
		a.blocks = append(a.blocks, make([]T, 0, a.initial))
	}
	last := len(a.blocks) - 1
	block := a.blocks[last]
	if len(block) == cap(block) {
		if last == 0 && cap(block) < a.blockSize {
			grown := make([]T, len(block), min(cap(block)*2, a.blockSize))
			copy(grown, block)
			block = grown
		} else {
			a.blocks = append(a.blocks, make([]T, 0, a.blockSize))
			last++
			block = a.blocks[last]
		}
	}
	a.blocks[last] = append(block, v)
	a.size++
	return idx
}

// Get returns the element at index i or ErrIndexOutOfRange.
func (a *Array[T]) Get(i int) (T, error) {
	if i < 0 || i >= a.size {
		var zero T
		return zero, apperrors.IndexOutOfRange(i, a.size)
	}
	return a.At(i), nil
}

// At returns the element at index i without a bounds check beyond the one
// the runtime performs.
func (a *Array[T]) At(i int) T {
	return a.blocks[i/a.blockSize][i%a.blockSize]
}

func (a *Array[T]) Len() int {
	return a.size
}

// Range calls fn for every element in index order until fn returns false.
func (a *Array[T]) Range(fn func(i int, v T) bool) {
	idx := 0
	for _, block := range a.blocks {
		for _, v := range block {
			if !fn(idx, v) {
				return
			}
			idx++
		}
	}
}

// Slice copies the elements in [from, to) into a new slice.
func (a *Array[T]) Slice(from, to int) []T {
	from = max(from, 0)
	to = min(to, a.size)
	if from >= to {
		return []T{}
	}
	out := make([]T, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, a.At(i))
	}
	return out
}

// Reset drops every element. Blocks are released so a long-lived index that
// is cleared does not keep its peak memory.
func (a *Array[T]) Reset() {
	a.blocks = nil
	a.size = 0
}
