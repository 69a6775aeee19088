// Package registry maps the dense internal image index used by the inverted
// file to the identifier supplied by the caller.
package registry

import (
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/bigarray"
)

// Registry is append-only. Index i stays valid until Clear.
type Registry struct {
	ids *bigarray.Array[string]
}

func New(blockSize int) *Registry {
	return &Registry{ids: bigarray.New[string](100, blockSize)}
}

// Append records id and returns its internal index.
func (r *Registry) Append(id string) int {
	return r.ids.Append(id)
}

// Get resolves an internal index. An invalid index fails with
// ErrIndexOutOfRange.
func (r *Registry) Get(index int) (string, error) {
	return r.ids.Get(index)
}

func (r *Registry) Len() int {
	return r.ids.Len()
}

// IDs returns one page of identifiers in insertion order.
func (r *Registry) IDs(offset, limit int) []string {
	if limit <= 0 {
		limit = r.ids.Len()
	}
	return r.ids.Slice(offset, offset+limit)
}

// Clear drops every entry; the next Append returns 0.
func (r *Registry) Clear() {
	r.ids.Reset()
}
