// Package recognition implements bag-of-visual-words image retrieval over an
// inverted file. Each image is reduced to a sparse, normalised word-frequency
// signature; a query walks the posting lists of its own words to find every
// database image sharing at least one word and ranks them by distance.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/invertedfile"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/norm"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/registry"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/signature"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/google/uuid"
)

// WordSearcher maps a feature vector to its nearest vocabulary word.
type WordSearcher = signature.WordSearcher

type Match struct {
	ImageID     string  `json:"image_id"`
	Score       float32 `json:"score"`
	CommonWords int     `json:"common_words"`
}

type QueryResult struct {
	Matches         []Match `json:"matches"`
	Candidates      int     `json:"candidates"`
	Words           int     `json:"words"`
	SkippedFeatures int     `json:"skipped_features"`
}

// Version identifies the content of one engine at one point in time. Epoch
// is unique per engine instance, so two processes at the same generation
// never share a version.
type Version struct {
	Epoch      string
	Generation uint64
}

func (v Version) String() string {
	return fmt.Sprintf("%s/%d", v.Epoch, v.Generation)
}

// Engine is safe for concurrent use. AddImage, Clear, Initialize and Restore
// are serialised behind the write lock; queries share the read lock and each
// borrows its own scratch memory.
type Engine struct {
	mu         sync.RWMutex
	searcher   WordSearcher
	norm       norm.Norm
	cfg        config.RecognitionConfig
	images     *registry.Registry
	inverted   *invertedfile.Store
	builder    *signature.Builder
	scratch    *scratchPool
	epoch      string
	generation atomic.Uint64
	skipped    atomic.Uint64
	logger     *slog.Logger
}

// NewEngine creates an empty index over a vocabulary of numWords words.
func NewEngine(searcher WordSearcher, numWords int, cfg config.RecognitionConfig) (*Engine, error) {
	if searcher == nil {
		return nil, fmt.Errorf("%w: nil word searcher", apperrors.ErrInvalidVocabulary)
	}
	n, err := norm.ParseNorm(cfg.Norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	e := &Engine{
		searcher: searcher,
		norm:     n,
		cfg:      cfg,
		images:   registry.New(cfg.RegistryBlockSize),
		inverted: invertedfile.New(0, cfg.PostingBlockSize),
		epoch:    uuid.NewString(),
		logger:   slog.Default().With("component", "recognition-engine"),
	}
	e.scratch = newScratchPool(cfg.MaxQueryScratch, nil)
	if err := e.Initialize(numWords); err != nil {
		return nil, err
	}
	return e, nil
}

// Initialize discards every image and resizes the inverted file to
// numWords posting lists.
func (e *Engine) Initialize(numWords int) error {
	if numWords <= 0 {
		return fmt.Errorf("%w: vocabulary size must be positive, got %d", apperrors.ErrInvalidVocabulary, numWords)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inverted.Resize(numWords)
	e.images.Clear()
	e.builder = signature.NewBuilder(e.searcher, e.norm, numWords)
	e.scratch.reset(func() *queryScratch {
		return &queryScratch{builder: signature.NewBuilder(e.searcher, e.norm, numWords)}
	})
	e.generation.Add(1)
	e.logger.Info("index initialized", "words", numWords, "norm", e.norm.String())
	return nil
}

// Clear drops all images and postings. The vocabulary size is kept.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
	e.logger.Info("index cleared", "words", e.inverted.NumWords())
}

func (e *Engine) clearLocked() {
	e.images.Clear()
	e.inverted.ClearAll()
	e.scratch.reset(nil)
	e.generation.Add(1)
}

// AddImage indexes the features of one image under id and returns the
// internal index assigned to it.
func (e *Engine) AddImage(id string, features [][]float32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.images.Len() >= math.MaxInt32 {
		return -1, fmt.Errorf("%w: registry is full", apperrors.ErrIndexOutOfRange)
	}
	sig, err := e.builder.Build(features)
	if err != nil {
		return -1, fmt.Errorf("building signature for image %q: %w", id, err)
	}
	idx := e.images.Append(id)
	for i, word := range sig.Words {
		e.inverted.Post(int(word), int32(idx), sig.Weights[i])
	}
	e.generation.Add(1)
	e.skipped.Add(uint64(sig.Skipped))
	e.logger.Debug("image indexed",
		"image_id", id,
		"index", idx,
		"features", len(features),
		"words", sig.Len(),
		"skipped", sig.Skipped,
	)
	return idx, nil
}

// Query returns at most limit images sharing at least one word with the
// query, most similar first. No overlap yields an empty result, not an
// error.
func (e *Engine) Query(features [][]float32, limit int) (*QueryResult, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", apperrors.ErrInvalidInput, limit)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.scratch.get()
	defer e.scratch.put(s)

	sig, err := s.builder.Build(features)
	if err != nil {
		return nil, fmt.Errorf("building query signature: %w", err)
	}
	e.skipped.Add(uint64(sig.Skipped))

	s.ensure(e.images.Len())
	defer s.restore()
	s.gather(sig, e.inverted)

	matches := make([]Match, 0, len(s.candidates))
	for i := range s.candidates {
		c := &s.candidates[i]
		id, err := e.images.Get(int(c.image))
		if err != nil {
			return nil, fmt.Errorf("resolving candidate: %w", err)
		}
		matches = append(matches, Match{
			ImageID:     id,
			Score:       e.norm.Distance(c.common),
			CommonWords: len(c.common),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score < matches[j].Score
	})
	candidates := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return &QueryResult{
		Matches:         matches,
		Candidates:      candidates,
		Words:           sig.Len(),
		SkippedFeatures: sig.Skipped,
	}, nil
}

func (e *Engine) NumImages() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.images.Len()
}

func (e *Engine) NumWords() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inverted.NumWords()
}

func (e *Engine) Norm() norm.Norm {
	return e.norm
}

// Generation changes on every mutation of the index.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Version pairs the engine's epoch with its current generation.
func (e *Engine) Version() Version {
	return Version{Epoch: e.epoch, Generation: e.generation.Load()}
}

// SkippedFeatures is the running count of features that matched no word.
func (e *Engine) SkippedFeatures() uint64 {
	return e.skipped.Load()
}

// ImageID resolves an internal index to the caller's identifier.
func (e *Engine) ImageID(index int) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.images.Get(index)
}

// ImageIDs returns one page of the registry in indexing order.
func (e *Engine) ImageIDs(offset, limit int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.images.IDs(offset, limit)
}

// PostingSizes returns the length of every posting list.
func (e *Engine) PostingSizes() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inverted.Sizes()
}

// Snapshot copies the index into a snapshot.State.
func (e *Engine) Snapshot() *snapshot.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	numWords := e.inverted.NumWords()
	state := &snapshot.State{
		NumWords: numWords,
		Norm:     e.norm,
		Images:   e.images.IDs(0, 0),
		Postings: make([][]invertedfile.Posting, numWords),
	}
	for word := 0; word < numWords; word++ {
		list := e.inverted.Postings(word)
		if list.Len() > 0 {
			state.Postings[word] = list.Slice(0, list.Len())
		}
	}
	return state
}

// Restore replaces the content of the index with state. The vocabulary size
// and norm must match the engine's.
func (e *Engine) Restore(state *snapshot.State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	if state.Norm != e.norm {
		return fmt.Errorf("%w: snapshot uses %s, engine uses %s", apperrors.ErrInvalidInput, state.Norm, e.norm)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state.NumWords != e.inverted.NumWords() {
		return fmt.Errorf("%w: snapshot has %d words, vocabulary has %d",
			apperrors.ErrInvalidVocabulary, state.NumWords, e.inverted.NumWords())
	}
	e.clearLocked()
	for _, id := range state.Images {
		e.images.Append(id)
	}
	for word, list := range state.Postings {
		for _, p := range list {
			e.inverted.Post(word, p.Image, p.Weight)
		}
	}
	e.logger.Info("index restored", "images", len(state.Images), "words", state.NumWords)
	return nil
}

// SaveSnapshot writes the index to path.
func (e *Engine) SaveSnapshot(path string) error {
	start := time.Now()
	state := e.Snapshot()
	if err := snapshot.Write(path, state); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	e.logger.Info("snapshot saved",
		"path", path,
		"images", len(state.Images),
		"duration", time.Since(start),
	)
	return nil
}

// LoadSnapshot restores the index from path.
func (e *Engine) LoadSnapshot(path string) error {
	state, err := snapshot.Read(path)
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", path, err)
	}
	return e.Restore(state)
}

// StartSnapshotLoop saves the index to path every interval when it changed
// since the last save, and once more when ctx is cancelled. observe, if not
// nil, is called with the outcome of every save. The returned channel is
// closed after the final save.
func (e *Engine) StartSnapshotLoop(ctx context.Context, path string, interval time.Duration, observe func(error)) <-chan struct{} {
	done := make(chan struct{})
	saved := e.Generation()
	save := func() {
		gen := e.Generation()
		if gen == saved {
			return
		}
		err := e.SaveSnapshot(path)
		if err != nil {
			e.logger.Error("snapshot failed", "path", path, "error", err)
		} else {
			saved = gen
		}
		if observe != nil {
			observe(err)
		}
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("snapshot loop stopping, performing final save")
				save()
				return
			case <-ticker.C:
				save()
			}
		}
	}()
	return done
}
