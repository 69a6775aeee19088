package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	added []string
	err   error
}

func (f *fakeIndexer) AddImage(id string, _ [][]float32) (int, error) {
	if f.err != nil {
		return -1, f.err
	}
	f.added = append(f.added, id)
	return len(f.added) - 1, nil
}

type fakeStore struct {
	mu       sync.Mutex
	status   map[string]string
	failures int
	calls    int
}

func (s *fakeStore) SetImageStatus(_ context.Context, id, status, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	if s.status == nil {
		s.status = map[string]string{}
	}
	s.status[id] = status
	return nil
}

type fakeTracker struct {
	events []analytics.Event
}

func (f *fakeTracker) Track(e analytics.Event) { f.events = append(f.events, e) }

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func encode(t *testing.T, e ingestion.ImageEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestHandleMessageIndexes(t *testing.T) {
	idx := &fakeIndexer{}
	store := &fakeStore{failures: 1}
	tracker := &fakeTracker{}
	observed := 0
	h := HandleMessage(idx, Options{
		Limits:  validator.Limits{Dimension: 2},
		Status:  store,
		Tracker: tracker,
		Retry:   fastRetry,
		Observe: func(err error, features int) {
			assert.NoError(t, err)
			observed += features
		},
	})

	err := h(context.Background(), []byte("cat1"), encode(t, ingestion.ImageEvent{
		ImageID:  "cat1",
		Features: [][]float32{{0, 1}, {1, 0}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"cat1"}, idx.added)
	assert.Equal(t, postgres.StatusIndexed, store.status["cat1"])
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 2, observed)
	require.Len(t, tracker.events, 1)
	assert.Equal(t, analytics.EventIndexImage, tracker.events[0].(analytics.IndexEvent).Type)
}

func TestHandleMessageSkipsBadPayloads(t *testing.T) {
	idx := &fakeIndexer{}
	store := &fakeStore{}
	h := HandleMessage(idx, Options{Limits: validator.Limits{Dimension: 2}, Status: store, Retry: fastRetry})

	assert.NoError(t, h(context.Background(), nil, []byte("not json")))
	assert.NoError(t, h(context.Background(), nil, encode(t, ingestion.ImageEvent{
		ImageID:  "short",
		Features: [][]float32{{1}},
	})))
	assert.Empty(t, idx.added)
	assert.Equal(t, postgres.StatusFailed, store.status["short"])
}

func TestHandleMessageVocabularyMismatchIsCommitted(t *testing.T) {
	idx := &fakeIndexer{err: fmt.Errorf("building signature: %w", apperrors.ErrWordOutOfRange)}
	store := &fakeStore{}
	tracker := &fakeTracker{}
	h := HandleMessage(idx, Options{Status: store, Tracker: tracker, Retry: fastRetry})

	err := h(context.Background(), nil, encode(t, ingestion.ImageEvent{ImageID: "x", Features: [][]float32{{1}}}))
	assert.NoError(t, err)
	assert.Equal(t, postgres.StatusFailed, store.status["x"])
	require.Len(t, tracker.events, 1)
	assert.Equal(t, analytics.EventIndexFailed, tracker.events[0].(analytics.IndexEvent).Type)
}

func TestHandleMessageOtherErrorsAreRetriedByKafka(t *testing.T) {
	idx := &fakeIndexer{err: errors.New("disk full")}
	h := HandleMessage(idx, Options{Retry: fastRetry})
	err := h(context.Background(), nil, encode(t, ingestion.ImageEvent{ImageID: "x", Features: [][]float32{{1}}}))
	assert.ErrorContains(t, err, "indexing image x")
}

func TestCatalogOutageDoesNotFailMessage(t *testing.T) {
	idx := &fakeIndexer{}
	store := &fakeStore{failures: 10}
	h := HandleMessage(idx, Options{Status: store, Retry: fastRetry})
	err := h(context.Background(), nil, encode(t, ingestion.ImageEvent{ImageID: "y", Features: [][]float32{{1}}}))
	assert.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, []string{"y"}, idx.added)
}
