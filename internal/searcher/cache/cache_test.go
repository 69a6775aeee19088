package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	gets int
}

func newMemRemote() *memRemote { return &memRemote{data: map[string][]byte{}} }

func (m *memRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memRemote) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

var feats = [][]float32{{0, 1}, {2, 3}}

func ver(gen uint64) recognition.Version {
	return recognition.Version{Epoch: "epoch-a", Generation: gen}
}

// cached reports whether the query is present in either tier.
func cached(c *QueryCache, v recognition.Version, features [][]float32, limit int) (*recognition.QueryResult, bool) {
	return c.lookup(context.Background(), BuildKey(v, features, limit))
}

func result(id string) *recognition.QueryResult {
	return &recognition.QueryResult{
		Matches:    []recognition.Match{{ImageID: id, Score: 0.25, CommonWords: 2}},
		Candidates: 1,
		Words:      2,
	}
}

func TestBuildKey(t *testing.T) {
	k := BuildKey(ver(1), feats, 10)
	assert.True(t, strings.HasPrefix(k, keyPrefix))
	assert.Equal(t, k, BuildKey(ver(1), [][]float32{{0, 1}, {2, 3}}, 10))
	assert.NotEqual(t, k, BuildKey(ver(2), feats, 10))
	assert.NotEqual(t, k, BuildKey(recognition.Version{Epoch: "epoch-b", Generation: 1}, feats, 10))
	assert.NotEqual(t, k, BuildKey(ver(1), feats, 5))
	assert.NotEqual(t, k, BuildKey(ver(1), [][]float32{{0, 1, 2, 3}}, 10))
}

func TestGetOrComputeLocal(t *testing.T) {
	c, err := New(8, nil, time.Minute)
	require.NoError(t, err)

	calls := 0
	compute := func() (*recognition.QueryResult, error) {
		calls++
		return result("cat1"), nil
	}
	r, hit, err := c.GetOrCompute(context.Background(), ver(1), feats, 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "cat1", r.Matches[0].ImageID)

	_, hit, err = c.GetOrCompute(context.Background(), ver(1), feats, 10, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	_, hit, _ = c.GetOrCompute(context.Background(), ver(2), feats, 10, compute)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.Equal(t, "disabled", s.Remote)
}

func TestComputeErrorIsNotCached(t *testing.T) {
	c, err := New(8, nil, time.Minute)
	require.NoError(t, err)
	boom := errors.New("boom")
	_, _, err = c.GetOrCompute(context.Background(), ver(1), feats, 10, func() (*recognition.QueryResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := cached(c, ver(1), feats, 10)
	assert.False(t, ok)
}

func TestRemoteTierIsShared(t *testing.T) {
	remote := newMemRemote()
	a, err := New(8, remote, time.Minute)
	require.NoError(t, err)
	b, err := New(8, remote, time.Minute)
	require.NoError(t, err)

	_, _, err = a.GetOrCompute(context.Background(), ver(3), feats, 5, func() (*recognition.QueryResult, error) {
		return result("dog1"), nil
	})
	require.NoError(t, err)

	r, hit, err := b.GetOrCompute(context.Background(), ver(3), feats, 5, func() (*recognition.QueryResult, error) {
		return nil, errors.New("must be served from redis")
	})
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, result("dog1"), r)
	assert.Equal(t, int64(1), b.Stats().RemoteHits)

	_, hit, err = b.GetOrCompute(context.Background(), ver(3), feats, 5, nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1), b.Stats().LocalHits)
}

func TestEnginesDoNotShareEntries(t *testing.T) {
	remote := newMemRemote()
	cfg := config.Default().Recognition
	words := func(id float32) [][]float32 { return [][]float32{{id}} }

	first, err := recognition.NewEngine(firstComponent{}, 4, cfg)
	require.NoError(t, err)
	_, err = first.AddImage("a", words(1))
	require.NoError(t, err)
	second, err := recognition.NewEngine(firstComponent{}, 4, cfg)
	require.NoError(t, err)
	_, err = second.AddImage("b", words(1))
	require.NoError(t, err)
	require.Equal(t, first.Generation(), second.Generation())

	c1, err := New(8, remote, time.Minute)
	require.NoError(t, err)
	c2, err := New(8, remote, time.Minute)
	require.NoError(t, err)

	query := words(1)
	r1, _, err := c1.GetOrCompute(context.Background(), first.Version(), query, 5, func() (*recognition.QueryResult, error) {
		return first.Query(query, 5)
	})
	require.NoError(t, err)
	assert.Equal(t, "a", r1.Matches[0].ImageID)

	r2, hit, err := c2.GetOrCompute(context.Background(), second.Version(), query, 5, func() (*recognition.QueryResult, error) {
		return second.Query(query, 5)
	})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, r2.Matches, 1)
	assert.Equal(t, "b", r2.Matches[0].ImageID)
}

// firstComponent maps a feature to the word named by its first component.
type firstComponent struct{}

func (firstComponent) FindNearest(f []float32) (int, bool) {
	if len(f) == 0 {
		return -1, false
	}
	return int(f[0]), true
}

func TestInvalidate(t *testing.T) {
	remote := newMemRemote()
	c, err := New(8, remote, time.Minute)
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(context.Background(), ver(1), feats, 5, func() (*recognition.QueryResult, error) {
		return result("x"), nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background()))
	assert.Zero(t, c.Stats().LocalEntries)
	assert.Empty(t, remote.data)
	_, ok := cached(c, ver(1), feats, 5)
	assert.False(t, ok)
}

func TestRemoteFailureOpensBreaker(t *testing.T) {
	remote := newMemRemote()
	remote.err = errors.New("connection refused")
	c, err := New(8, remote, time.Minute)
	require.NoError(t, err)

	var computed atomic.Int32
	for i := 0; i < 10; i++ {
		_, _, err := c.GetOrCompute(context.Background(), ver(uint64(i)), feats, 5, func() (*recognition.QueryResult, error) {
			computed.Add(1)
			return result("y"), nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(10), computed.Load())
	assert.Equal(t, "open", c.Stats().Remote)
	assert.Less(t, remote.gets, 20)
}

func TestConcurrentCallersComputeOnce(t *testing.T) {
	c, err := New(8, nil, time.Minute)
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), ver(1), feats, 5, func() (*recognition.QueryResult, error) {
				calls.Add(1)
				<-release
				return result("z"), nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
