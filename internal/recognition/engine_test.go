package recognition

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordOf maps a feature straight to the word in its first component. A
// negative component means the searcher has no answer.
type wordOf struct{}

func (wordOf) FindNearest(f []float32) (int, bool) {
	if len(f) == 0 || f[0] < 0 {
		return -1, false
	}
	return int(f[0]), true
}

func words(ids ...int) [][]float32 {
	out := make([][]float32, len(ids))
	for i, id := range ids {
		out[i] = []float32{float32(id), 1}
	}
	return out
}

func testConfig(n string) config.RecognitionConfig {
	return config.RecognitionConfig{
		Norm:              n,
		RegistryBlockSize: 4,
		PostingBlockSize:  4,
		MaxQueryScratch:   4,
	}
}

func newTestEngine(t testing.TB, numWords int, n string) *Engine {
	t.Helper()
	e, err := NewEngine(wordOf{}, numWords, testConfig(n))
	require.NoError(t, err)
	return e
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ImageID
	}
	return out
}

func TestNewEngineRejectsBadInput(t *testing.T) {
	_, err := NewEngine(nil, 4, testConfig("L2"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidVocabulary)

	_, err = NewEngine(wordOf{}, 0, testConfig("L2"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidVocabulary)

	_, err = NewEngine(wordOf{}, 4, testConfig("cosine"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConcreteScenario(t *testing.T) {
	for _, n := range []string{"L1", "L2"} {
		t.Run(n, func(t *testing.T) {
			e := newTestEngine(t, 4, n)
			idx, err := e.AddImage("cat1", words(0, 0, 1))
			require.NoError(t, err)
			assert.Equal(t, 0, idx)
			idx, err = e.AddImage("dog1", words(2, 3))
			require.NoError(t, err)
			assert.Equal(t, 1, idx)

			res, err := e.Query(words(0, 0, 1, 1), 10)
			require.NoError(t, err)
			require.Len(t, res.Matches, 1)
			assert.Equal(t, "cat1", res.Matches[0].ImageID)
			assert.Equal(t, 2, res.Matches[0].CommonWords)
			assert.Equal(t, 1, res.Candidates)
			assert.Equal(t, 2, res.Words)
		})
	}
}

func TestNoOverlapReturnsEmpty(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	_, err := e.AddImage("cat1", words(0, 0, 1))
	require.NoError(t, err)

	res, err := e.Query(words(3), 5)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Zero(t, res.Candidates)

	res, err = e.Query(nil, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestQueryOnEmptyIndex(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	res, err := e.Query(words(0, 1), 3)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestSelfSimilarity(t *testing.T) {
	for _, n := range []string{"L1", "L2"} {
		t.Run(n, func(t *testing.T) {
			e := newTestEngine(t, 16, n)
			_, err := e.AddImage("a", words(1, 2, 2, 3))
			require.NoError(t, err)
			_, err = e.AddImage("b", words(1, 5, 6))
			require.NoError(t, err)
			_, err = e.AddImage("c", words(2, 3, 7, 7, 7))
			require.NoError(t, err)

			res, err := e.Query(words(1, 2, 2, 3), 3)
			require.NoError(t, err)
			require.NotEmpty(t, res.Matches)
			assert.Equal(t, "a", res.Matches[0].ImageID)
			assert.InDelta(t, 0, res.Matches[0].Score, 1e-5)
		})
	}
}

func TestRankingIsMonotonic(t *testing.T) {
	e := newTestEngine(t, 32, "L2")
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		f := make([]int, 1+rng.Intn(12))
		for j := range f {
			f[j] = rng.Intn(32)
		}
		_, err := e.AddImage(fmt.Sprintf("img-%d", i), words(f...))
		require.NoError(t, err)
	}
	res, err := e.Query(words(1, 2, 3, 4, 5, 6, 7, 8), 50)
	require.NoError(t, err)
	require.NotEmpty(t, res.Matches)
	for i := 1; i < len(res.Matches); i++ {
		assert.LessOrEqual(t, res.Matches[i-1].Score, res.Matches[i].Score)
	}
}

func TestLimitRespected(t *testing.T) {
	e := newTestEngine(t, 4, "L1")
	for i := 0; i < 10; i++ {
		_, err := e.AddImage(fmt.Sprintf("img-%d", i), words(0, i%4))
		require.NoError(t, err)
	}
	res, err := e.Query(words(0), 3)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 3)
	assert.Equal(t, 10, res.Candidates)

	_, err = e.Query(words(0), 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestTiesKeepFirstSeenOrder(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	for _, id := range []string{"x", "y", "z"} {
		_, err := e.AddImage(id, words(2))
		require.NoError(t, err)
	}
	res, err := e.Query(words(2), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, ids(res.Matches))
}

func TestLookupRestoredAfterQuery(t *testing.T) {
	e := newTestEngine(t, 8, "L2")
	for i := 0; i < 6; i++ {
		_, err := e.AddImage(fmt.Sprintf("img-%d", i), words(i%3, 4))
		require.NoError(t, err)
	}
	for _, q := range [][][]float32{words(4), words(0, 1), words(7), nil} {
		_, err := e.Query(q, 2)
		require.NoError(t, err)
	}

	e.scratch.mu.Lock()
	defer e.scratch.mu.Unlock()
	require.NotEmpty(t, e.scratch.free)
	for _, s := range e.scratch.free {
		for i, slot := range s.lookup {
			assert.Equal(t, noCandidate, slot, "lookup slot %d", i)
		}
	}
}

func TestLookupRestoredAfterFailedQuery(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	_, err := e.AddImage("a", words(0, 1))
	require.NoError(t, err)

	_, err = e.Query(words(0, 9), 5)
	assert.ErrorIs(t, err, apperrors.ErrWordOutOfRange)

	res, err := e.Query(words(0), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res.Matches))
}

func TestAddImageOutOfRangeWordLeavesIndexUnchanged(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	gen := e.Generation()
	_, err := e.AddImage("bad", words(1, 4))
	assert.ErrorIs(t, err, apperrors.ErrWordOutOfRange)
	assert.Zero(t, e.NumImages())
	assert.Equal(t, gen, e.Generation())
	assert.Equal(t, []int{0, 0, 0, 0}, e.PostingSizes())
}

func TestSkippedFeaturesAreCounted(t *testing.T) {
	e := newTestEngine(t, 4, "L1")
	_, err := e.AddImage("a", [][]float32{{0}, {-1}, {1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.SkippedFeatures())

	res, err := e.Query([][]float32{{-1}, {0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedFeatures)
	assert.Equal(t, uint64(2), e.SkippedFeatures())
}

func TestResetIsIdempotent(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	_, err := e.AddImage("cat1", words(0, 1))
	require.NoError(t, err)

	require.NoError(t, e.Initialize(6))
	assert.Zero(t, e.NumImages())
	assert.Equal(t, 6, e.NumWords())
	require.NoError(t, e.Initialize(6))
	assert.Zero(t, e.NumImages())
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0}, e.PostingSizes())

	_, err = e.AddImage("cat1", words(5))
	require.NoError(t, err)
	e.Clear()
	e.Clear()
	assert.Zero(t, e.NumImages())
	assert.Equal(t, 6, e.NumWords())

	res, err := e.Query(words(5), 1)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestImageIDs(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := e.AddImage(id, words(0))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b", "c"}, e.ImageIDs(1, 2))
	assert.Len(t, e.ImageIDs(0, 0), 5)

	id, err := e.ImageID(4)
	require.NoError(t, err)
	assert.Equal(t, "e", id)
	_, err = e.ImageID(5)
	assert.ErrorIs(t, err, apperrors.ErrIndexOutOfRange)
	assert.Equal(t, []int{5, 0, 0, 0}, e.PostingSizes())
}

func TestConcurrentQueries(t *testing.T) {
	e := newTestEngine(t, 16, "L2")
	for i := 0; i < 40; i++ {
		_, err := e.AddImage(fmt.Sprintf("img-%d", i), words(i%16, (i+1)%16, (i*7)%16))
		require.NoError(t, err)
	}
	want, err := e.Query(words(1, 2, 3), 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			if g%8 == 0 {
				if _, err := e.AddImage(fmt.Sprintf("extra-%d", g), words(15)); err != nil {
					errs <- err
				}
				return
			}
			got, err := e.Query(words(1, 2, 3), 5)
			if err != nil {
				errs <- err
				return
			}
			if len(got.Matches) != len(want.Matches) {
				errs <- fmt.Errorf("got %d matches, want %d", len(got.Matches), len(want.Matches))
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.LessOrEqual(t, len(e.scratch.free), 4)
}

func TestSnapshotRestoreAnswersIdentically(t *testing.T) {
	e := newTestEngine(t, 8, "L1")
	for i := 0; i < 12; i++ {
		_, err := e.AddImage(fmt.Sprintf("img-%d", i), words(i%8, (i+3)%8, i%5))
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "index.vwsnap")
	require.NoError(t, e.SaveSnapshot(path))

	restored := newTestEngine(t, 8, "L1")
	require.NoError(t, restored.LoadSnapshot(path))
	assert.Equal(t, e.NumImages(), restored.NumImages())
	assert.Equal(t, e.PostingSizes(), restored.PostingSizes())

	q := words(0, 3, 3, 4)
	want, err := e.Query(q, 5)
	require.NoError(t, err)
	got, err := restored.Query(q, 5)
	require.NoError(t, err)
	assert.Equal(t, want.Matches, got.Matches)
}

func TestRestoreRejectsMismatch(t *testing.T) {
	e := newTestEngine(t, 8, "L1")
	_, err := e.AddImage("a", words(1))
	require.NoError(t, err)
	state := e.Snapshot()

	wrongSize := newTestEngine(t, 4, "L1")
	assert.ErrorIs(t, wrongSize.Restore(state), apperrors.ErrInvalidVocabulary)

	wrongNorm := newTestEngine(t, 8, "L2")
	assert.ErrorIs(t, wrongNorm.Restore(state), apperrors.ErrInvalidInput)
	assert.Zero(t, wrongNorm.NumImages())
}

func TestSnapshotLoopSavesOnShutdown(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	path := filepath.Join(t.TempDir(), "loop.vwsnap")

	var mu sync.Mutex
	var saves []error
	ctx, cancel := context.WithCancel(context.Background())
	done := e.StartSnapshotLoop(ctx, path, time.Hour, func(err error) {
		mu.Lock()
		saves = append(saves, err)
		mu.Unlock()
	})

	_, err := e.AddImage("a", words(1, 2))
	require.NoError(t, err)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, saves, 1)
	assert.NoError(t, saves[0])

	restored := newTestEngine(t, 4, "L2")
	require.NoError(t, restored.LoadSnapshot(path))
	assert.Equal(t, 1, restored.NumImages())
}

func TestSnapshotLoopSkipsUnchangedIndex(t *testing.T) {
	e := newTestEngine(t, 4, "L2")
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	done := e.StartSnapshotLoop(ctx, filepath.Join(t.TempDir(), "idle.vwsnap"), time.Hour, func(error) {
		calls++
	})
	cancel()
	<-done
	assert.Zero(t, calls)
}

func BenchmarkAddImage(b *testing.B) {
	e := newTestEngine(b, 1024, "L2")
	rng := rand.New(rand.NewSource(1))
	f := make([]int, 200)
	for i := range f {
		f[i] = rng.Intn(1024)
	}
	feats := words(f...)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.AddImage("img", feats); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQuery(b *testing.B) {
	e := newTestEngine(b, 1024, "L2")
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		f := make([]int, 100)
		for j := range f {
			f[j] = rng.Intn(1024)
		}
		if _, err := e.AddImage(fmt.Sprintf("img-%d", i), words(f...)); err != nil {
			b.Fatal(err)
		}
	}
	q := make([]int, 100)
	for i := range q {
		q[i] = rng.Intn(1024)
	}
	query := words(q...)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := e.Query(query, 10); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func TestVersionIsUniquePerEngine(t *testing.T) {
	a := newTestEngine(t, 4, "L2")
	b := newTestEngine(t, 4, "L2")
	assert.NotEmpty(t, a.Version().Epoch)
	assert.NotEqual(t, a.Version(), b.Version())
	assert.Equal(t, a.Generation(), b.Generation())

	before := a.Version()
	_, err := a.AddImage("cat1", words(1))
	require.NoError(t, err)
	after := a.Version()
	assert.Equal(t, before.Epoch, after.Epoch)
	assert.Greater(t, after.Generation, before.Generation)
	assert.Contains(t, after.String(), after.Epoch+"/")
}
