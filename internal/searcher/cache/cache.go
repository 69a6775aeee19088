// Package cache memoises query results. A process-local LRU answers repeated
// queries without touching the index; an optional redis tier shares results
// between replicas. Keys include the index version (engine epoch and
// generation), so a mutation or a restart makes every older entry
// unreachable without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/resilience"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "qcache:"

// Remote is the shared tier. *redis.Client implements it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	LocalHits    int64  `json:"local_hits"`
	RemoteHits   int64  `json:"remote_hits"`
	LocalEntries int    `json:"local_entries"`
	Remote       string `json:"remote"`
}

// QueryCache is safe for concurrent use. Results it returns are shared and
// must not be modified.
type QueryCache struct {
	local      *lru.Cache[string, *recognition.QueryResult]
	remote     Remote
	breaker    *resilience.Breaker
	ttl        time.Duration
	group      singleflight.Group
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
	localHits  atomic.Int64
	remoteHits atomic.Int64
}

// New creates a cache with room for localSize results. remote may be nil.
func New(localSize int, remote Remote, ttl time.Duration) (*QueryCache, error) {
	if localSize <= 0 {
		localSize = 1024
	}
	local, err := lru.New[string, *recognition.QueryResult](localSize)
	if err != nil {
		return nil, fmt.Errorf("creating local cache: %w", err)
	}
	return &QueryCache{
		local:   local,
		remote:  remote,
		breaker: resilience.NewBreaker("query-cache-redis", resilience.BreakerConfig{}),
		ttl:     ttl,
		logger:  slog.Default().With("component", "query-cache"),
	}, nil
}

// GetOrCompute returns the cached result or runs computeFn once for all
// concurrent callers asking the same question.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version recognition.Version,
	features [][]float32,
	limit int,
	computeFn func() (*recognition.QueryResult, error),
) (*recognition.QueryResult, bool, error) {
	key := BuildKey(version, features, limit)
	if result, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return result, true, nil
	}
	c.misses.Add(1)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.lookup(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*recognition.QueryResult), false, nil
}

// Invalidate drops every local entry and every qcache key in redis.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.local.Purge()
	if c.remote == nil {
		c.logger.Info("cache invalidated", "tier", "local")
		return nil
	}
	var deleted int64
	err := c.breaker.Do(func() error {
		var err error
		deleted, err = c.remote.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		LocalHits:    c.localHits.Load(),
		RemoteHits:   c.remoteHits.Load(),
		LocalEntries: c.local.Len(),
		Remote:       "disabled",
	}
	if c.remote != nil {
		s.Remote = c.breaker.State().String()
	}
	return s
}

func (c *QueryCache) lookup(ctx context.Context, key string) (*recognition.QueryResult, bool) {
	if result, ok := c.local.Get(key); ok {
		c.localHits.Add(1)
		return result, true
	}
	if c.remote == nil {
		return nil, false
	}
	var data []byte
	var found bool
	err := c.breaker.Do(func() error {
		var err error
		data, found, err = c.remote.Get(ctx, key)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrBreakerOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	if !found {
		return nil, false
	}
	var result recognition.QueryResult
	if err := msgpack.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	c.remoteHits.Add(1)
	c.local.Add(key, &result)
	return &result, true
}

func (c *QueryCache) store(ctx context.Context, key string, result *recognition.QueryResult) {
	c.local.Add(key, result)
	if c.remote == nil {
		return
	}
	data, err := msgpack.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(func() error {
		return c.remote.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrBreakerOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// BuildKey hashes the index version, the limit and the exact bits of every
// feature.
func BuildKey(version recognition.Version, features [][]float32, limit int) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(version.Epoch)))
	h.Write(buf[:4])
	h.Write([]byte(version.Epoch))
	binary.LittleEndian.PutUint64(buf[:], version.Generation)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(limit))
	h.Write(buf[:])
	for _, f := range features {
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(f)))
		h.Write(buf[:4])
		for _, v := range f {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
			h.Write(buf[:4])
		}
	}
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}
