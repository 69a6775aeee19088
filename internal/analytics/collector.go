package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/kafka"
)

// Collector buffers events in a channel and publishes them in batches, when
// a batch is full or the flush interval elapses.
type Collector struct {
	publisher     kafka.Publisher
	eventCh       chan Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
	published     atomic.Int64
	dropped       atomic.Int64
}

func NewCollector(publisher kafka.Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan Event, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. When ctx is cancelled or Close is called
// the buffered events are flushed before the loop exits.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.publish(context.Background(), batch)
					return
				}
				batch = append(batch, kafka.Event{Key: event.EventKey(), Value: event})
				if len(batch) >= c.batchSize {
					c.publish(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				c.publish(ctx, batch)
				batch = batch[:0]
			case <-ctx.Done():
				batch = c.drainRemaining(batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.publish(flushCtx, batch)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track enqueues event without blocking.
func (c *Collector) Track(event Event) {
	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the final flush. Track must not
// be called after Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.eventCh)
	})
	<-c.done
}

func (c *Collector) Published() int64 { return c.published.Load() }
func (c *Collector) Dropped() int64   { return c.dropped.Load() }

func (c *Collector) drainRemaining(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, kafka.Event{Key: event.EventKey(), Value: event})
		default:
			return batch
		}
	}
}

func (c *Collector) publish(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish analytics batch", "count", len(batch), "error", err)
		return
	}
	c.published.Add(int64(len(batch)))
}
