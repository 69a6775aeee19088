// Package consumer reads image events from the ingest topic and adds them to
// the recognition index, recording each outcome in the image catalog.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/resilience"
)

// Indexer is the part of the recognition engine the consumer needs.
type Indexer interface {
	AddImage(id string, features [][]float32) (int, error)
}

// StatusStore records per-image indexing status. *postgres.Client
// implements it.
type StatusStore interface {
	SetImageStatus(ctx context.Context, imageID, status, source, detail string) error
}

// Tracker receives indexing events. *analytics.Collector implements it.
type Tracker interface {
	Track(event analytics.Event)
}

type Options struct {
	Limits  validator.Limits
	Status  StatusStore
	Tracker Tracker
	Retry   resilience.RetryConfig
	// Observe, if set, is called after each indexing attempt.
	Observe func(err error, features int)
}

// HandleMessage returns a Kafka MessageHandler that indexes every image event
// into engine. Malformed and invalid events are logged and committed so they
// do not block the partition. Events whose features reference words outside
// the vocabulary are recorded as FAILED and committed as well; any other
// indexing error leaves the message uncommitted.
func HandleMessage(engine Indexer, opts Options) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.ImageEvent](value)
		if err != nil {
			logger.Error("failed to decode image event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if err := validator.ValidateImageEvent(&event, opts.Limits); err != nil {
			logger.Warn("rejecting invalid image event",
				"image_id", event.ImageID,
				"error", err,
			)
			updateStatus(ctx, opts, event, postgres.StatusFailed, err.Error(), logger)
			return nil
		}

		start := time.Now()
		idx, err := engine.AddImage(event.ImageID, event.Features)
		if opts.Observe != nil {
			opts.Observe(err, len(event.Features))
		}
		if err != nil {
			updateStatus(ctx, opts, event, postgres.StatusFailed, err.Error(), logger)
			track(opts, analytics.IndexEvent{
				Type:      analytics.EventIndexFailed,
				ImageID:   event.ImageID,
				Index:     -1,
				Features:  len(event.Features),
				Source:    event.Source,
				Error:     err.Error(),
				LatencyMs: time.Since(start).Milliseconds(),
				Timestamp: time.Now().UTC(),
			})
			if errors.Is(err, apperrors.ErrWordOutOfRange) {
				logger.Error("image references words outside the vocabulary",
					"image_id", event.ImageID,
					"error", err,
				)
				return nil
			}
			return fmt.Errorf("indexing image %s: %w", event.ImageID, err)
		}

		updateStatus(ctx, opts, event, postgres.StatusIndexed, "", logger)
		track(opts, analytics.IndexEvent{
			Type:      analytics.EventIndexImage,
			ImageID:   event.ImageID,
			Index:     idx,
			Features:  len(event.Features),
			Source:    event.Source,
			LatencyMs: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
		logger.Info("image indexed",
			"image_id", event.ImageID,
			"index", idx,
			"features", len(event.Features),
		)
		return nil
	}
}

// updateStatus writes the catalog row with retries. A catalog outage never
// fails the message: the index is the source of truth.
func updateStatus(ctx context.Context, opts Options, event ingestion.ImageEvent, status, detail string, logger *slog.Logger) {
	if opts.Status == nil || event.ImageID == "" {
		return
	}
	err := resilience.Retry(ctx, "catalog-status", opts.Retry, func() error {
		return opts.Status.SetImageStatus(ctx, event.ImageID, status, event.Source, detail)
	})
	if err != nil {
		logger.Error("failed to update image status",
			"image_id", event.ImageID,
			"status", status,
			"error", err,
		)
	}
}

func track(opts Options, event analytics.IndexEvent) {
	if opts.Tracker != nil {
		opts.Tracker.Track(event)
	}
}
