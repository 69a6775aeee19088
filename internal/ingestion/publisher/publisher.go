// Package publisher feeds image events onto the ingest topic. Every event is
// validated before it leaves the process and, when a catalog is configured,
// recorded as PENDING until the indexer picks it up.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/postgres"
)

// StatusStore records per-image status. *postgres.Client implements it.
type StatusStore interface {
	SetImageStatus(ctx context.Context, imageID, status, source, detail string) error
}

type Publisher struct {
	producer kafka.Publisher
	status   StatusStore
	limits   validator.Limits
	source   string
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Publisher. status may be nil.
func New(producer kafka.Publisher, status StatusStore, limits validator.Limits, source string) *Publisher {
	return &Publisher{
		producer: producer,
		status:   status,
		limits:   limits,
		source:   source,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Publish validates events, marks them PENDING and sends them as one batch
// keyed by image id, so all versions of an image land on the same partition.
// Nothing is published when any event is invalid.
func (p *Publisher) Publish(ctx context.Context, events []ingestion.ImageEvent) error {
	batch := make([]kafka.Event, 0, len(events))
	for i := range events {
		e := &events[i]
		if err := validator.ValidateImageEvent(e, p.limits); err != nil {
			return fmt.Errorf("event %d (%q): %w", i, e.ImageID, err)
		}
		if e.Source == "" {
			e.Source = p.source
		}
		if e.IngestedAt.IsZero() {
			e.IngestedAt = p.now()
		}
		batch = append(batch, kafka.Event{Key: e.ImageID, Value: *e})
	}
	if len(batch) == 0 {
		return nil
	}

	if p.status != nil {
		for _, e := range events {
			if err := p.status.SetImageStatus(ctx, e.ImageID, postgres.StatusPending, e.Source, ""); err != nil {
				return fmt.Errorf("recording %q as pending: %w", e.ImageID, err)
			}
		}
	}

	if err := p.producer.PublishBatch(ctx, batch); err != nil {
		p.logger.Error("failed to publish to kafka, images stuck in PENDING",
			"images", len(batch),
			"error", err,
		)
		return fmt.Errorf("publishing %d image events: %w", len(batch), err)
	}
	p.logger.Info("image events published", "images", len(batch), "source", p.source)
	return nil
}
