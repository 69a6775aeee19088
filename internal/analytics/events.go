// Package analytics publishes query and indexing events to the analytics
// topic. Tracking never blocks the request path: events are buffered and
// dropped when the buffer is full.
package analytics

import "time"

type EventType string

const (
	EventQuery       EventType = "query"
	EventNoCandidate EventType = "no_candidates"
	EventIndexImage  EventType = "index_image"
	EventIndexFailed EventType = "index_failed"
	EventClear       EventType = "clear"
)

// Event is implemented by every payload the collector publishes.
type Event interface {
	EventKey() string
}

type QueryEvent struct {
	Type            EventType `json:"type"`
	RequestID       string    `json:"request_id,omitempty"`
	Features        int       `json:"features"`
	SkippedFeatures int       `json:"skipped_features"`
	Words           int       `json:"words"`
	Candidates      int       `json:"candidates"`
	Returned        int       `json:"returned"`
	Limit           int       `json:"limit"`
	TopImageID      string    `json:"top_image_id,omitempty"`
	TopScore        float32   `json:"top_score,omitempty"`
	CacheHit        bool      `json:"cache_hit"`
	LatencyMs       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e QueryEvent) EventKey() string { return string(e.Type) }

type IndexEvent struct {
	Type      EventType `json:"type"`
	ImageID   string    `json:"image_id,omitempty"`
	Index     int       `json:"index"`
	Features  int       `json:"features"`
	Source    string    `json:"source,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

func (e IndexEvent) EventKey() string {
	if e.ImageID != "" {
		return e.ImageID
	}
	return string(e.Type)
}
