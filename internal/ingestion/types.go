// Package ingestion defines the request types and Kafka event schemas used
// to feed images into the recognition index.
package ingestion

import "time"

// AddImageRequest is the JSON body accepted by POST /api/v1/images.
type AddImageRequest struct {
	ImageID  string      `json:"image_id"`
	Features [][]float32 `json:"features"`
}

// AddImageResponse is returned once the image is indexed.
type AddImageResponse struct {
	ImageID string `json:"image_id"`
	Index   int    `json:"index"`
}

// QueryRequest is the JSON body accepted by POST /api/v1/query. A zero Limit
// means the configured default.
type QueryRequest struct {
	Features [][]float32 `json:"features"`
	Limit    int         `json:"limit"`
}

// ImageEvent is the Kafka payload of the image-ingest topic. Features are
// already extracted by the producer.
type ImageEvent struct {
	ImageID    string      `json:"image_id"`
	Features   [][]float32 `json:"features"`
	Source     string      `json:"source,omitempty"`
	IngestedAt time.Time   `json:"ingested_at"`
}
