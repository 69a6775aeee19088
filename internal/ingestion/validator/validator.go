// Package validator checks image and query payloads before they reach the
// index and returns per-field error details.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
)

const maxImageIDLength = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Limits bounds what a single request may carry. Dimension 0 skips the
// per-feature length check.
type Limits struct {
	Dimension   int
	MaxFeatures int
	MaxResults  int
}

// ValidateAddImage checks an HTTP add-image request.
func ValidateAddImage(req *ingestion.AddImageRequest, lim Limits) error {
	errs := make(map[string]string)
	checkImageID(req.ImageID, errs)
	checkFeatures(req.Features, lim, errs)
	return result(errs)
}

// ValidateImageEvent checks an event read from the ingest topic.
func ValidateImageEvent(event *ingestion.ImageEvent, lim Limits) error {
	errs := make(map[string]string)
	checkImageID(event.ImageID, errs)
	checkFeatures(event.Features, lim, errs)
	return result(errs)
}

// ValidateQuery checks a query request. An empty feature list is allowed and
// simply matches nothing.
func ValidateQuery(req *ingestion.QueryRequest, lim Limits) error {
	errs := make(map[string]string)
	if len(req.Features) > 0 {
		checkFeatures(req.Features, lim, errs)
	}
	if req.Limit < 0 {
		errs["limit"] = "limit must not be negative"
	} else if lim.MaxResults > 0 && req.Limit > lim.MaxResults {
		errs["limit"] = fmt.Sprintf("limit must be at most %d", lim.MaxResults)
	}
	return result(errs)
}

func checkImageID(id string, errs map[string]string) {
	id = strings.TrimSpace(id)
	if id == "" {
		errs["image_id"] = "image_id is required"
	} else if len(id) > maxImageIDLength {
		errs["image_id"] = fmt.Sprintf("image_id must be at most %d characters", maxImageIDLength)
	}
}

func checkFeatures(features [][]float32, lim Limits, errs map[string]string) {
	if len(features) == 0 {
		errs["features"] = "at least one feature is required"
		return
	}
	if lim.MaxFeatures > 0 && len(features) > lim.MaxFeatures {
		errs["features"] = fmt.Sprintf("at most %d features are allowed, got %d", lim.MaxFeatures, len(features))
		return
	}
	for i, f := range features {
		if lim.Dimension > 0 && len(f) != lim.Dimension {
			errs["features"] = fmt.Sprintf("feature %d has %d components, want %d", i, len(f), lim.Dimension)
			return
		}
		for _, v := range f {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				errs["features"] = fmt.Sprintf("feature %d contains a non-finite value", i)
				return
			}
		}
	}
}

func result(errs map[string]string) error {
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
