package validator

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var limits = Limits{Dimension: 2, MaxFeatures: 3, MaxResults: 10}

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Fields
}

func TestValidateAddImage(t *testing.T) {
	ok := &ingestion.AddImageRequest{ImageID: "cat1", Features: [][]float32{{1, 2}, {3, 4}}}
	assert.NoError(t, ValidateAddImage(ok, limits))

	err := ValidateAddImage(&ingestion.AddImageRequest{ImageID: "  "}, limits)
	f := fields(t, err)
	assert.Contains(t, f, "image_id")
	assert.Contains(t, f, "features")

	long := &ingestion.AddImageRequest{ImageID: strings.Repeat("x", 300), Features: [][]float32{{1, 2}}}
	assert.Contains(t, fields(t, ValidateAddImage(long, limits)), "image_id")
}

func TestValidateFeatureShape(t *testing.T) {
	cases := map[string][][]float32{
		"too many":      {{1, 2}, {1, 2}, {1, 2}, {1, 2}},
		"wrong length":  {{1, 2}, {1}},
		"nan component": {{1, float32(math.NaN())}},
		"inf component": {{float32(math.Inf(1)), 0}},
	}
	for name, feats := range cases {
		err := ValidateImageEvent(&ingestion.ImageEvent{ImageID: "a", Features: feats}, limits)
		assert.Contains(t, fields(t, err), "features", name)
	}
}

func TestValidateQuery(t *testing.T) {
	assert.NoError(t, ValidateQuery(&ingestion.QueryRequest{}, limits))
	assert.NoError(t, ValidateQuery(&ingestion.QueryRequest{Features: [][]float32{{0, 0}}, Limit: 10}, limits))

	assert.Contains(t, fields(t, ValidateQuery(&ingestion.QueryRequest{Limit: -1}, limits)), "limit")
	assert.Contains(t, fields(t, ValidateQuery(&ingestion.QueryRequest{Limit: 11}, limits)), "limit")
}

func TestErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"limit": "bad", "features": "bad"}}
	assert.Equal(t, "features:bad; limit:bad", err.Error())
}
