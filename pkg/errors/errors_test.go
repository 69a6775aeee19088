package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"out of range", IndexOutOfRange(5, 2), http.StatusNotFound},
		{"invalid input wrapped", fmt.Errorf("decoding body: %w", ErrInvalidInput), http.StatusBadRequest},
		{"word out of range", ErrWordOutOfRange, http.StatusBadRequest},
		{"empty vocabulary", ErrEmptyVocabulary, http.StatusUnprocessableEntity},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"app error", New(ErrInvalidInput, http.StatusTeapot, "custom"), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrSnapshotCorrupt, http.StatusInternalServerError, "crc %x", 0xdead)
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
	assert.Equal(t, "snapshot corrupt: crc dead", err.Error())
}

func TestIndexOutOfRangeMessage(t *testing.T) {
	err := IndexOutOfRange(7, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Contains(t, err.Error(), "index 7, length 3")
}
