// Package vocabulary loads a trained visual vocabulary and finds the word
// closest to a feature vector.
package vocabulary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Vocabulary holds one centroid per word. Word ids are positions in Words.
type Vocabulary struct {
	Dimension int         `yaml:"dimension" msgpack:"dimension"`
	Words     [][]float32 `yaml:"words" msgpack:"words"`
}

func (v *Vocabulary) Size() int {
	return len(v.Words)
}

// Validate checks that the vocabulary is non-empty and every centroid has
// the declared dimension.
func (v *Vocabulary) Validate() error {
	if len(v.Words) == 0 {
		return apperrors.ErrEmptyVocabulary
	}
	if v.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", apperrors.ErrInvalidVocabulary, v.Dimension)
	}
	for i, w := range v.Words {
		if len(w) != v.Dimension {
			return fmt.Errorf("%w: word %d has %d components, want %d",
				apperrors.ErrInvalidVocabulary, i, len(w), v.Dimension)
		}
	}
	return nil
}

// Load reads a vocabulary file. Files ending in .yaml or .yml are YAML,
// anything else is msgpack.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	v := &Vocabulary{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, v)
	} else {
		err = msgpack.Unmarshal(data, v)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrInvalidVocabulary, path, err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return v, nil
}

// Save writes the vocabulary in the format implied by the extension of path.
func (v *Vocabulary) Save(path string) error {
	if err := v.Validate(); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(v)
	} else {
		data, err = msgpack.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encoding vocabulary: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating vocabulary directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
