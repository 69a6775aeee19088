package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "L2", cfg.Recognition.Norm)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
recognition:
  norm: L1
  vocabularyPath: /tmp/words.yaml
  snapshotInterval: 30s
search:
  defaultLimit: 5
  maxResults: 50
redis:
  enabled: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("SP_RECOGNITION_SNAPSHOT_PATH", "/var/lib/index.vwsnap")
	t.Setenv("SP_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "L1", cfg.Recognition.Norm)
	assert.Equal(t, "/tmp/words.yaml", cfg.Recognition.VocabularyPath)
	assert.Equal(t, 30*time.Second, cfg.Recognition.SnapshotInterval)
	assert.Equal(t, "/var/lib/index.vwsnap", cfg.Recognition.SnapshotPath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.True(t, cfg.Redis.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 4096, cfg.Recognition.PostingBlockSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Recognition.Norm = "cosine"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Search.DefaultLimit = 500
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
