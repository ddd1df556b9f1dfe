package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Document.ChunkSize)
	assert.Equal(t, 200, cfg.Document.ChunkOverlap)
	assert.Equal(t, []string{".doc", ".ppt"}, cfg.Document.RemoteExtensions)
	assert.Equal(t, 100, cfg.Document.MaxEntrySizeMB)
	assert.Equal(t, 300*time.Second, cfg.Download.Timeout)
	assert.Equal(t, "http", cfg.Download.Type)
	assert.Equal(t, "qdrant", cfg.VectorDB.Type)
	assert.Equal(t, 1, cfg.Embed.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
document:
  chunk_size: 500
  chunk_overlap: 50
  prune_stale: true
vectordb:
  collection: from-file
  api_key: ${TEST_QDRANT_KEY}
queue:
  enable: true
  retry_delay: 30s
`)

	t.Setenv("QDRANT_URL", "http://qdrant.internal:6334")
	t.Setenv("VECTOR_API_URL", "http://embed.internal/embed")
	t.Setenv("NET_DOWNLOAD_ENDPOINT", "http://files.internal/download")
	t.Setenv("QDRANT_COLLECTION_NAME", "from-env")
	t.Setenv("TEST_QDRANT_KEY", "secret")
	t.Setenv("SERVER_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Document.ChunkSize)
	assert.Equal(t, 50, cfg.Document.ChunkOverlap)
	assert.True(t, cfg.Document.PruneStale)
	assert.Equal(t, "http://qdrant.internal:6334", cfg.VectorDB.URL)
	assert.Equal(t, "from-env", cfg.VectorDB.Collection)
	assert.Equal(t, "secret", cfg.VectorDB.APIKey)
	assert.Equal(t, "http://embed.internal/embed", cfg.Embed.Endpoint)
	assert.Equal(t, "http://files.internal/download", cfg.Download.Endpoint)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.True(t, cfg.Queue.Enable)
	assert.Equal(t, 30*time.Second, cfg.Queue.RetryDelay)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"overlap not smaller than size", "document:\n  chunk_size: 100\n  chunk_overlap: 100\n"},
		{"zero chunk size", "document:\n  chunk_size: 0\n"},
		{"unknown download type", "download:\n  type: ftp\n"},
		{"minio without bucket", "download:\n  type: minio\nstorage:\n  minio:\n    endpoint: localhost:9000\n    bucket: \"\"\n"},
		{"zero concurrency", "embed:\n  concurrency: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_ME", "value")
	assert.Equal(t, "value", expandEnv("${EXPAND_ME}"))
	assert.Equal(t, "${UNSET_VARIABLE_X}", expandEnv("${UNSET_VARIABLE_X}"))
	assert.Equal(t, "plain", expandEnv("plain"))
}
