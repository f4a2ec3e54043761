package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
sources:
  - kind: posts
    url: http://remote.example/api/posts
`))
	require.NoError(t, err)

	assert.Equal(t, 8585, cfg.API.Port)
	assert.Equal(t, "/api", cfg.API.Prefix)
	assert.Equal(t, 5, cfg.Import.TickIntervalSeconds)
	assert.Equal(t, 50, cfg.Import.PageSize)
	assert.Equal(t, 10, cfg.Import.DefaultBatchSize)
	assert.Equal(t, "skip", cfg.Import.ConflictPolicy)
	assert.Equal(t, 60, cfg.Import.StopFlagTTLMinutes)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_ReadsSources(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
import:
  page_size: 100
  conflict_policy: overwrite
sources:
  - kind: posts
    url: http://remote.example/api/posts
    api_key: secret
    media_base: http://remote.example/uploads
    filters:
      status: published
  - kind: pages
    url: http://remote.example/api/pages
`))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Import.PageSize)
	assert.Equal(t, "overwrite", cfg.Import.ConflictPolicy)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "secret", cfg.Sources[0].APIKey)
	assert.Equal(t, "published", cfg.Sources[0].Filters["status"])

	src, ok := cfg.Source("pages")
	require.True(t, ok)
	assert.Equal(t, "http://remote.example/api/pages", src.URL)

	_, ok = cfg.Source("missing")
	assert.False(t, ok)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8585, cfg.API.Port)
	assert.Empty(t, cfg.Sources)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate kinds", `
sources:
  - kind: posts
    url: http://a
  - kind: posts
    url: http://b
`},
		{"source without url", `
sources:
  - kind: posts
`},
		{"bad conflict policy", `
import:
  conflict_policy: explode
sources:
  - kind: posts
    url: http://a
`},
		{"zero page size", `
import:
  page_size: 0
sources:
  - kind: posts
    url: http://a
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
