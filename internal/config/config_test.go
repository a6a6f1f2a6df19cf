package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TW_TEST_API", "http://backend.local/api")
	dbPath := filepath.Join(t.TempDir(), "nested", "sessions.db")

	path := writeConfig(t, `
api:
  base_url: ${TW_TEST_API}
session:
  database_path: `+dbPath+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend.local/api", cfg.API.BaseURL)
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.Equal(t, "tileworks:session", cfg.Session.RedisPrefix)
	assert.Equal(t, 10, cfg.PageSize())
	assert.Equal(t, int64(10<<20), cfg.MaxFileBytes())
	assert.Equal(t, int64(50<<20), cfg.MaxTotalBytes())
	assert.Equal(t, 5, cfg.MaxFiles())
	assert.Equal(t, time.Duration(0), cfg.HTTPTimeout())

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err, "database directory should be created")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing base url", "api:\n  page_size: 5\n"},
		{"redis without address", "api:\n  base_url: http://x\nsession:\n  backend: redis\n"},
		{"unknown backend", "api:\n  base_url: http://x\nsession:\n  backend: etcd\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
