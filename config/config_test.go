package config

import (
	"log/slog"
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
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
	assert.False(t, cfg.HasLLM())
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visaflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
session:
  ttl: 5m
llm:
  api_key: file-key
  base_url: https://llm.example.com/v1/
log:
  level: DEBUG
`), 0o600))
	t.Setenv("VISAFLOW_LLM_API_KEY", "env-key")
	t.Setenv("VISAFLOW_ORACLE_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 3*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "https://llm.example.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.True(t, cfg.HasLLM())
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("VISAFLOW_ORACLE_TIMEOUT", "0s")
	t.Setenv("VISAFLOW_LOG_LEVEL", "verbose")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle.timeout")
	assert.Contains(t, err.Error(), "log.level")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
