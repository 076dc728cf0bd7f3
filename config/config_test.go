package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Hitl.GracePeriod)
	assert.Equal(t, []string{"reviewer", "qa_gate"}, cfg.Pipeline.QualityGateNodes)
	assert.Equal(t, "<think>", cfg.Reasoning.OpenMarker)
	assert.Equal(t, 32, cfg.History.Size)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeFile(t, "pipewatch.yaml", `
backend:
  base_url: https://orchestrator.internal
  timeout: 5s
pipeline:
  quality_gate_nodes: [critic, tests]
  max_refinement_iterations: 4
hitl:
  grace_period: 1m
history:
  sqlite_path: /tmp/runs.db
log:
  format: json
`)
	t.Setenv("PIPEWATCH_LOG_LEVEL", "debug")
	t.Setenv("PIPEWATCH_PIPELINE_MAX_REFINEMENT_ITERATIONS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://orchestrator.internal", cfg.Backend.BaseURL)
	assert.Equal(t, "/api/workflows/stream", cfg.Backend.StreamPath)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, []string{"critic", "tests"}, cfg.Pipeline.QualityGateNodes)
	assert.Equal(t, 6, cfg.Pipeline.MaxRefinementIterations)
	assert.Equal(t, time.Minute, cfg.Hitl.GracePeriod)
	assert.Equal(t, "/tmp/runs.db", cfg.History.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvList(t *testing.T) {
	t.Setenv("PIPEWATCH_PIPELINE_QUALITY_GATE_NODES", "reviewer, qa_gate ,security")
	cfg, err := Load(writeFile(t, "empty.yaml", "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewer", "qa_gate", "security"}, cfg.Pipeline.QualityGateNodes)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"relative url", func(c *Config) { c.Backend.BaseURL = "localhost:8000" }},
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "ftp://x" }},
		{"negative iterations", func(c *Config) { c.Pipeline.MaxRefinementIterations = -1 }},
		{"negative grace", func(c *Config) { c.Hitl.GracePeriod = -time.Second }},
		{"empty marker", func(c *Config) { c.Reasoning.CloseMarker = "" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
