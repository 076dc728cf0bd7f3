// Package config loads pipewatch settings from a YAML (or JSON/TOML) file and
// PIPEWATCH_* environment variables using viper. Environment variables
// override the file; nested keys use underscores, e.g.
// PIPEWATCH_BACKEND_BASE_URL or PIPEWATCH_PIPELINE_QUALITY_GATE_NODES
// (comma separated).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "PIPEWATCH"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Hitl      HitlConfig      `mapstructure:"hitl"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
}

// BackendConfig locates the orchestration backend.
type BackendConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	StreamPath string `mapstructure:"stream_path"`
	HitlPath   string `mapstructure:"hitl_path"`
	// Timeout bounds side-channel calls; the stream itself has none.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PipelineConfig tunes the state machine.
type PipelineConfig struct {
	QualityGateNodes        []string `mapstructure:"quality_gate_nodes"`
	MaxRefinementIterations int      `mapstructure:"max_refinement_iterations"`
}

// HitlConfig tunes checkpoint handling.
type HitlConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// NormalizeConfig tunes record parsing.
type NormalizeConfig struct {
	LenientJSON bool `mapstructure:"lenient_json"`
}

// ReasoningConfig sets the reasoning block delimiters.
type ReasoningConfig struct {
	OpenMarker  string `mapstructure:"open_marker"`
	CloseMarker string `mapstructure:"close_marker"`
}

// HistoryConfig selects the run history backend. A non-empty SQLitePath
// selects SQLite; otherwise an in-memory LRU of Size runs is used.
type HistoryConfig struct {
	Size       int    `mapstructure:"size"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP façade.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"backend.base_url":                   "http://localhost:8000",
	"backend.stream_path":                "/api/workflows/stream",
	"backend.hitl_path":                  "/api/hitl/respond",
	"backend.timeout":                    "30s",
	"pipeline.quality_gate_nodes":        []string{"reviewer", "qa_gate"},
	"pipeline.max_refinement_iterations": 3,
	"hitl.grace_period":                  "30s",
	"normalize.lenient_json":             false,
	"reasoning.open_marker":              "<think>",
	"reasoning.close_marker":             "</think>",
	"history.size":                       32,
	"history.sqlite_path":                "",
	"log.level":                          "info",
	"log.format":                         "text",
	"server.addr":                        ":8080",
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path (when non-empty) or, if it exists, ./pipewatch.yaml or
// $HOME/.pipewatch/pipewatch.yaml, then applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pipewatch")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pipewatch")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Pipeline.QualityGateNodes = cleanList(cfg.Pipeline.QualityGateNodes)
	return cfg, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: backend.base_url %q is not an absolute URL", ErrInvalid, c.Backend.BaseURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: backend.base_url scheme %q is not supported", ErrInvalid, u.Scheme)
	}
	if c.Pipeline.MaxRefinementIterations < 0 {
		return fmt.Errorf("%w: pipeline.max_refinement_iterations must not be negative", ErrInvalid)
	}
	if c.Hitl.GracePeriod < 0 {
		return fmt.Errorf("%w: hitl.grace_period must not be negative", ErrInvalid)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("%w: backend.timeout must not be negative", ErrInvalid)
	}
	if c.Reasoning.OpenMarker == "" || c.Reasoning.CloseMarker == "" {
		return fmt.Errorf("%w: reasoning markers must not be empty", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format must be json or text", ErrInvalid)
	}
	return nil
}
