package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"moxind/pkg/types"
)

// Config holds runtime parameters for the backend.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	DataDir     string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelsDir   string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	CatalogFile string `json:"catalog_file" yaml:"catalog_file" toml:"catalog_file"`

	// Inference runtime. Empty LlamaBin selects the in-process adapter.
	LlamaBin           string `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaHost          string `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	LlamaThreads       int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LoadTimeoutSeconds int    `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds"`

	MaxChatPayloadBytes int `json:"max_chat_payload_bytes" yaml:"max_chat_payload_bytes" toml:"max_chat_payload_bytes"`
	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency" toml:"download_concurrency"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	LogFile   string `json:"log_file" yaml:"log_file" toml:"log_file"`

	// Local server defaults used by `moxind serve`.
	Server        types.LocalServerConfig `json:"server" yaml:"server" toml:"server"`
	CORSOrigins   []string                `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxQueueDepth int                     `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int                     `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
}

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultDataDir             = "~/.local/share/moxind"
	DefaultModelsDir           = "~/models/llm"
	DefaultLlamaHost           = "127.0.0.1"
	DefaultLoadTimeoutSeconds  = 120
	DefaultMaxChatPayloadBytes = 4 << 20
	DefaultDownloadConcurrency = 2
	DefaultServerPort          = 8080
	DefaultMaxQueueDepth       = 32
	DefaultMaxWaitMS           = 30000
)

// Default returns a Config with every default applied. Boolean options that
// default to true are only set here, so Load decodes on top of Default.
func Default() Config {
	c := Config{Server: types.LocalServerConfig{ApplyPromptFormatting: true}}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults replaces zero values with package defaults.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.LlamaHost == "" {
		c.LlamaHost = DefaultLlamaHost
	}
	if c.LoadTimeoutSeconds <= 0 {
		c.LoadTimeoutSeconds = DefaultLoadTimeoutSeconds
	}
	if c.MaxChatPayloadBytes <= 0 {
		c.MaxChatPayloadBytes = DefaultMaxChatPayloadBytes
	}
	if c.DownloadConcurrency <= 0 {
		c.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.MaxWaitMS <= 0 {
		c.MaxWaitMS = DefaultMaxWaitMS
	}
}

// Load reads a configuration file based on its extension and applies defaults.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if err := Decode(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Decode unmarshals the file at path into v, picking the codec by extension.
func Decode(path string, v any) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, v); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, v); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	return nil
}
