package manager

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultLoadTimeout     = 120 * time.Second
	defaultMaxPayloadBytes = 4 << 20
	defaultLlamaHost       = "127.0.0.1"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Adapter overrides runtime selection. When nil, LlamaBin selects the
	// llama-server adapter and an empty LlamaBin selects the in-process one.
	Adapter InferenceAdapter

	// Inference / llama.cpp configuration (no envs; set by callers)
	LlamaBin       string
	LlamaHost      string
	LlamaThreads   int
	LlamaExtraArgs []string

	LoadTimeout     time.Duration
	MaxPayloadBytes int

	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.LlamaHost == "" {
		cfg.LlamaHost = defaultLlamaHost
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	m := &Manager{
		state:     StateIdle,
		cfg:       cfg,
		publisher: noopPublisher{},
		log:       zerolog.Nop(),
		sampler:   newResourceSampler(),
		startTime: time.Now(),
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	if cfg.Publisher != nil {
		m.publisher = cfg.Publisher
	}
	switch {
	case cfg.Adapter != nil:
		m.adapter = cfg.Adapter
	case cfg.LlamaBin != "":
		m.adapter = NewLlamaServerAdapter(cfg, m.log)
	default:
		m.adapter = NewLlamaAdapter(cfg.LlamaThreads)
	}
	return m
}
