package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GPULayers selects how many layers are offloaded to the GPU: either a
// specific count or as many as fit. The zero value means Max; CPU-only is
// GPULayersSpecific(0).
type GPULayers struct {
	specific bool
	n        uint32
}

// GPULayersMax offloads every layer.
func GPULayersMax() GPULayers { return GPULayers{} }

// GPULayersSpecific offloads exactly n layers.
func GPULayersSpecific(n uint32) GPULayers { return GPULayers{specific: true, n: n} }

// IsMax reports whether all layers are requested.
func (g GPULayers) IsMax() bool { return !g.specific }

// Count returns the layer count for Specific and ok=false for Max.
func (g GPULayers) Count() (uint32, bool) {
	if !g.specific {
		return 0, false
	}
	return g.n, true
}

func (g GPULayers) String() string {
	if !g.specific {
		return "max"
	}
	return strconv.FormatUint(uint64(g.n), 10)
}

// ParseGPULayers accepts "max" or a non-negative integer.
func ParseGPULayers(s string) (GPULayers, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "max" {
		return GPULayersMax(), nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return GPULayers{}, fmt.Errorf("invalid gpu layers %q: want \"max\" or a number", s)
	}
	return GPULayersSpecific(uint32(n)), nil
}

func (g GPULayers) MarshalJSON() ([]byte, error) {
	if !g.specific {
		return []byte(`"max"`), nil
	}
	return []byte(strconv.FormatUint(uint64(g.n), 10)), nil
}

func (g *GPULayers) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := ParseGPULayers(s)
		if err != nil {
			return err
		}
		*g = v
		return nil
	}
	var n uint32
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid gpu layers: %s", string(b))
	}
	*g = GPULayersSpecific(n)
	return nil
}

func (g GPULayers) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *GPULayers) UnmarshalText(b []byte) error {
	v, err := ParseGPULayers(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// ContextOverflowPolicy tells the inference engine what to do once the
// context window is full.
type ContextOverflowPolicy string

const (
	StopAtLimit          ContextOverflowPolicy = "stop_at_limit"
	TruncateMiddle       ContextOverflowPolicy = "truncate_middle"
	TruncatePastMessages ContextOverflowPolicy = "truncate_past_messages"
)

// Valid reports whether p is a known policy.
func (p ContextOverflowPolicy) Valid() bool {
	switch p {
	case StopAtLimit, TruncateMiddle, TruncatePastMessages:
		return true
	}
	return false
}

// LoadModelOptions configures loading a file into the runtime. Immutable for
// the lifetime of the loaded session.
type LoadModelOptions struct {
	PromptTemplate        *string               `json:"prompt_template,omitempty" yaml:"prompt_template" toml:"prompt_template"`
	GPULayers             GPULayers             `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	UseMlock              bool                  `json:"use_mlock" yaml:"use_mlock" toml:"use_mlock"`
	NBatch                uint32                `json:"n_batch" yaml:"n_batch" toml:"n_batch"`
	NCtx                  uint32                `json:"n_ctx" yaml:"n_ctx" toml:"n_ctx"`
	RopeFreqScale         float32               `json:"rope_freq_scale" yaml:"rope_freq_scale" toml:"rope_freq_scale"`
	RopeFreqBase          float32               `json:"rope_freq_base" yaml:"rope_freq_base" toml:"rope_freq_base"`
	ContextOverflowPolicy ContextOverflowPolicy `json:"context_overflow_policy" yaml:"context_overflow_policy" toml:"context_overflow_policy"`
}

// DefaultLoadModelOptions returns the options used when a caller leaves
// fields unset.
func DefaultLoadModelOptions() LoadModelOptions {
	return LoadModelOptions{
		GPULayers:             GPULayersMax(),
		NBatch:                512,
		NCtx:                  2048,
		RopeFreqScale:         1.0,
		RopeFreqBase:          10000,
		ContextOverflowPolicy: StopAtLimit,
	}
}

// WithDefaults fills zero-valued numeric fields and the policy from
// DefaultLoadModelOptions. A zero GPULayers already means Max.
func (o LoadModelOptions) WithDefaults() LoadModelOptions {
	d := DefaultLoadModelOptions()
	if o.NBatch == 0 {
		o.NBatch = d.NBatch
	}
	if o.NCtx == 0 {
		o.NCtx = d.NCtx
	}
	if o.RopeFreqScale == 0 {
		o.RopeFreqScale = d.RopeFreqScale
	}
	if o.RopeFreqBase == 0 {
		o.RopeFreqBase = d.RopeFreqBase
	}
	if o.ContextOverflowPolicy == "" {
		o.ContextOverflowPolicy = d.ContextOverflowPolicy
	}
	return o
}

// LocalServerConfig defines the lifecycle parameters of the local HTTP server.
type LocalServerConfig struct {
	// example: 8080
	Port                  uint16 `json:"port" yaml:"port" toml:"port" example:"8080"`
	CORS                  bool   `json:"cors" yaml:"cors" toml:"cors"`
	RequestQueuing        bool   `json:"request_queuing" yaml:"request_queuing" toml:"request_queuing"`
	VerboseServerLogs     bool   `json:"verbose_server_logs" yaml:"verbose_server_logs" toml:"verbose_server_logs"`
	ApplyPromptFormatting bool   `json:"apply_prompt_formatting" yaml:"apply_prompt_formatting" toml:"apply_prompt_formatting"`
}
