//go:build !llama

package manager

// This file provides a no-CGO stub for the llama adapter. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real adapter lives in adapter_llama.go (tagged 'llama').

import (
	"context"

	"moxind/pkg/types"
)

// llamaBuilt indicates this binary was compiled without llama support.
var llamaBuilt = false

// llamaAdapter is a stub that satisfies InferenceAdapter but refuses to load
// models without the 'llama' build tag.
type llamaAdapter struct {
	threads int
}

func NewLlamaAdapter(threads int) InferenceAdapter {
	return &llamaAdapter{threads: threads}
}

func (a *llamaAdapter) Load(ctx context.Context, modelPath string, opts types.LoadModelOptions, progress func(float32)) (ModelSession, error) {
	// Fail fast: llama runtime not available in this build.
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag); set llama_bin to use llama-server")
}
