package manager

import (
	"context"

	"moxind/pkg/types"
)

// InferenceAdapter abstracts the model runtime used by the Manager.
// Concrete implementations (e.g., llama.cpp) should satisfy this interface.
type InferenceAdapter interface {
	// Load opens the model at path. progress receives fractions in [0,1] and
	// may be nil. Implementations must return when ctx is canceled.
	Load(ctx context.Context, path string, opts types.LoadModelOptions, progress func(float32)) (ModelSession, error)
}

// ModelSession is one loaded model.
type ModelSession interface {
	// Chat generates a reply for req, invoking onDelta for each text fragment.
	// Cancellation of ctx stops generation; the partial result is returned
	// together with ctx's error.
	Chat(ctx context.Context, req ChatParams, onDelta func(string) error) (FinalResult, error)
	// Info describes the effective runtime parameters.
	Info() SessionInfo
	// Close releases any resources associated with the session.
	Close() error
}

// ChatParams captures the generation request passed to the adapter.
type ChatParams struct {
	Messages    []types.ChatMessage
	MaxTokens   int
	// Nil sampling fields leave the engine default in place.
	Temperature *float32
	TopP        *float32
	TopK        *int
	Stop        []string
	Seed        *int64
	// Raw skips the model's chat template and joins message contents verbatim.
	Raw bool
}

// SessionInfo reports the effective runtime parameters of a session.
type SessionInfo struct {
	Backend    string `json:"backend"`
	PID        int    `json:"pid"`
	GPULayers  uint32 `json:"gpu_layers"`
	CPUThreads uint32 `json:"cpu_threads"`
	Mlock      bool   `json:"mlock"`
	NCtx       uint32 `json:"n_ctx"`
	NBatch     uint32 `json:"n_batch"`
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
