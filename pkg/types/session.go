package types

import "time"

// LoadedModelInfo describes the single active model. It exists only while a
// model is loaded.
type LoadedModelInfo struct {
	FileID  FileID  `json:"file_id"`
	ModelID ModelID `json:"model_id"`
	// JSON formatted model inspector output.
	Information string `json:"information"`
}

// ModelResourcesInfo is a point-in-time resource snapshot of the loaded model.
type ModelResourcesInfo struct {
	FileID  FileID  `json:"file_id"`
	ModelID ModelID `json:"model_id"`
	// Resident memory in MiB.
	// example: 4200.5
	RAMUsage float32 `json:"ram_usage" example:"4200.5"`
	// CPU usage in percent of one core since the previous sample.
	// example: 85.2
	CPUUsage  float32   `json:"cpu_usage" example:"85.2"`
	SampledAt time.Time `json:"sampled_at"`
}

// StopReason tells why a chat completion ended.
type StopReason string

const (
	StopReasonCompleted StopReason = "completed"
	StopReasonStopped   StopReason = "stopped"
)

// ChatCompletionData is the terminal chat result: the response plus
// generation statistics.
type ChatCompletionData struct {
	// Assembled OpenAI chat.completion object, JSON formatted.
	Response string `json:"response"`
	// Seconds from request start to the first generated token.
	TimeToFirstToken float32 `json:"time_to_first_token"`
	// Seconds spent generating.
	TimeToGenerate float32 `json:"time_to_generate"`
	// Tokens per second.
	Speed      float32    `json:"speed"`
	GPULayers  uint32     `json:"gpu_layers"`
	CPUThreads uint32     `json:"cpu_threads"`
	Mlock      bool       `json:"mlock"`
	TokenCount uint32     `json:"token_count"`
	TokenLimit uint32     `json:"token_limit"`
	StopReason StopReason `json:"stop_reason"`
}
