package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Chat error kind when the failure came from the chat pipeline.
	// example: prompt_too_long
	Kind string `json:"kind,omitempty" example:"prompt_too_long"`
}

// ModelObject is one entry of the OpenAI /v1/models list.
type ModelObject struct {
	// example: mistral-7b-instruct-v0.2.Q4_K_M.gguf
	ID      string `json:"id" example:"mistral-7b-instruct-v0.2.Q4_K_M.gguf"`
	Object  string `json:"object" example:"model"`
	OwnedBy string `json:"owned_by" example:"moxind"`
}

// ModelsResponse wraps the list returned by GET /v1/models.
type ModelsResponse struct {
	Object string        `json:"object" example:"list"`
	Data   []ModelObject `json:"data"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Model slot state (idle, loading, loaded, generating).
	// example: loaded
	State string `json:"state" example:"loaded"`
	// Whether the local server slot is held.
	ServerRunning bool `json:"server_running"`
	// Currently loaded model, if any.
	Loaded *LoadedModelInfo `json:"loaded,omitempty"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the backend in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of chat completions finished.
	// example: 40
	ChatsTotal uint64 `json:"chats_total" example:"40"`
}
