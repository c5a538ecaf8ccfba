package protocol

import "moxind/pkg/types"

// ModelsResult is the single reply of GetFeaturedModels and SearchModels.
type ModelsResult struct {
	Models []types.Model
	Err    error
}

// DownloadedFilesResult is the single reply of GetDownloadedFiles.
type DownloadedFilesResult struct {
	Files []types.DownloadedFile
	Err   error
}

// FileDownloadResponse is one reply of DownloadFile.
type FileDownloadResponse interface {
	// Terminal reports whether no further replies follow.
	Terminal() bool
	fileDownloadResponse()
}

// FileDownloadProgress reports a fraction in [0,1]. Fractions for the same
// FileID never decrease.
type FileDownloadProgress struct {
	FileID   types.FileID
	Fraction float32
}

// FileDownloadCompleted is the terminal success reply.
type FileDownloadCompleted struct {
	File types.File
}

// FileDownloadFailed is the terminal failure reply.
type FileDownloadFailed struct {
	FileID types.FileID
	Err    error
}

func (FileDownloadProgress) Terminal() bool  { return false }
func (FileDownloadCompleted) Terminal() bool { return true }
func (FileDownloadFailed) Terminal() bool    { return true }

func (FileDownloadProgress) fileDownloadResponse()  {}
func (FileDownloadCompleted) fileDownloadResponse() {}
func (FileDownloadFailed) fileDownloadResponse()    {}

// LoadModelResponse is one reply of LoadModel.
type LoadModelResponse interface {
	Terminal() bool
	loadModelResponse()
}

// LoadModelProgress reports load progress in [0,1].
type LoadModelProgress struct {
	FileID   types.FileID
	Fraction float32
}

// LoadModelResourcesUsage is an interleaved resource snapshot while loading.
type LoadModelResourcesUsage struct {
	Info types.ModelResourcesInfo
}

// LoadModelCompleted is the terminal success reply.
type LoadModelCompleted struct {
	Info types.LoadedModelInfo
}

// LoadModelFailed is the terminal failure reply.
type LoadModelFailed struct {
	FileID types.FileID
	Err    error
}

func (LoadModelProgress) Terminal() bool       { return false }
func (LoadModelResourcesUsage) Terminal() bool { return false }
func (LoadModelCompleted) Terminal() bool      { return true }
func (LoadModelFailed) Terminal() bool         { return true }

func (LoadModelProgress) loadModelResponse()       {}
func (LoadModelResourcesUsage) loadModelResponse() {}
func (LoadModelCompleted) loadModelResponse()      {}
func (LoadModelFailed) loadModelResponse()         {}

// ChatResponseKind distinguishes single completions from stream chunks.
type ChatResponseKind int

const (
	// ChatCompletionKind carries an OpenAI chat.completion object.
	ChatCompletionKind ChatResponseKind = iota
	// ChatCompletionChunkKind carries an OpenAI chat.completion.chunk object.
	ChatCompletionChunkKind
)

// ChatResponse is a successful chat reply. Data is set only on the terminal
// reply of the call.
type ChatResponse struct {
	Kind ChatResponseKind
	JSON string
	Data *types.ChatCompletionData
}

// ChatResult wraps one Chat reply: exactly one of Response and Err is set.
type ChatResult struct {
	Response *ChatResponse
	Err      *ChatError
}

// Terminal reports whether no further replies follow.
func (r ChatResult) Terminal() bool {
	return r.Err != nil || (r.Response != nil && r.Response.Data != nil)
}

// LocalServerResponse is one reply of StartLocalServer.
type LocalServerResponse interface {
	localServerResponse()
}

// LocalServerStarted is sent once the listener is bound.
type LocalServerStarted struct {
	Addr string
}

// LocalServerLog is one server log line.
type LocalServerLog struct {
	Line string
}

// LocalServerFailed is sent instead of Started when the server cannot start.
type LocalServerFailed struct {
	Err error
}

func (LocalServerStarted) localServerResponse() {}
func (LocalServerLog) localServerResponse()     {}
func (LocalServerFailed) localServerResponse()  {}
