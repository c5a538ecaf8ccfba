// Package protocol defines the command/response contract between a client
// and the moxind backend.
//
// A client builds a Command carrying its own reply channel and sends it to
// the backend's command sink. The backend writes zero or more progress
// replies followed by exactly one terminal reply and then closes the channel.
// A channel closed without a terminal reply must be treated as
// ErrAbnormalTermination. Fire-and-forget commands (EjectModel,
// StopChatCompletion, StopLocalServer) carry no channel.
package protocol

import (
	"github.com/google/uuid"

	"moxind/pkg/types"
)

// Kind tags a Command variant.
type Kind int

const (
	KindGetFeaturedModels Kind = iota
	KindSearchModels
	KindDownloadFile
	KindGetDownloadedFiles
	KindLoadModel
	KindEjectModel
	KindGetLoadedModel
	KindChat
	KindStopChatCompletion
	KindStartLocalServer
	KindStopLocalServer
)

var kindNames = [...]string{
	"get_featured_models",
	"search_models",
	"download_file",
	"get_downloaded_files",
	"load_model",
	"eject_model",
	"get_loaded_model",
	"chat",
	"stop_chat_completion",
	"start_local_server",
	"stop_local_server",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Command is a client intent. The set of implementations is closed.
type Command interface {
	Kind() Kind
	command()
}

// GetFeaturedModels replies once with the featured models in relevance order.
type GetFeaturedModels struct {
	Reply chan<- ModelsResult
}

// SearchModels replies once with the models matching Keywords.
type SearchModels struct {
	Keywords string
	Reply    chan<- ModelsResult
}

// DownloadFile streams progress and ends with Completed or Failed.
type DownloadFile struct {
	FileID types.FileID
	Reply  chan<- FileDownloadResponse
}

// GetDownloadedFiles replies once with every downloaded file.
type GetDownloadedFiles struct {
	Reply chan<- DownloadedFilesResult
}

// LoadModel streams progress and resource usage and ends with Completed or Failed.
type LoadModel struct {
	FileID  types.FileID
	Options types.LoadModelOptions
	Reply   chan<- LoadModelResponse
}

// EjectModel unloads the active model when its FileID matches.
type EjectModel struct {
	FileID types.FileID
}

// GetLoadedModel replies once: nil when no model is loaded.
type GetLoadedModel struct {
	Reply chan<- *types.ModelResourcesInfo
}

// Chat runs a chat completion. Payload is an OpenAI chat completion request
// in JSON; its "stream" flag selects chunked or single replies. ID lets a
// StopChatCompletion target this chat only.
type Chat struct {
	ID      string
	Payload string
	Reply   chan<- ChatResult
}

// StopChatCompletion cancels the in-flight generation, if any. With ID set
// it cancels only the chat sent with that ID, whether it is generating or
// still queued, and is a no-op once that chat has finished.
type StopChatCompletion struct {
	ID string
}

// StartLocalServer replies Started once bound, then Log lines until stopped.
type StartLocalServer struct {
	Config types.LocalServerConfig
	Reply  chan<- LocalServerResponse
}

// StopLocalServer tears down the running server, if any.
type StopLocalServer struct{}

func (GetFeaturedModels) Kind() Kind  { return KindGetFeaturedModels }
func (SearchModels) Kind() Kind       { return KindSearchModels }
func (DownloadFile) Kind() Kind       { return KindDownloadFile }
func (GetDownloadedFiles) Kind() Kind { return KindGetDownloadedFiles }
func (LoadModel) Kind() Kind          { return KindLoadModel }
func (EjectModel) Kind() Kind         { return KindEjectModel }
func (GetLoadedModel) Kind() Kind     { return KindGetLoadedModel }
func (Chat) Kind() Kind               { return KindChat }
func (StopChatCompletion) Kind() Kind { return KindStopChatCompletion }
func (StartLocalServer) Kind() Kind   { return KindStartLocalServer }
func (StopLocalServer) Kind() Kind    { return KindStopLocalServer }

func (GetFeaturedModels) command()  {}
func (SearchModels) command()       {}
func (DownloadFile) command()       {}
func (GetDownloadedFiles) command() {}
func (LoadModel) command()          {}
func (EjectModel) command()         {}
func (GetLoadedModel) command()     {}
func (Chat) command()               {}
func (StopChatCompletion) command() {}
func (StartLocalServer) command()   {}
func (StopLocalServer) command()    {}

// replyBuffer sizes channels allocated by the constructors below so a slow
// consumer does not stall the worker on every progress tick.
const replyBuffer = 16

// NewGetFeaturedModels returns the command and its reply channel.
func NewGetFeaturedModels() (GetFeaturedModels, <-chan ModelsResult) {
	ch := make(chan ModelsResult, 1)
	return GetFeaturedModels{Reply: ch}, ch
}

// NewSearchModels returns the command and its reply channel.
func NewSearchModels(keywords string) (SearchModels, <-chan ModelsResult) {
	ch := make(chan ModelsResult, 1)
	return SearchModels{Keywords: keywords, Reply: ch}, ch
}

// NewDownloadFile returns the command and its reply channel.
func NewDownloadFile(id types.FileID) (DownloadFile, <-chan FileDownloadResponse) {
	ch := make(chan FileDownloadResponse, replyBuffer)
	return DownloadFile{FileID: id, Reply: ch}, ch
}

// NewGetDownloadedFiles returns the command and its reply channel.
func NewGetDownloadedFiles() (GetDownloadedFiles, <-chan DownloadedFilesResult) {
	ch := make(chan DownloadedFilesResult, 1)
	return GetDownloadedFiles{Reply: ch}, ch
}

// NewLoadModel returns the command and its reply channel.
func NewLoadModel(id types.FileID, opts types.LoadModelOptions) (LoadModel, <-chan LoadModelResponse) {
	ch := make(chan LoadModelResponse, replyBuffer)
	return LoadModel{FileID: id, Options: opts, Reply: ch}, ch
}

// NewGetLoadedModel returns the command and its reply channel.
func NewGetLoadedModel() (GetLoadedModel, <-chan *types.ModelResourcesInfo) {
	ch := make(chan *types.ModelResourcesInfo, 1)
	return GetLoadedModel{Reply: ch}, ch
}

// NewChat returns the command, with a fresh ID, and its reply channel.
func NewChat(payload string) (Chat, <-chan ChatResult) {
	ch := make(chan ChatResult, replyBuffer)
	return Chat{ID: uuid.NewString(), Payload: payload, Reply: ch}, ch
}

// NewStartLocalServer returns the command and its reply channel.
func NewStartLocalServer(cfg types.LocalServerConfig) (StartLocalServer, <-chan LocalServerResponse) {
	ch := make(chan LocalServerResponse, replyBuffer)
	return StartLocalServer{Config: cfg, Reply: ch}, ch
}
