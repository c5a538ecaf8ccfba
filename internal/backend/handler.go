package backend

import (
	"context"
	"errors"

	"moxind/pkg/protocol"
)

// CommandHandler serves one command kind. Handle owns cmd's reply channel:
// it must write the terminal reply and close the channel before returning.
type CommandHandler interface {
	Handle(ctx context.Context, cmd protocol.Command)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd protocol.Command)

func (f HandlerFunc) Handle(ctx context.Context, cmd protocol.Command) { f(ctx, cmd) }

// send delivers v unless ctx ends first. Room in the buffer wins over a
// canceled ctx so terminal replies survive shutdown whenever possible.
func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// offer delivers v only if it does not block.
func offer[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// reject answers cmd with a terminal failure and closes its reply channel.
// It never blocks: a full or unbuffered channel is just closed, which the
// caller observes as ErrAbnormalTermination.
func reject(cmd protocol.Command, err error) {
	switch c := cmd.(type) {
	case protocol.GetFeaturedModels:
		if c.Reply != nil {
			offer(c.Reply, protocol.ModelsResult{Err: err})
			close(c.Reply)
		}
	case protocol.SearchModels:
		if c.Reply != nil {
			offer(c.Reply, protocol.ModelsResult{Err: err})
			close(c.Reply)
		}
	case protocol.DownloadFile:
		if c.Reply != nil {
			offer[protocol.FileDownloadResponse](c.Reply, protocol.FileDownloadFailed{FileID: c.FileID, Err: err})
			close(c.Reply)
		}
	case protocol.GetDownloadedFiles:
		if c.Reply != nil {
			offer(c.Reply, protocol.DownloadedFilesResult{Err: err})
			close(c.Reply)
		}
	case protocol.LoadModel:
		if c.Reply != nil {
			offer[protocol.LoadModelResponse](c.Reply, protocol.LoadModelFailed{FileID: c.FileID, Err: err})
			close(c.Reply)
		}
	case protocol.GetLoadedModel:
		if c.Reply != nil {
			close(c.Reply)
		}
	case protocol.Chat:
		if c.Reply != nil {
			offer(c.Reply, protocol.ChatResult{Err: protocol.NewChatError(protocol.ChatOther, err)})
			close(c.Reply)
		}
	case protocol.StartLocalServer:
		if c.Reply != nil {
			offer[protocol.LocalServerResponse](c.Reply, protocol.LocalServerFailed{Err: err})
			close(c.Reply)
		}
	}
}

// ErrNoReply is returned by Send for a reply-carrying command whose reply
// channel is nil.
var ErrNoReply = errors.New("command has no reply channel")

func missingReply(cmd protocol.Command) bool {
	switch c := cmd.(type) {
	case protocol.GetFeaturedModels:
		return c.Reply == nil
	case protocol.SearchModels:
		return c.Reply == nil
	case protocol.DownloadFile:
		return c.Reply == nil
	case protocol.GetDownloadedFiles:
		return c.Reply == nil
	case protocol.LoadModel:
		return c.Reply == nil
	case protocol.GetLoadedModel:
		return c.Reply == nil
	case protocol.Chat:
		return c.Reply == nil
	case protocol.StartLocalServer:
		return c.Reply == nil
	}
	return false
}
