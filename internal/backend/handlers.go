package backend

import (
	"context"
	"errors"

	"moxind/internal/store"
	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

func (b *Backend) registerDefaults() {
	b.handlers[protocol.KindGetFeaturedModels] = HandlerFunc(b.getFeaturedModels)
	b.handlers[protocol.KindSearchModels] = HandlerFunc(b.searchModels)
	b.handlers[protocol.KindDownloadFile] = HandlerFunc(b.downloadFile)
	b.handlers[protocol.KindGetDownloadedFiles] = HandlerFunc(b.getDownloadedFiles)
	b.handlers[protocol.KindLoadModel] = HandlerFunc(b.loadModel)
	b.handlers[protocol.KindEjectModel] = HandlerFunc(b.ejectModel)
	b.handlers[protocol.KindGetLoadedModel] = HandlerFunc(b.getLoadedModel)
	b.handlers[protocol.KindChat] = HandlerFunc(b.chat)
	b.handlers[protocol.KindStopChatCompletion] = HandlerFunc(b.stopChatCompletion)
	b.handlers[protocol.KindStartLocalServer] = HandlerFunc(b.startLocalServer)
	b.handlers[protocol.KindStopLocalServer] = HandlerFunc(b.stopLocalServer)
}

func (b *Backend) getFeaturedModels(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.GetFeaturedModels)
	defer close(c.Reply)
	send(ctx, c.Reply, protocol.ModelsResult{Models: b.opts.Catalog.Featured()})
}

func (b *Backend) searchModels(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.SearchModels)
	defer close(c.Reply)
	send(ctx, c.Reply, protocol.ModelsResult{Models: b.opts.Catalog.Search(c.Keywords)})
}

func (b *Backend) downloadFile(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.DownloadFile)
	defer close(c.Reply)
	file, err := b.opts.Downloader.Download(ctx, c.FileID, func(f float32) {
		send[protocol.FileDownloadResponse](ctx, c.Reply, protocol.FileDownloadProgress{FileID: c.FileID, Fraction: f})
	})
	if err != nil {
		b.log.Debug().Err(err).Str("file", string(c.FileID)).Msg("backend: download failed")
		send[protocol.FileDownloadResponse](ctx, c.Reply, protocol.FileDownloadFailed{FileID: c.FileID, Err: err})
		return
	}
	send[protocol.FileDownloadResponse](ctx, c.Reply, protocol.FileDownloadCompleted{File: file})
}

func (b *Backend) getDownloadedFiles(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.GetDownloadedFiles)
	defer close(c.Reply)
	files, err := b.opts.Store.List()
	send(ctx, c.Reply, protocol.DownloadedFilesResult{Files: files, Err: err})
}

func (b *Backend) loadModel(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.LoadModel)
	defer close(c.Reply)
	fail := func(err error) {
		send[protocol.LoadModelResponse](ctx, c.Reply, protocol.LoadModelFailed{FileID: c.FileID, Err: err})
	}

	df, err := b.opts.Store.Get(c.FileID)
	if errors.Is(err, store.ErrNotFound) {
		// No path: the manager reports a state conflict first, else
		// ErrNotDownloaded.
		df = types.DownloadedFile{File: types.File{ID: c.FileID}}
	} else if err != nil {
		fail(err)
		return
	}

	info, err := b.opts.Manager.LoadModel(ctx, df, c.Options,
		func(f float32) {
			send[protocol.LoadModelResponse](ctx, c.Reply, protocol.LoadModelProgress{FileID: c.FileID, Fraction: f})
		},
		func(u types.ModelResourcesInfo) {
			send[protocol.LoadModelResponse](ctx, c.Reply, protocol.LoadModelResourcesUsage{Info: u})
		},
	)
	if err != nil {
		fail(err)
		return
	}
	send[protocol.LoadModelResponse](ctx, c.Reply, protocol.LoadModelCompleted{Info: info})
}

func (b *Backend) ejectModel(_ context.Context, cmd protocol.Command) {
	b.opts.Manager.EjectModel(cmd.(protocol.EjectModel).FileID)
}

func (b *Backend) getLoadedModel(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.GetLoadedModel)
	defer close(c.Reply)
	send(ctx, c.Reply, b.opts.Manager.LoadedModel())
}

// chat hands the manager a context that a targeted stop cancels, while
// replies keep flowing on the Run context so the terminal one is delivered.
func (b *Backend) chat(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.Chat)
	defer close(c.Reply)
	genCtx, cancel := b.chatContext(ctx, c)
	defer cancel()
	if errors.Is(context.Cause(genCtx), protocol.ErrChatStopped) {
		// Stopped while queued: the session is never touched.
		send(ctx, c.Reply, protocol.ChatResult{Err: protocol.NewChatError(protocol.ChatOther, protocol.ErrChatStopped)})
		return
	}
	resp, err := b.opts.Manager.Chat(genCtx, c.Payload, func(r protocol.ChatResponse) error {
		if !send(ctx, c.Reply, protocol.ChatResult{Response: &r}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		send(ctx, c.Reply, protocol.ChatResult{Err: protocol.AsChatError(err)})
		return
	}
	send(ctx, c.Reply, protocol.ChatResult{Response: &resp})
}

func (b *Backend) stopChatCompletion(_ context.Context, cmd protocol.Command) {
	if id := cmd.(protocol.StopChatCompletion).ID; id != "" {
		b.cancelChat(id)
		return
	}
	b.opts.Manager.StopChatCompletion()
}

func (b *Backend) stopLocalServer(context.Context, protocol.Command) {
	b.opts.Manager.StopServer()
}
