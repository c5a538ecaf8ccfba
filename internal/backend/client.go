package backend

import (
	"context"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// Client wraps the command sink with synchronous calls. It is what the CLI
// and the local HTTP server use to talk to the backend.
type Client struct {
	b *Backend
}

// Client returns a synchronous client for b.
func (b *Backend) Client() *Client { return &Client{b: b} }

// Featured returns the featured models.
func (c *Client) Featured(ctx context.Context) ([]types.Model, error) {
	cmd, ch := protocol.NewGetFeaturedModels()
	if err := c.b.Send(cmd); err != nil {
		return nil, err
	}
	return protocol.AwaitModels(ctx, ch)
}

// Search returns the models matching keywords.
func (c *Client) Search(ctx context.Context, keywords string) ([]types.Model, error) {
	cmd, ch := protocol.NewSearchModels(keywords)
	if err := c.b.Send(cmd); err != nil {
		return nil, err
	}
	return protocol.AwaitModels(ctx, ch)
}

// Download fetches id, reporting progress. Canceling ctx stops waiting but
// not the download itself.
func (c *Client) Download(ctx context.Context, id types.FileID, onProgress func(float32)) (types.File, error) {
	cmd, ch := protocol.NewDownloadFile(id)
	if err := c.b.Send(cmd); err != nil {
		return types.File{}, err
	}
	return protocol.AwaitDownload(ctx, ch, onProgress)
}

// DownloadedFiles lists every downloaded file.
func (c *Client) DownloadedFiles(ctx context.Context) ([]types.DownloadedFile, error) {
	cmd, ch := protocol.NewGetDownloadedFiles()
	if err := c.b.Send(cmd); err != nil {
		return nil, err
	}
	select {
	case r, ok := <-ch:
		if !ok {
			return nil, protocol.ErrAbnormalTermination
		}
		return r.Files, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Models implements httpapi.Service.
func (c *Client) Models(ctx context.Context) ([]types.DownloadedFile, error) {
	return c.DownloadedFiles(ctx)
}

// Load loads id with opts and waits for the terminal reply.
func (c *Client) Load(ctx context.Context, id types.FileID, opts types.LoadModelOptions, onProgress func(float32)) (types.LoadedModelInfo, error) {
	cmd, ch := protocol.NewLoadModel(id, opts)
	if err := c.b.Send(cmd); err != nil {
		return types.LoadedModelInfo{}, err
	}
	return protocol.AwaitLoad(ctx, ch, onProgress)
}

// Eject unloads id if it is the loaded model.
func (c *Client) Eject(id types.FileID) error {
	return c.b.Send(protocol.EjectModel{FileID: id})
}

// LoadedModel returns a resource snapshot of the loaded model, nil when idle.
func (c *Client) LoadedModel(ctx context.Context) (*types.ModelResourcesInfo, error) {
	cmd, ch := protocol.NewGetLoadedModel()
	if err := c.b.Send(cmd); err != nil {
		return nil, err
	}
	select {
	case info, ok := <-ch:
		if !ok {
			return nil, protocol.ErrAbnormalTermination
		}
		return info, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Chat runs payload and returns the terminal reply. onChunk sees every
// non-terminal reply; returning an error from it stops the generation.
// Canceling ctx stops the generation too. Either way only this call's chat
// is stopped; Chat waits for the backend to finish it and returns a
// ChatOther error.
func (c *Client) Chat(ctx context.Context, payload string, onChunk func(protocol.ChatResponse) error) (protocol.ChatResponse, error) {
	cmd, ch := protocol.NewChat(payload)
	if err := c.b.Send(cmd); err != nil {
		return protocol.ChatResponse{}, protocol.NewChatError(protocol.ChatOther, err)
	}
	abort := func(cause error) (protocol.ChatResponse, error) {
		_ = c.b.Send(protocol.StopChatCompletion{ID: cmd.ID})
		protocol.Drain(ch)
		return protocol.ChatResponse{}, protocol.NewChatError(protocol.ChatOther, cause)
	}
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return protocol.ChatResponse{}, protocol.NewChatError(protocol.ChatOther, protocol.ErrAbnormalTermination)
			}
			if r.Err != nil {
				return protocol.ChatResponse{}, r.Err
			}
			if r.Response == nil {
				continue
			}
			if r.Terminal() {
				return *r.Response, nil
			}
			if onChunk != nil {
				if err := onChunk(*r.Response); err != nil {
					return abort(err)
				}
			}
		case <-ctx.Done():
			return abort(ctx.Err())
		}
	}
}

// StartServer starts the local server and returns once it is bound. Log
// lines are passed to onLog until the server stops; the returned channel
// is closed at that point.
func (c *Client) StartServer(ctx context.Context, cfg types.LocalServerConfig, onLog func(string)) (string, <-chan struct{}, error) {
	cmd, ch := protocol.NewStartLocalServer(cfg)
	if err := c.b.Send(cmd); err != nil {
		return "", nil, err
	}
	var addr string
	select {
	case r, ok := <-ch:
		if !ok {
			return "", nil, protocol.ErrAbnormalTermination
		}
		switch v := r.(type) {
		case protocol.LocalServerStarted:
			addr = v.Addr
		case protocol.LocalServerFailed:
			return "", nil, v.Err
		default:
			return "", nil, protocol.ErrAbnormalTermination
		}
	case <-ctx.Done():
		go func() {
			for r := range ch {
				if _, ok := r.(protocol.LocalServerStarted); ok {
					_ = c.StopServer()
				}
			}
		}()
		return "", nil, ctx.Err()
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for r := range ch {
			if l, ok := r.(protocol.LocalServerLog); ok && onLog != nil {
				onLog(l.Line)
			}
		}
	}()
	return addr, stopped, nil
}

// StopServer stops the local server, if running.
func (c *Client) StopServer() error {
	return c.b.Send(protocol.StopLocalServer{})
}

// Status implements httpapi.Service.
func (c *Client) Status() types.StatusResponse { return c.b.opts.Manager.Status() }

// Ready implements httpapi.Service.
func (c *Client) Ready() bool { return c.b.opts.Manager.Ready() }
