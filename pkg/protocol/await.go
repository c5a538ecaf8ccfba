package protocol

import (
	"context"

	"moxind/pkg/types"
)

// Drain reads ch until it is closed and returns every reply in order.
func Drain[T any](ch <-chan T) []T {
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// AwaitModels waits for the single ModelsResult.
func AwaitModels(ctx context.Context, ch <-chan ModelsResult) ([]types.Model, error) {
	select {
	case r, ok := <-ch:
		if !ok {
			return nil, ErrAbnormalTermination
		}
		return r.Models, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitDownload consumes a DownloadFile reply stream, calling onProgress for
// each progress reply, and returns the completed file.
func AwaitDownload(ctx context.Context, ch <-chan FileDownloadResponse, onProgress func(float32)) (types.File, error) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return types.File{}, ErrAbnormalTermination
			}
			switch v := r.(type) {
			case FileDownloadProgress:
				if onProgress != nil {
					onProgress(v.Fraction)
				}
			case FileDownloadCompleted:
				return v.File, nil
			case FileDownloadFailed:
				return types.File{}, v.Err
			}
		case <-ctx.Done():
			return types.File{}, ctx.Err()
		}
	}
}

// AwaitLoad consumes a LoadModel reply stream and returns the loaded model info.
func AwaitLoad(ctx context.Context, ch <-chan LoadModelResponse, onProgress func(float32)) (types.LoadedModelInfo, error) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return types.LoadedModelInfo{}, ErrAbnormalTermination
			}
			switch v := r.(type) {
			case LoadModelProgress:
				if onProgress != nil {
					onProgress(v.Fraction)
				}
			case LoadModelCompleted:
				return v.Info, nil
			case LoadModelFailed:
				return types.LoadedModelInfo{}, v.Err
			}
		case <-ctx.Done():
			return types.LoadedModelInfo{}, ctx.Err()
		}
	}
}

// AwaitChat consumes a Chat reply stream. onResponse sees every successful
// reply including the terminal one. The terminal statistics are returned.
func AwaitChat(ctx context.Context, ch <-chan ChatResult, onResponse func(ChatResponse)) (types.ChatCompletionData, error) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return types.ChatCompletionData{}, NewChatError(ChatOther, ErrAbnormalTermination)
			}
			if r.Err != nil {
				return types.ChatCompletionData{}, r.Err
			}
			if r.Response == nil {
				continue
			}
			if onResponse != nil {
				onResponse(*r.Response)
			}
			if r.Response.Data != nil {
				return *r.Response.Data, nil
			}
		case <-ctx.Done():
			return types.ChatCompletionData{}, ctx.Err()
		}
	}
}
