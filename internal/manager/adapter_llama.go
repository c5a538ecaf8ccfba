//go:build llama

package manager

import (
	"context"
	"errors"
	"os"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"moxind/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaAdapter loads models in-process through go-llama.cpp.
type llamaAdapter struct {
	threads int
}

func NewLlamaAdapter(threads int) InferenceAdapter {
	return &llamaAdapter{threads: threads}
}

// llamaSession owns the loaded model
type llamaSession struct {
	model *llama.LLama
	opts  types.LoadModelOptions
	info  SessionInfo
}

func (a *llamaAdapter) Load(ctx context.Context, modelPath string, opts types.LoadModelOptions, progress func(float32)) (ModelSession, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(int(opts.NCtx)),
		llama.SetNBatch(int(opts.NBatch)),
		llama.SetRopeFreqBase(opts.RopeFreqBase),
		llama.SetRopeFreqScale(opts.RopeFreqScale),
	}
	ngl := maxGPULayersFlag
	if n, ok := opts.GPULayers.Count(); ok {
		ngl = int(n)
	}
	mo = append(mo, llama.SetGPULayers(ngl))
	if opts.UseMlock {
		mo = append(mo, llama.EnableMLock)
	}
	if progress != nil {
		progress(0)
	}

	type result struct {
		m   *llama.LLama
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := llama.New(modelPath, mo...)
		done <- result{m, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &llamaSession{
			model: r.m,
			opts:  opts,
			info: SessionInfo{
				Backend:    "go-llama.cpp",
				PID:        os.Getpid(),
				GPULayers:  uint32(ngl),
				CPUThreads: cpuThreads(a.threads),
				Mlock:      opts.UseMlock,
				NCtx:       opts.NCtx,
				NBatch:     opts.NBatch,
			},
		}, nil
	case <-ctx.Done():
		// llama.New cannot be interrupted; free the model once it lands.
		go func() {
			if r := <-done; r.m != nil {
				r.m.Free()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *llamaSession) Info() SessionInfo { return s.info }

func (s *llamaSession) Chat(ctx context.Context, req ChatParams, onDelta func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	var deltaErr error
	n := 0
	// Bridge token streaming to onDelta and respect cancellation
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onDelta(tok); err != nil {
			deltaErr = err
			return false
		}
		n++
		return true
	})
	prompt := formatPrompt(req, s.opts.PromptTemplate)
	text, err := s.model.Predict(prompt, predictOptions(req, s.opts, int(s.info.CPUThreads))...)
	if deltaErr != nil {
		return FinalResult{Content: text}, deltaErr
	}
	if ctx.Err() != nil {
		return FinalResult{Content: text}, ctx.Err()
	}
	if err != nil {
		return FinalResult{}, err
	}
	finish := "stop"
	if req.MaxTokens > 0 && n >= req.MaxTokens {
		finish = "length"
	}
	return FinalResult{
		Content:      text,
		Usage:        Usage{CompletionTokens: n, TotalTokens: n},
		FinishReason: finish,
	}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

// predictOptions converts chat params into go-llama.cpp options.
func predictOptions(req ChatParams, opts types.LoadModelOptions, threads int) []llama.PredictOption {
	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = int(opts.NCtx)
	}
	po := []llama.PredictOption{
		llama.SetTokens(tokens),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(orDefault(req.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orDefault(req.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orDefault(req.Temperature, llama.DefaultOptions.Temperature)),
	}
	if req.Seed != nil {
		po = append(po, llama.SetSeed(int(*req.Seed)))
	}
	if len(req.Stop) > 0 {
		po = append(po, llama.SetStopWords(req.Stop...))
	}
	return po
}

func orDefault[T any](v *T, def T) T {
	if v != nil {
		return *v
	}
	return def
}
