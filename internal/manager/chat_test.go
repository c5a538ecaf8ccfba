package manager

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

func TestChatWhileIdleDoesNotTouchEngine(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"x"}}
	m := newTestManager(t, fa)
	_, err := m.Chat(testCtx(t), helloPayload, nil)
	if !errors.Is(err, protocol.ErrBackendNotRun) {
		t.Fatalf("expected BackendNotRun, got %v", err)
	}
	if fa.chats.Load() != 0 || fa.loads.Load() != 0 {
		t.Fatalf("engine was touched")
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s", m.State())
	}
}

func TestChatPayloadValidation(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"x"}}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))

	cases := []struct {
		name    string
		payload string
		want    *protocol.ChatError
	}{
		{"too large", `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 2000) + `"}]}`, protocol.ErrTooLarge},
		{"invalid utf8", "{\"messages\":[{\"role\":\"user\",\"content\":\"\xff\xfe\"}]}", protocol.ErrInvalidEncoding},
		{"not json", `{"messages":`, protocol.ErrChatOther},
		{"trailing data", helloPayload + `{}`, protocol.ErrChatOther},
		{"no messages", `{"messages":[]}`, protocol.ErrChatOther},
		{"bad role", `{"messages":[{"role":"robot","content":"hi"}]}`, protocol.ErrChatOther},
		{"bad temperature", `{"messages":[{"role":"user","content":"hi"}],"temperature":5}`, protocol.ErrChatOther},
		{"not an object", `[1,2,3]`, protocol.ErrChatOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Chat(testCtx(t), tc.payload, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want kind %s", err, tc.want.Kind)
			}
			if tc.want == protocol.ErrChatOther && !errors.Is(err, protocol.ErrInvalidRequest) {
				t.Fatalf("malformed request should wrap ErrInvalidRequest: %v", err)
			}
		})
	}
	if fa.chats.Load() != 0 {
		t.Fatalf("invalid payloads must not reach the engine")
	}
	if m.State() != StateLoaded {
		t.Fatalf("state = %s", m.State())
	}
}

func TestChatNonStreaming(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"Hello", " world"}, final: FinalResult{FinishReason: "stop", Usage: Usage{PromptTokens: 3, CompletionTokens: 2}}}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))

	emitted := 0
	resp, err := m.Chat(testCtx(t), helloPayload, func(protocol.ChatResponse) error { emitted++; return nil })
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if emitted != 0 {
		t.Fatalf("non-streaming chat should not emit chunks, got %d", emitted)
	}
	if resp.Kind != protocol.ChatCompletionKind || resp.Data == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	var cc types.ChatCompletion
	if err := json.Unmarshal([]byte(resp.JSON), &cc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cc.Object != "chat.completion" || len(cc.Choices) != 1 || cc.Choices[0].Message.Content != "Hello world" {
		t.Fatalf("unexpected completion: %+v", cc)
	}
	if cc.Usage.TotalTokens != 5 || !strings.HasPrefix(cc.ID, "chatcmpl-") || cc.Model != "a.gguf" {
		t.Fatalf("unexpected completion metadata: %+v", cc)
	}
	d := resp.Data
	if d.StopReason != types.StopReasonCompleted || d.Response != resp.JSON || d.TokenCount != 2 {
		t.Fatalf("unexpected data: %+v", d)
	}
	if d.TokenLimit != 2048 || d.GPULayers != 32 || d.CPUThreads != 4 {
		t.Fatalf("session info not reported: %+v", d)
	}
	if m.State() != StateLoaded {
		t.Fatalf("state = %s", m.State())
	}
}

func TestChatStreaming(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"a", "b", "c"}}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))

	var chunks []protocol.ChatResponse
	resp, err := m.Chat(testCtx(t), `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, func(r protocol.ChatResponse) error {
		chunks = append(chunks, r)
		return nil
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Kind != protocol.ChatCompletionChunkKind || c.Data != nil {
			t.Fatalf("chunk %d: %+v", i, c)
		}
	}
	var first types.ChatCompletionChunk
	if err := json.Unmarshal([]byte(chunks[0].JSON), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Choices[0].Delta.Role != "assistant" || first.Choices[0].Delta.Content != "a" || first.Choices[0].FinishReason != nil {
		t.Fatalf("unexpected first chunk: %s", chunks[0].JSON)
	}

	if resp.Kind != protocol.ChatCompletionChunkKind || resp.Data == nil {
		t.Fatalf("terminal reply should be a chunk with data: %+v", resp)
	}
	var last types.ChatCompletionChunk
	if err := json.Unmarshal([]byte(resp.JSON), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "stop" || last.ID != first.ID {
		t.Fatalf("unexpected final chunk: %s", resp.JSON)
	}
	if resp.Data.TokenCount != 3 || completionText(t, resp.Data.Response) != "abc" {
		t.Fatalf("unexpected data: %+v", resp.Data)
	}
}

func TestStopChatCompletion(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"partial"}, block: true, started: make(chan struct{})}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))

	// No-op outside a generation.
	m.StopChatCompletion()

	type out struct {
		resp protocol.ChatResponse
		err  error
	}
	res := make(chan out, 1)
	go func() {
		r, err := m.Chat(context.Background(), helloPayload, nil)
		res <- out{r, err}
	}()
	<-fa.started
	if m.State() != StateGenerating {
		t.Fatalf("state = %s", m.State())
	}

	// A second chat is rejected while generating.
	if _, err := m.Chat(testCtx(t), helloPayload, nil); !errors.Is(err, protocol.ErrChatOther) || !errors.Is(err, protocol.ErrStateConflict) {
		t.Fatalf("expected Other(state conflict), got %v", err)
	}

	m.StopChatCompletion()
	select {
	case o := <-res:
		if o.err != nil {
			t.Fatalf("stopped chat should succeed, got %v", o.err)
		}
		if o.resp.Data == nil || o.resp.Data.StopReason != types.StopReasonStopped || completionText(t, o.resp.Data.Response) != "partial" {
			t.Fatalf("unexpected terminal: %+v", o.resp.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("chat did not stop")
	}
	if m.State() != StateLoaded {
		t.Fatalf("state after stop = %s", m.State())
	}
}

func TestChatEndOfSequence(t *testing.T) {
	m := newTestManager(t, &fakeAdapter{})
	mustLoad(t, m, downloaded(t, "a.gguf"))
	if _, err := m.Chat(testCtx(t), helloPayload, nil); !errors.Is(err, protocol.ErrEndOfSequence) {
		t.Fatalf("expected EndOfSequence, got %v", err)
	}
	if m.State() != StateLoaded {
		t.Fatalf("state = %s", m.State())
	}
}

func TestChatEngineErrorsKeepKind(t *testing.T) {
	fa := &fakeAdapter{chatErr: protocol.NewChatError(protocol.ChatContextFull, errors.New("full"))}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))
	if _, err := m.Chat(testCtx(t), helloPayload, nil); !errors.Is(err, protocol.ErrContextFull) {
		t.Fatalf("expected ContextFull, got %v", err)
	}
	fa.chatErr = errBoom
	_, err := m.Chat(testCtx(t), helloPayload, nil)
	if !errors.Is(err, protocol.ErrChatOther) || !errors.Is(err, errBoom) {
		t.Fatalf("expected Other(boom), got %v", err)
	}
	if m.State() != StateLoaded {
		t.Fatalf("state = %s", m.State())
	}
}

func TestChatCallerCancelIsOther(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"a"}, block: true, started: make(chan struct{})}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))
	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		_, err := m.Chat(ctx, helloPayload, nil)
		res <- err
	}()
	<-fa.started
	cancel()
	err := <-res
	if !errors.Is(err, protocol.ErrChatOther) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Other(canceled), got %v", err)
	}
}

func TestChatStoppedByCauseEndsStopped(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"partial"}, block: true, started: make(chan struct{})}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))
	ctx, cancel := context.WithCancelCause(context.Background())
	type out struct {
		resp protocol.ChatResponse
		err  error
	}
	res := make(chan out, 1)
	go func() {
		r, err := m.Chat(ctx, helloPayload, nil)
		res <- out{r, err}
	}()
	<-fa.started
	cancel(protocol.ErrChatStopped)
	o := <-res
	if o.err != nil {
		t.Fatalf("stopped chat should succeed, got %v", o.err)
	}
	if o.resp.Data == nil || o.resp.Data.StopReason != types.StopReasonStopped {
		t.Fatalf("unexpected terminal: %+v", o.resp.Data)
	}
	if m.State() != StateLoaded {
		t.Fatalf("state = %s", m.State())
	}
}

func TestChatEmitErrorAbortsGeneration(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"a", "b"}}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))
	_, err := m.Chat(testCtx(t), `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, func(protocol.ChatResponse) error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected emit error, got %v", err)
	}
}

func TestChatForwardsParams(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"x"}}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))
	payload := `{"messages":[{"role":"system","content":"s"},{"role":"user","content":"u"}],"stop":"END","max_tokens":7,"temperature":0.5,"top_k":3,"seed":42,"raw_prompt":true}`
	if _, err := m.Chat(testCtx(t), payload, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	fa.mu.Lock()
	req := fa.lastReq
	fa.mu.Unlock()
	if len(req.Messages) != 2 || req.MaxTokens != 7 || req.TopK == nil || *req.TopK != 3 || req.Seed == nil || *req.Seed != 42 || !req.Raw {
		t.Fatalf("params not forwarded: %+v", req)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "END" {
		t.Fatalf("string stop not normalized: %v", req.Stop)
	}
	if req.Temperature == nil || *req.Temperature != 0.5 {
		t.Fatalf("temperature = %v", req.Temperature)
	}
	if req.TopP != nil {
		t.Fatalf("unset top_p should stay nil, got %v", *req.TopP)
	}
}

func TestChatKeepsExplicitZeroSampling(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"x"}}
	m := newTestManager(t, fa)
	mustLoad(t, m, downloaded(t, "a.gguf"))
	payload := `{"messages":[{"role":"user","content":"u"}],"temperature":0,"seed":0}`
	if _, err := m.Chat(testCtx(t), payload, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	fa.mu.Lock()
	req := fa.lastReq
	fa.mu.Unlock()
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Fatalf("temperature 0 lost: %v", req.Temperature)
	}
	if req.Seed == nil || *req.Seed != 0 {
		t.Fatalf("seed 0 lost: %v", req.Seed)
	}
}

func completionText(t *testing.T, raw string) string {
	t.Helper()
	var cc types.ChatCompletion
	if err := json.Unmarshal([]byte(raw), &cc); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if len(cc.Choices) != 1 {
		t.Fatalf("choices = %d", len(cc.Choices))
	}
	return cc.Choices[0].Message.Content
}
