package manager

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// Chat runs one chat completion against the loaded model. Streaming chunks
// are passed to emit; the terminal reply (carrying ChatCompletionData) is
// returned. A non-nil error is always a *protocol.ChatError.
//
// Only valid from Loaded: Idle and Loading yield BackendNotRun without
// touching the engine, and a chat already in flight yields Other wrapping
// protocol.ErrStateConflict.
func (m *Manager) Chat(ctx context.Context, payload string, emit func(protocol.ChatResponse) error) (protocol.ChatResponse, error) {
	req, cerr := parseChatPayload(payload, m.cfg.MaxPayloadBytes)
	if cerr != nil {
		return m.chatFailed(cerr)
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return m.chatFailed(protocol.NewChatError(protocol.ChatBackendNotRun, protocol.ErrClosed))
	case m.state == StateIdle || m.state == StateLoading || m.ejecting:
		st := m.state
		m.mu.Unlock()
		return m.chatFailed(protocol.NewChatError(protocol.ChatBackendNotRun, errors.New("no model loaded ("+string(st)+")")))
	case m.state == StateGenerating:
		m.mu.Unlock()
		return m.chatFailed(protocol.NewChatError(protocol.ChatOther, stateConflictError{op: "chat", state: StateGenerating}))
	}
	genCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	cur := m.cur
	m.state = StateGenerating
	m.genCancel = cancel
	m.genDone = done
	m.genStopped = false
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		if m.state == StateGenerating {
			m.state = StateLoaded
		}
		m.genCancel = nil
		m.genDone = nil
		m.genStopped = false
		m.chatsTotal++
		m.mu.Unlock()
		close(done)
	}()

	op := newOpID()
	fileID := string(cur.File.ID)
	m.publish(Event{Name: "chat_start", OpID: op, FileID: fileID, Fields: map[string]any{"stream": req.Stream, "messages": len(req.Messages)}})

	g := &generation{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   modelName(req, cur),
		created: time.Now().Unix(),
		stream:  req.Stream,
		start:   time.Now(),
		emit:    emit,
	}
	final, err := cur.sess.Chat(genCtx, chatParams(req), g.onDelta)

	// Stop and eject cancel genCtx but leave the caller's ctx alive. A caller
	// ctx canceled with protocol.ErrChatStopped is a stop of this chat only.
	m.mu.RLock()
	stopped := m.genStopped || errors.Is(context.Cause(ctx), protocol.ErrChatStopped)
	m.mu.RUnlock()

	switch {
	case g.emitErr != nil:
		return m.chatFailed(protocol.NewChatError(protocol.ChatOther, g.emitErr))
	case ctx.Err() != nil && !stopped:
		return m.chatFailed(protocol.NewChatError(protocol.ChatOther, ctx.Err()))
	case err != nil && !(stopped && errors.Is(err, context.Canceled)):
		return m.chatFailed(protocol.AsChatError(err))
	}

	text := final.Content
	if text == "" {
		text = g.text.String()
	}
	tokens := final.Usage.CompletionTokens
	if tokens <= 0 {
		tokens = g.deltas
	}
	if !stopped && tokens == 0 && text == "" {
		return m.chatFailed(protocol.NewChatError(protocol.ChatEndOfSequence, errors.New("generation produced no tokens")))
	}

	reason := types.StopReasonCompleted
	if stopped {
		reason = types.StopReasonStopped
	}
	data := g.data(tokens, reason, cur.Info)
	resp := g.terminal(text, final, data)

	chatCompletionsTotal.WithLabelValues(string(reason)).Inc()
	if data.Speed > 0 {
		chatTokensPerSecond.Observe(float64(data.Speed))
	}
	m.publish(Event{Name: "chat_done", OpID: op, FileID: fileID, Fields: map[string]any{"tokens": tokens, "stop_reason": string(reason)}})
	return resp, nil
}

// StopChatCompletion cancels the generation in flight. The interrupted Chat
// completes with StopReasonStopped. No-op in any other state. To stop one
// particular chat, cancel its ctx with cause protocol.ErrChatStopped.
func (m *Manager) StopChatCompletion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateGenerating || m.genCancel == nil {
		return
	}
	m.genStopped = true
	m.genCancel()
}

func (m *Manager) chatFailed(ce *protocol.ChatError) (protocol.ChatResponse, error) {
	chatErrorsTotal.WithLabelValues(ce.Kind.String()).Inc()
	m.log.Debug().Err(ce).Str("kind", ce.Kind.String()).Msg("manager: chat failed")
	return protocol.ChatResponse{}, ce
}

func modelName(req types.ChatRequest, cur *loaded) string {
	if req.Model != "" {
		return req.Model
	}
	return string(cur.File.ID)
}

// generation accumulates one Chat call's output and timings.
type generation struct {
	id      string
	model   string
	created int64
	stream  bool
	emit    func(protocol.ChatResponse) error

	start   time.Time
	first   time.Time
	deltas  int
	text    strings.Builder
	emitErr error
}

func (g *generation) onDelta(s string) error {
	if s == "" {
		return nil
	}
	if g.deltas == 0 {
		g.first = time.Now()
	}
	g.deltas++
	g.text.WriteString(s)
	if !g.stream || g.emit == nil {
		return nil
	}
	delta := types.ChatDelta{Content: s}
	if g.deltas == 1 {
		delta.Role = "assistant"
	}
	if err := g.emit(protocol.ChatResponse{Kind: protocol.ChatCompletionChunkKind, JSON: g.chunkJSON(delta, nil)}); err != nil {
		g.emitErr = err
		return err
	}
	return nil
}

func (g *generation) chunkJSON(delta types.ChatDelta, finish *string) string {
	b, _ := json.Marshal(types.ChatCompletionChunk{
		ID:      g.id,
		Object:  "chat.completion.chunk",
		Created: g.created,
		Model:   g.model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
	return string(b)
}

func (g *generation) data(tokens int, reason types.StopReason, info SessionInfo) types.ChatCompletionData {
	now := time.Now()
	d := types.ChatCompletionData{
		TimeToGenerate: float32(now.Sub(g.start).Seconds()),
		GPULayers:      info.GPULayers,
		CPUThreads:     info.CPUThreads,
		Mlock:          info.Mlock,
		TokenCount:     uint32(tokens),
		TokenLimit:     info.NCtx,
		StopReason:     reason,
	}
	if !g.first.IsZero() {
		d.TimeToFirstToken = float32(g.first.Sub(g.start).Seconds())
		if gen := now.Sub(g.first).Seconds(); gen > 0 && tokens > 0 {
			d.Speed = float32(float64(tokens) / gen)
		}
	}
	return d
}

func (g *generation) terminal(text string, final FinalResult, data types.ChatCompletionData) protocol.ChatResponse {
	finish := final.FinishReason
	if finish == "" || data.StopReason == types.StopReasonStopped {
		finish = "stop"
	}
	usage := types.Usage{
		PromptTokens:     final.Usage.PromptTokens,
		CompletionTokens: int(data.TokenCount),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	b, _ := json.Marshal(types.ChatCompletion{
		ID:      g.id,
		Object:  "chat.completion",
		Created: g.created,
		Model:   g.model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatMessage{Role: "assistant", Content: text},
			FinishReason: finish,
		}},
		Usage: usage,
	})
	// Data always carries the assembled completion, streamed or not.
	data.Response = string(b)
	if g.stream {
		return protocol.ChatResponse{
			Kind: protocol.ChatCompletionChunkKind,
			JSON: g.chunkJSON(types.ChatDelta{}, &finish),
			Data: &data,
		}
	}
	return protocol.ChatResponse{Kind: protocol.ChatCompletionKind, JSON: data.Response, Data: &data}
}
