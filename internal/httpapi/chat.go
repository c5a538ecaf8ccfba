package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// handleChat godoc
// @Summary      Chat completion
// @Description  OpenAI-compatible chat completion. With "stream": true the reply is a server-sent event stream of chat.completion.chunk objects ending with [DONE].
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body      types.ChatRequest  true  "Chat request"
// @Success      200      {object}  types.ChatCompletion
// @Failure      400      {object}  types.ErrorResponse
// @Failure      413      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", protocol.ChatTooLarge.String())
			return
		}
		writeJSONError(w, http.StatusBadRequest, "cannot read request body", "")
		return
	}
	payload, stream, err := s.preparePayload(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	lvl := requestLogLevel(r, s.defLevel)
	rid := middleware.GetReqID(r.Context())
	start := time.Now()
	if lvl >= LevelDebug {
		s.log.Debug().Str("request_id", rid).Str("body", payload).Msg("chat request")
	}
	if lvl >= LevelInfo {
		s.log.Info().Str("request_id", rid).Bool("stream", stream).Msg("chat start")
	}

	ctx, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()
	if s.opts.ChatTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, s.opts.ChatTimeout)
		defer tcancel()
	}

	release, err := s.adm.begin(ctx, s.opts.Server.RequestQueuing)
	if err != nil {
		var busy tooBusyError
		if errors.As(err, &busy) {
			IncrementBackpressure(busy.reason)
			s.logEnd(lvl, rid, http.StatusTooManyRequests, start, err)
			writeJSONError(w, http.StatusTooManyRequests, err.Error(), "")
			return
		}
		// Client went away while queued.
		return
	}
	defer release()

	var status int
	if stream {
		status, err = s.streamChat(ctx, w, payload, lvl, rid)
	} else {
		status, err = s.completeChat(ctx, w, payload)
	}
	if r.Context().Err() != nil {
		return
	}
	s.logEnd(lvl, rid, status, start, err)
}

// preparePayload extracts the stream flag and applies server-level request
// rewrites. Bodies that are not UTF-8 are passed through so the backend
// reports InvalidEncoding.
func (s *server) preparePayload(body []byte) (string, bool, error) {
	if !utf8.Valid(body) {
		return string(body), false, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false, err
	}
	var stream bool
	if raw, ok := obj["stream"]; ok {
		_ = json.Unmarshal(raw, &stream)
	}
	if s.opts.Server.ApplyPromptFormatting {
		return string(body), stream, nil
	}
	obj["raw_prompt"] = json.RawMessage("true")
	b, err := json.Marshal(obj)
	if err != nil {
		return "", false, err
	}
	return string(b), stream, nil
}

func (s *server) completeChat(ctx context.Context, w http.ResponseWriter, payload string) (int, error) {
	resp, err := s.svc.Chat(ctx, payload, func(protocol.ChatResponse) error { return nil })
	if err != nil {
		status, kind := chatStatus(err)
		writeJSONError(w, status, err.Error(), kind)
		return status, err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, resp.JSON)
	return http.StatusOK, nil
}

// streamChat writes chunks as server-sent events. Headers are sent with the
// first chunk, so a failure before any output still gets a JSON error.
func (s *server) streamChat(ctx context.Context, w http.ResponseWriter, payload string, lvl LogLevel, rid string) (int, error) {
	flusher, _ := w.(http.Flusher)
	out := io.Writer(w)
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: s.log, rid: rid})
	}
	started := false
	event := func(data string) error {
		if !started {
			h := w.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(out, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	resp, err := s.svc.Chat(ctx, payload, func(c protocol.ChatResponse) error { return event(c.JSON) })
	if err != nil {
		status, kind := chatStatus(err)
		if !started {
			writeJSONError(w, status, err.Error(), kind)
			return status, err
		}
		b, _ := json.Marshal(types.ErrorResponse{Error: err.Error(), Code: status, Kind: kind})
		_ = event(string(b))
		_ = event("[DONE]")
		return http.StatusOK, err
	}
	_ = event(resp.JSON)
	_ = event("[DONE]")
	return http.StatusOK, nil
}

func (s *server) logEnd(lvl LogLevel, rid string, status int, start time.Time, err error) {
	switch {
	case lvl >= LevelInfo:
	case lvl == LevelError && err != nil:
	default:
		return
	}
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("request_id", rid).Int("status", status).Dur("dur", time.Since(start)).Msg("chat end")
}
