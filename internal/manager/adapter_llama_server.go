package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// maxGPULayersFlag is passed as -ngl for GPULayersMax; llama.cpp clamps it
// to the model's layer count.
const maxGPULayersFlag = 999

// llamaServerAdapter spawns and manages one llama.cpp server per loaded model.
type llamaServerAdapter struct {
	bin        string
	host       string
	threads    int
	extraArgs  []string
	httpClient *http.Client
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[*llamaServerSession]struct{}
}

// NewLlamaServerAdapter constructs a subprocess-backed adapter.
func NewLlamaServerAdapter(cfg ManagerConfig, log zerolog.Logger) InferenceAdapter {
	host := strings.TrimSpace(cfg.LlamaHost)
	if host == "" {
		host = defaultLlamaHost
	}
	// Intentionally set Timeout=0: all calls must use context-based timeouts.
	cli := &http.Client{Timeout: 0}
	return &llamaServerAdapter{
		bin:        cfg.LlamaBin,
		host:       host,
		threads:    cfg.LlamaThreads,
		extraArgs:  cfg.LlamaExtraArgs,
		httpClient: cli,
		log:        log,
		sessions:   make(map[*llamaServerSession]struct{}),
	}
}

// llamaServerArgs maps load options to llama-server flags.
func llamaServerArgs(modelPath, host string, port int, opts types.LoadModelOptions, threads int) []string {
	args := []string{
		"-m", modelPath,
		"--host", host,
		"--port", strconv.Itoa(port),
		"-c", strconv.FormatUint(uint64(opts.NCtx), 10),
		"-b", strconv.FormatUint(uint64(opts.NBatch), 10),
	}
	ngl := uint32(maxGPULayersFlag)
	if n, ok := opts.GPULayers.Count(); ok {
		ngl = n
	}
	args = append(args, "-ngl", strconv.FormatUint(uint64(ngl), 10))
	if opts.UseMlock {
		args = append(args, "--mlock")
	}
	if opts.RopeFreqScale > 0 {
		args = append(args, "--rope-freq-scale", strconv.FormatFloat(float64(opts.RopeFreqScale), 'f', -1, 32))
	}
	if opts.RopeFreqBase > 0 {
		args = append(args, "--rope-freq-base", strconv.FormatFloat(float64(opts.RopeFreqBase), 'f', -1, 32))
	}
	if opts.PromptTemplate != nil && *opts.PromptTemplate != "" {
		args = append(args, "--chat-template", *opts.PromptTemplate)
	}
	switch opts.ContextOverflowPolicy {
	case types.TruncateMiddle:
		// Keep the head of the prompt and shift out the middle.
		args = append(args, "--context-shift", "--keep", strconv.FormatUint(uint64(opts.NCtx/4), 10))
	case types.TruncatePastMessages:
		args = append(args, "--context-shift", "--keep", "0")
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

func (a *llamaServerAdapter) Load(ctx context.Context, modelPath string, opts types.LoadModelOptions, progress func(float32)) (ModelSession, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("modelPath is empty")
	}
	if a.bin == "" {
		return nil, ErrDependencyUnavailable("llama-server binary not configured")
	}
	port, err := pickFreePort(a.host)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", a.host, port)
	args := append(llamaServerArgs(modelPath, a.host, port, opts, a.threads), a.extraArgs...)

	cmd := exec.Command(a.bin, args...)
	stderr := &tailBuffer{max: 64 << 10}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, ErrDependencyUnavailable("llama-server not found: " + a.bin)
		}
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	pid := cmd.Process.Pid
	a.log.Info().Str("model", modelPath).Int("pid", pid).Str("url", baseURL).Msg("llama-server: started")

	// Early-exit watcher: surface non-zero exit before readiness
	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	sess := &llamaServerSession{
		a:       a,
		cmd:     cmd,
		waitErr: waitErrCh,
		baseURL: baseURL,
		opts:    opts,
		info: SessionInfo{
			Backend:    "llama-server",
			PID:        pid,
			CPUThreads: cpuThreads(a.threads),
			Mlock:      opts.UseMlock,
			NCtx:       opts.NCtx,
			NBatch:     opts.NBatch,
		},
	}
	if n, ok := opts.GPULayers.Count(); ok {
		sess.info.GPULayers = n
	}

	est := loadEstimate(modelPath)
	start := time.Now()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			return nil, ctx.Err()
		case werr := <-waitErrCh:
			// Put it back for Close.
			waitErrCh <- werr
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			a.log.Warn().Int("pid", pid).AnErr("exit", werr).Msg("llama-server: exited before ready")
			if werr == nil {
				return nil, fmt.Errorf("llama-server exited before ready: %s", baseURL)
			}
			return nil, fmt.Errorf("llama-server exited early: %v; stderr tail: %s", werr, tail)
		case <-tick.C:
		}
		if a.isHealthy(ctx, baseURL) {
			break
		}
		if progress != nil {
			f := float32(time.Since(start).Seconds() / est.Seconds())
			if f > 0.95 {
				f = 0.95
			}
			progress(f)
		}
	}

	if n, ok := offloadedLayers(stderr.String()); ok {
		sess.info.GPULayers = n
	}
	a.mu.Lock()
	a.sessions[sess] = struct{}{}
	a.mu.Unlock()
	a.log.Info().Int("pid", pid).Dur("took", time.Since(start)).Msg("llama-server: ready")
	return sess, nil
}

// isHealthy checks if the llama-server at baseURL responds OK to /health.
func (a *llamaServerAdapter) isHealthy(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// StopAll terminates all managed subprocesses. Best effort.
func (a *llamaServerAdapter) StopAll() {
	a.mu.Lock()
	all := make([]*llamaServerSession, 0, len(a.sessions))
	for s := range a.sessions {
		all = append(all, s)
	}
	a.mu.Unlock()
	for _, s := range all {
		_ = s.Close()
	}
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func cpuThreads(configured int) uint32 {
	if configured > 0 {
		return uint32(configured)
	}
	return uint32(runtime.NumCPU())
}

// loadEstimate guesses load time from file size, for synthesized progress.
func loadEstimate(path string) time.Duration {
	const bytesPerSecond = 500 << 20
	est := 2 * time.Second
	if fi, err := os.Stat(path); err == nil {
		if d := time.Duration(float64(fi.Size()) / bytesPerSecond * float64(time.Second)); d > est {
			est = d
		}
	}
	return est
}

var offloadRe = regexp.MustCompile(`offloaded (\d+)/(\d+) layers to GPU`)

// offloadedLayers reads the effective GPU layer count from llama.cpp logs.
func offloadedLayers(log string) (uint32, bool) {
	m := offloadRe.FindAllStringSubmatch(log, -1)
	if len(m) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(m[len(m)-1][1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// llamaServerSession is one spawned llama-server process.
type llamaServerSession struct {
	a       *llamaServerAdapter
	cmd     *exec.Cmd
	waitErr chan error
	baseURL string
	opts    types.LoadModelOptions
	info    SessionInfo

	closeOnce sync.Once
}

func (s *llamaServerSession) Info() SessionInfo { return s.info }

// Close terminates the process: SIGTERM first, then kill after a grace period.
func (s *llamaServerSession) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-s.waitErr:
			case <-time.After(2 * time.Second):
				_ = s.cmd.Process.Kill()
				<-s.waitErr
			}
		}
		s.a.mu.Lock()
		delete(s.a.sessions, s)
		s.a.mu.Unlock()
		s.a.log.Info().Int("pid", s.info.PID).Msg("llama-server: stopped")
	})
	return nil
}

type openAIChatRequest struct {
	Messages      []types.ChatMessage `json:"messages,omitempty"`
	Prompt        string              `json:"prompt,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Temperature   *float32            `json:"temperature,omitempty"`
	TopP          *float32            `json:"top_p,omitempty"`
	TopK          *int                `json:"top_k,omitempty"`
	Stop          []string            `json:"stop,omitempty"`
	Seed          *int64              `json:"seed,omitempty"`
	Stream        bool                `json:"stream"`
	StreamOptions map[string]bool     `json:"stream_options,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// newOpenAIChatRequest picks the endpoint for req and builds its body. Nil
// sampling fields are omitted; explicit zeros are sent.
func newOpenAIChatRequest(req ChatParams) (string, openAIChatRequest) {
	payload := openAIChatRequest{
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		Stop:          req.Stop,
		Seed:          req.Seed,
		Stream:        true,
		StreamOptions: map[string]bool{"include_usage": true},
	}
	if req.Raw {
		payload.Prompt = rawPrompt(req.Messages)
		return "/v1/completions", payload
	}
	payload.Messages = req.Messages
	return "/v1/chat/completions", payload
}

func (s *llamaServerSession) Chat(ctx context.Context, req ChatParams, onDelta func(string) error) (FinalResult, error) {
	endpoint, payload := newOpenAIChatRequest(req)
	body, _ := json.Marshal(payload)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := s.a.httpClient.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, protocol.NewChatError(protocol.ChatBackendNotRun, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, classifyServerError(resp.StatusCode, string(b))
	}

	var final FinalResult
	var text strings.Builder
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg openAIStreamResponse
			if e := json.Unmarshal([]byte(data), &msg); e == nil {
				if len(msg.Choices) > 0 {
					frag := msg.Choices[0].Delta.Content
					if frag == "" {
						frag = msg.Choices[0].Text
					}
					if frag != "" {
						text.WriteString(frag)
						if cbErr := onDelta(frag); cbErr != nil {
							return final, cbErr
						}
					}
					if fr := msg.Choices[0].FinishReason; fr != "" {
						final.FinishReason = fr
					}
				}
				if msg.Usage != nil {
					final.Usage = Usage{PromptTokens: msg.Usage.PromptTokens, CompletionTokens: msg.Usage.CompletionTokens, TotalTokens: msg.Usage.TotalTokens}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				final.Content = text.String()
				return final, ctx.Err()
			}
			return final, err
		}
	}
	final.Content = text.String()
	if ctx.Err() != nil {
		return final, ctx.Err()
	}
	// Running out of context under stop_at_limit ends with "length" even
	// though the caller set no token limit.
	if final.FinishReason == "length" && req.MaxTokens == 0 && s.opts.ContextOverflowPolicy == types.StopAtLimit {
		return final, protocol.NewChatError(protocol.ChatContextFull, fmt.Errorf("context window of %d tokens is full", s.opts.NCtx))
	}
	return final, nil
}

// classifyServerError maps llama-server error responses to chat error kinds.
func classifyServerError(status int, body string) error {
	lower := strings.ToLower(body)
	err := fmt.Errorf("llama-server: %d: %s", status, strings.TrimSpace(body))
	switch {
	case strings.Contains(lower, "exceed") && strings.Contains(lower, "context"):
		return protocol.NewChatError(protocol.ChatPromptTooLong, err)
	case strings.Contains(lower, "context") && strings.Contains(lower, "full"):
		return protocol.NewChatError(protocol.ChatContextFull, err)
	case status == http.StatusServiceUnavailable:
		return protocol.NewChatError(protocol.ChatBackendNotRun, err)
	default:
		return protocol.NewChatError(protocol.ChatOther, err)
	}
}

// rawPrompt joins message contents without any chat template.
func rawPrompt(msgs []types.ChatMessage) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// tailBuffer keeps the last max bytes written. Safe for concurrent use.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
