package manager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// buildTestBinary builds the fake llama server used for subprocess tests and returns its path.
func buildTestBinary(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server.go")
	cmd.Dir = "."
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

func flagValue(args []string, name string) (string, bool) {
	i := slices.Index(args, name)
	if i < 0 {
		return "", false
	}
	if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
		return args[i+1], true
	}
	return "", true
}

func TestLlamaServerArgs(t *testing.T) {
	tpl := "{{role}}: {{content}}"
	opts := types.LoadModelOptions{
		GPULayers:             types.GPULayersMax(),
		UseMlock:              true,
		NCtx:                  4096,
		NBatch:                256,
		RopeFreqScale:         0.5,
		RopeFreqBase:          20000,
		PromptTemplate:        &tpl,
		ContextOverflowPolicy: types.TruncateMiddle,
	}
	args := llamaServerArgs("/m/a.gguf", "127.0.0.1", 4242, opts, 6)
	want := map[string]string{
		"-m":                "/m/a.gguf",
		"--host":            "127.0.0.1",
		"--port":            "4242",
		"-c":                "4096",
		"-b":                "256",
		"-ngl":              "999",
		"--rope-freq-scale": "0.5",
		"--rope-freq-base":  "20000",
		"--chat-template":   tpl,
		"--keep":            "1024",
		"-t":                "6",
	}
	for k, v := range want {
		got, ok := flagValue(args, k)
		if !ok || got != v {
			t.Fatalf("%s = %q (present=%v), want %q; args=%v", k, got, ok, v, args)
		}
	}
	for _, f := range []string{"--mlock", "--context-shift"} {
		if !slices.Contains(args, f) {
			t.Fatalf("missing %s in %v", f, args)
		}
	}
}

func TestLlamaServerArgsPolicies(t *testing.T) {
	base := types.DefaultLoadModelOptions()
	base.GPULayers = types.GPULayersSpecific(12)

	args := llamaServerArgs("a.gguf", "h", 1, base, 0)
	if v, _ := flagValue(args, "-ngl"); v != "12" {
		t.Fatalf("-ngl = %q", v)
	}
	for _, f := range []string{"--context-shift", "--keep", "--mlock", "-t", "--chat-template"} {
		if slices.Contains(args, f) {
			t.Fatalf("unexpected %s for default options: %v", f, args)
		}
	}

	base.ContextOverflowPolicy = types.TruncatePastMessages
	args = llamaServerArgs("a.gguf", "h", 1, base, 0)
	if v, _ := flagValue(args, "--keep"); v != "0" || !slices.Contains(args, "--context-shift") {
		t.Fatalf("truncate past messages not mapped: %v", args)
	}
}

func TestOpenAIChatRequestKeepsExplicitZeros(t *testing.T) {
	zero := float32(0)
	seed := int64(0)
	_, payload := newOpenAIChatRequest(ChatParams{
		Messages:    []types.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: &zero,
		Seed:        &seed,
	})
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	body := string(b)
	for _, want := range []string{`"temperature":0`, `"seed":0`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %s missing %s", body, want)
		}
	}
	if strings.Contains(body, "top_p") || strings.Contains(body, "top_k") {
		t.Fatalf("unset sampling fields must be omitted: %s", body)
	}

	endpoint, raw := newOpenAIChatRequest(ChatParams{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}, Raw: true})
	if endpoint != "/v1/completions" || raw.Prompt == "" || raw.Messages != nil {
		t.Fatalf("raw request = %s %+v", endpoint, raw)
	}
}

func TestClassifyServerError(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   *protocol.ChatError
	}{
		{400, `{"error":{"message":"the request exceeds the available context size"}}`, protocol.ErrPromptTooLong},
		{500, `context is full`, protocol.ErrContextFull},
		{503, `loading model`, protocol.ErrBackendNotRun},
		{500, `segfault`, protocol.ErrChatOther},
	}
	for _, tc := range cases {
		if err := classifyServerError(tc.status, tc.body); !errors.Is(err, tc.want) {
			t.Fatalf("%d %q: got %v", tc.status, tc.body, err)
		}
	}
}

func TestOffloadedLayers(t *testing.T) {
	log := "llm_load_tensors: offloaded 10/33 layers to GPU\nreload\nload_tensors: offloaded 33/33 layers to GPU\n"
	if n, ok := offloadedLayers(log); !ok || n != 33 {
		t.Fatalf("got %d %v", n, ok)
	}
	if _, ok := offloadedLayers("cpu only"); ok {
		t.Fatalf("expected no match")
	}
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world!"))
	if got := b.String(); got != "o world!" {
		t.Fatalf("got %q", got)
	}
}

func TestLlamaServerMissingBinary(t *testing.T) {
	a := NewLlamaServerAdapter(ManagerConfig{LlamaBin: filepath.Join(t.TempDir(), "nope")}, zerolog.Nop())
	_, err := a.Load(testCtx(t), "m.gguf", types.DefaultLoadModelOptions(), nil)
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestLlamaServerSubprocess(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildTestBinary(t)
	m := NewWithConfig(ManagerConfig{LlamaBin: bin, LlamaThreads: 2, MaxPayloadBytes: 1 << 20})
	t.Cleanup(func() { _ = m.Close() })

	df := downloaded(t, "fake.gguf")
	var progress []float32
	info, err := m.LoadModel(testCtx(t), df, types.DefaultLoadModelOptions(), func(f float32) { progress = append(progress, f) }, nil)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if info.FileID != "fake.gguf" || len(progress) == 0 || progress[len(progress)-1] != 1 {
		t.Fatalf("unexpected load: %+v progress=%v", info, progress)
	}
	snap := m.Snapshot()
	if snap.Loaded == nil || snap.Loaded.Info.GPULayers != 32 || snap.Loaded.Info.PID <= 0 || snap.Loaded.Info.CPUThreads != 2 {
		t.Fatalf("unexpected session info: %+v", snap.Loaded)
	}

	t.Run("stream", func(t *testing.T) {
		var chunks int
		resp, err := m.Chat(testCtx(t), `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, func(protocol.ChatResponse) error { chunks++; return nil })
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		if chunks != 3 || completionText(t, resp.Data.Response) != "Hello, world" || resp.Data.TokenCount != 3 {
			t.Fatalf("chunks=%d data=%+v", chunks, resp.Data)
		}
	})

	t.Run("raw prompt", func(t *testing.T) {
		resp, err := m.Chat(testCtx(t), `{"raw_prompt":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		if completionText(t, resp.JSON) != "Hello, world" {
			t.Fatalf("unexpected completion: %s", resp.JSON)
		}
	})

	t.Run("prompt too long", func(t *testing.T) {
		_, err := m.Chat(testCtx(t), `{"messages":[{"role":"user","content":"overflow"}]}`, nil)
		if !errors.Is(err, protocol.ErrPromptTooLong) {
			t.Fatalf("expected PromptTooLong, got %v", err)
		}
	})

	t.Run("context full", func(t *testing.T) {
		_, err := m.Chat(testCtx(t), `{"messages":[{"role":"user","content":"fill"}]}`, nil)
		if !errors.Is(err, protocol.ErrContextFull) {
			t.Fatalf("expected ContextFull, got %v", err)
		}
	})

	t.Run("stop", func(t *testing.T) {
		first := make(chan struct{})
		res := make(chan error, 1)
		var data *types.ChatCompletionData
		go func() {
			resp, err := m.Chat(context.Background(), `{"stream":true,"messages":[{"role":"user","content":"long"}]}`, func(protocol.ChatResponse) error {
				select {
				case <-first:
				default:
					close(first)
				}
				return nil
			})
			data = resp.Data
			res <- err
		}()
		select {
		case <-first:
		case <-time.After(5 * time.Second):
			t.Fatalf("no tokens streamed")
		}
		m.StopChatCompletion()
		if err := <-res; err != nil {
			t.Fatalf("stopped chat: %v", err)
		}
		if data == nil || data.StopReason != types.StopReasonStopped || data.TokenCount >= 200 {
			t.Fatalf("unexpected data: %+v", data)
		}
	})

	m.EjectModel(df.File.ID)
	if m.State() != StateIdle {
		t.Fatalf("state after eject = %s", m.State())
	}
}
