package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"moxind/pkg/types"
)

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	loadErr   error
	loadDelay time.Duration
	chatErr   error
	tokens    []string
	// tokenDelay spaces tokens; block makes Chat wait for cancellation after
	// emitting tokens.
	tokenDelay time.Duration
	block      bool
	final      FinalResult

	loads    atomic.Int32
	chats    atomic.Int32
	closed   atomic.Int32
	mu       sync.Mutex
	lastOpts types.LoadModelOptions
	lastReq  ChatParams
	started  chan struct{}
}

func (f *fakeAdapter) Load(ctx context.Context, path string, opts types.LoadModelOptions, progress func(float32)) (ModelSession, error) {
	f.loads.Add(1)
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	for _, p := range []float32{0.25, 0.5, 0.4, 0.75} {
		if progress != nil {
			progress(p)
		}
	}
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeSession{f: f, opts: opts}, nil
}

func (f *fakeAdapter) options() types.LoadModelOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

type fakeSession struct {
	f    *fakeAdapter
	opts types.LoadModelOptions
}

func (s *fakeSession) Info() SessionInfo {
	var ngl uint32 = 32
	if n, ok := s.opts.GPULayers.Count(); ok {
		ngl = n
	}
	return SessionInfo{Backend: "fake", GPULayers: ngl, CPUThreads: 4, Mlock: s.opts.UseMlock, NCtx: s.opts.NCtx, NBatch: s.opts.NBatch}
}

func (s *fakeSession) Chat(ctx context.Context, req ChatParams, onDelta func(string) error) (FinalResult, error) {
	s.f.chats.Add(1)
	s.f.mu.Lock()
	s.f.lastReq = req
	started := s.f.started
	s.f.mu.Unlock()
	if s.f.chatErr != nil {
		return FinalResult{}, s.f.chatErr
	}
	for _, t := range s.f.tokens {
		if s.f.tokenDelay > 0 {
			select {
			case <-time.After(s.f.tokenDelay):
			case <-ctx.Done():
				return FinalResult{}, ctx.Err()
			}
		}
		if err := onDelta(t); err != nil {
			return FinalResult{}, err
		}
	}
	if started != nil {
		close(started)
	}
	if s.f.block {
		<-ctx.Done()
		return FinalResult{}, ctx.Err()
	}
	return s.f.final, nil
}

func (s *fakeSession) Close() error {
	s.f.closed.Add(1)
	return nil
}

func newTestManager(t *testing.T, fa *fakeAdapter) *Manager {
	t.Helper()
	m := NewWithConfig(ManagerConfig{Adapter: fa, MaxPayloadBytes: 1024})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func downloaded(t *testing.T, id string) types.DownloadedFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), id)
	if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return types.DownloadedFile{
		File:  types.File{ID: types.FileID(id), ModelID: "m"},
		Model: types.Model{ID: "m", Name: "Model"},
		Path:  p,
	}
}

func mustLoad(t *testing.T, m *Manager, df types.DownloadedFile) {
	t.Helper()
	if _, err := m.LoadModel(testCtx(t), df, types.DefaultLoadModelOptions(), nil, nil); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
}

const helloPayload = `{"messages":[{"role":"user","content":"hi"}]}`

var errBoom = errors.New("boom")

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
