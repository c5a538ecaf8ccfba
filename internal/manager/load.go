package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// LoadModel loads df into a new session. It is only valid from Idle: any
// other state yields a state conflict before opts or df are looked at. A
// failed load returns the manager to Idle. progress receives non-decreasing
// fractions and usage receives resource snapshots; both may be nil.
func (m *Manager) LoadModel(ctx context.Context, df types.DownloadedFile, opts types.LoadModelOptions, progress func(float32), usage func(types.ModelResourcesInfo)) (types.LoadedModelInfo, error) {
	opts = opts.WithDefaults()
	loadCtx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return types.LoadedModelInfo{}, protocol.ErrClosed
	}
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		return types.LoadedModelInfo{}, stateConflictError{op: "load model", state: st}
	}
	if !opts.ContextOverflowPolicy.Valid() {
		m.mu.Unlock()
		return types.LoadedModelInfo{}, fmt.Errorf("invalid context overflow policy %q", opts.ContextOverflowPolicy)
	}
	if df.Path == "" {
		m.mu.Unlock()
		return types.LoadedModelInfo{}, fmt.Errorf("%w: %s", protocol.ErrNotDownloaded, df.File.ID)
	}
	m.state = StateLoading
	m.loadingCancel = cancel
	m.err = ""
	m.mu.Unlock()

	op := newOpID()
	fileID := string(df.File.ID)
	m.publish(Event{Name: "load_start", OpID: op, FileID: fileID, Fields: map[string]any{"path": df.Path, "n_ctx": opts.NCtx, "gpu_layers": opts.GPULayers.String()}})
	start := time.Now()

	var (
		pmu  sync.Mutex
		last float32 = -1
	)
	onProgress := func(f float32) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		pmu.Lock()
		defer pmu.Unlock()
		if f <= last {
			return
		}
		last = f
		if progress != nil {
			progress(f)
		}
	}

	sess, err := m.adapter.Load(loadCtx, df.Path, opts, onProgress)
	if err == nil && loadCtx.Err() != nil {
		// The adapter finished but the caller gave up; do not keep the session.
		_ = sess.Close()
		err = loadCtx.Err()
	}
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.loadingCancel = nil
		m.err = err.Error()
		m.mu.Unlock()
		modelLoadsTotal.WithLabelValues("error").Inc()
		m.publish(Event{Name: "load_error", OpID: op, FileID: fileID, Fields: map[string]any{"error": err.Error()}})
		m.log.Warn().Err(err).Str("file", fileID).Msg("manager: load failed")
		return types.LoadedModelInfo{}, fmt.Errorf("load %s: %w", fileID, err)
	}

	cur := &loaded{
		LoadedModel: LoadedModel{
			File:     df.File,
			Model:    df.Model,
			Path:     df.Path,
			Options:  opts,
			Info:     sess.Info(),
			LoadedAt: time.Now(),
		},
		sess: sess,
	}
	m.mu.Lock()
	if m.closed {
		m.state = StateIdle
		m.loadingCancel = nil
		m.mu.Unlock()
		_ = sess.Close()
		return types.LoadedModelInfo{}, protocol.ErrClosed
	}
	m.cur = cur
	m.state = StateLoaded
	m.loadingCancel = nil
	m.loadsTotal++
	m.mu.Unlock()

	onProgress(1)
	if usage != nil {
		usage(m.resourcesOf(cur))
	}
	modelLoadsTotal.WithLabelValues("ok").Inc()
	m.publish(Event{Name: "load_done", OpID: op, FileID: fileID, Fields: map[string]any{"took_ms": time.Since(start).Milliseconds(), "backend": cur.Info.Backend}})
	m.log.Info().Str("file", fileID).Str("backend", cur.Info.Backend).Dur("took", time.Since(start)).Msg("manager: model loaded")
	return types.LoadedModelInfo{
		FileID:      df.File.ID,
		ModelID:     df.Model.ID,
		Information: loadInformation(cur),
	}, nil
}

// loadInformation renders a short JSON description of the loaded session.
func loadInformation(cur *loaded) string {
	b, err := json.Marshal(struct {
		Path    string                      `json:"path"`
		Session SessionInfo                 `json:"session"`
		Policy  types.ContextOverflowPolicy `json:"context_overflow_policy"`
		GPU     types.GPULayers             `json:"requested_gpu_layers"`
	}{cur.Path, cur.Info, cur.Options.ContextOverflowPolicy, cur.Options.GPULayers})
	if err != nil {
		return ""
	}
	return string(b)
}
