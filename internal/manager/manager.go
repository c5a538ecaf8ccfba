package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Manager struct {
	mu    sync.RWMutex
	state State
	cur   *loaded
	err   string
	// loadingCancel aborts an in-flight load on Close.
	loadingCancel context.CancelFunc

	// Generation in flight (state == StateGenerating).
	genCancel  context.CancelFunc
	genDone    chan struct{}
	genStopped bool
	// ejecting blocks new chats while an eject waits for a generation.
	ejecting bool

	// Server slot
	serverRunning bool
	serverCancel  context.CancelFunc

	closed bool

	cfg        ManagerConfig
	adapter    InferenceAdapter
	publisher  EventPublisher
	log        zerolog.Logger
	sampler    *resourceSampler
	startTime  time.Time
	loadsTotal uint64
	chatsTotal uint64
}

// loaded pairs the public view of the active model with its session.
type loaded struct {
	LoadedModel
	sess ModelSession
}

// New returns a Manager driving adapter with default settings.
func New(adapter InferenceAdapter) *Manager {
	return NewWithConfig(ManagerConfig{Adapter: adapter})
}

// SetEventPublisher installs an EventPublisher; nil restores the no-op one.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		m.publisher = noopPublisher{}
		return
	}
	m.publisher = p
}

// SetLogger replaces the manager logger.
func (m *Manager) SetLogger(l zerolog.Logger) {
	m.mu.Lock()
	m.log = l
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(e)
}

// Ready reports whether a model is loaded and able to chat.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateLoaded || m.state == StateGenerating
}

// State returns the model slot state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// MaxPayloadBytes is the chat payload bound enforced by Chat.
func (m *Manager) MaxPayloadBytes() int { return m.cfg.MaxPayloadBytes }

// LlamaBuilt reports whether the in-process llama runtime is compiled in.
func LlamaBuilt() bool { return llamaBuilt }
