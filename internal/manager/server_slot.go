package manager

import (
	"context"

	"moxind/pkg/protocol"
)

// ClaimServer marks the local server as running. cancel is invoked by
// StopServer and Close. Returns protocol.ErrServerRunning when already claimed.
func (m *Manager) ClaimServer(cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return protocol.ErrClosed
	}
	if m.serverRunning {
		return protocol.ErrServerRunning
	}
	m.serverRunning = true
	m.serverCancel = cancel
	m.publisher.Publish(Event{Name: "server_claimed", OpID: newOpID()})
	return nil
}

// StopServer asks the running server to shut down. The server worker calls
// ReleaseServer once it has actually stopped. No-op when no server runs.
func (m *Manager) StopServer() {
	m.mu.RLock()
	cancel := m.serverCancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// ReleaseServer frees the server slot.
func (m *Manager) ReleaseServer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.serverRunning {
		return
	}
	m.serverRunning = false
	m.serverCancel = nil
	m.publisher.Publish(Event{Name: "server_released", OpID: newOpID()})
}

// ServerRunning reports whether the server slot is claimed.
func (m *Manager) ServerRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serverRunning
}
