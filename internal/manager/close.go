package manager

// Close stops any generation, unloads the model and stops the server. The
// manager rejects further loads and chats afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.loadingCancel != nil {
		m.loadingCancel()
	}
	if m.genCancel != nil {
		m.genStopped = true
		m.genCancel()
	}
	done := m.genDone
	serverCancel := m.serverCancel
	m.mu.Unlock()

	if serverCancel != nil {
		serverCancel()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	cur := m.cur
	m.cur = nil
	if m.state != StateLoading {
		m.state = StateIdle
	}
	m.mu.Unlock()
	if cur != nil {
		m.closeSession(cur)
	}
	if c, ok := m.adapter.(interface{ StopAll() }); ok {
		c.StopAll()
	}
	return nil
}
