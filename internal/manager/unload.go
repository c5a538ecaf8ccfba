package manager

import "moxind/pkg/types"

// EjectModel unloads the active model when fileID matches it. A generation
// in flight is canceled and waited for first. Any other case is a no-op.
func (m *Manager) EjectModel(fileID types.FileID) {
	m.mu.Lock()
	if m.cur == nil || m.cur.File.ID != fileID || m.ejecting {
		m.mu.Unlock()
		return
	}
	if m.state == StateGenerating {
		m.ejecting = true
		m.genStopped = true
		cancel, done := m.genCancel, m.genDone
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		m.mu.Lock()
		m.ejecting = false
		if m.cur == nil || m.cur.File.ID != fileID {
			m.mu.Unlock()
			return
		}
	}
	cur := m.cur
	m.cur = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.closeSession(cur)
}

// closeSession releases the session outside the lock.
func (m *Manager) closeSession(cur *loaded) {
	op := newOpID()
	fileID := string(cur.File.ID)
	m.publish(Event{Name: "unload_start", OpID: op, FileID: fileID})
	if err := cur.sess.Close(); err != nil {
		m.log.Warn().Err(err).Str("file", fileID).Msg("manager: session close failed")
	}
	m.sampler.forget(cur.Info.PID)
	modelEjectsTotal.Inc()
	m.publish(Event{Name: "unload_done", OpID: op, FileID: fileID})
	m.log.Info().Str("file", fileID).Msg("manager: model ejected")
}
