package manager

import (
	"time"

	"moxind/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{State: m.state, ServerRunning: m.serverRunning, Err: m.err}
	if m.cur != nil {
		lm := m.cur.LoadedModel
		s.Loaded = &lm
	}
	return s
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:          string(m.state),
		ServerRunning:  m.serverRunning,
		LastError:      m.err,
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		LoadsTotal:     m.loadsTotal,
		ChatsTotal:     m.chatsTotal,
	}
	if m.cur != nil {
		resp.Loaded = &types.LoadedModelInfo{
			FileID:      m.cur.File.ID,
			ModelID:     m.cur.Model.ID,
			Information: loadInformation(m.cur),
		}
	}
	return resp
}
