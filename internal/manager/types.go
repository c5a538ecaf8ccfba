package manager

import (
	"time"

	"moxind/pkg/types"
)

// State is the model slot state.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateLoaded     State = "loaded"
	StateGenerating State = "generating"
)

// LoadedModel is the manager's view of the active session.
type LoadedModel struct {
	File     types.File
	Model    types.Model
	Path     string
	Options  types.LoadModelOptions
	Info     SessionInfo
	LoadedAt time.Time
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State         State
	Loaded        *LoadedModel
	ServerRunning bool
	Err           string
}
