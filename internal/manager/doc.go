// Package manager owns the inference session state machine. It is structured
// into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: state types (State, Snapshot, LoadedModel).
//   - errors.go: error types and helpers (IsStateConflict, IsDependencyUnavailable).
//   - load.go / unload.go: LoadModel and EjectModel transitions.
//   - chat.go, chat_payload.go: Chat, StopChatCompletion and payload validation.
//   - resources.go: procfs-backed RAM/CPU sampling for the loaded model.
//   - server_slot.go: the local-server slot (ClaimServer/StopServer/ReleaseServer).
//   - status_report.go: Status/Snapshot reporting helpers.
//   - metrics.go: Prometheus counters for lifecycle and chat outcomes.
//
// The model slot moves Idle -> Loading -> Loaded -> Generating -> Loaded and
// back to Idle on eject. The server slot is independent of the model slot.
//
// Build tags and runtimes:
//
//   - External llama-server (default when LlamaBin is set):
//     adapter_llama_server.go spawns one llama.cpp server per loaded model.
//
//   - In-process llama: go-llama.cpp adapter, enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub exists when the tag is not set: adapter_llama_stub.go.
package manager
