package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

// chatStatus maps a chat failure to an HTTP status and the chat error kind.
func chatStatus(err error) (int, string) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), ""
	}
	kind := ""
	var ce *protocol.ChatError
	if errors.As(err, &ce) {
		kind = ce.Kind.String()
	}
	switch {
	case errors.Is(err, protocol.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, kind
	case errors.Is(err, protocol.ErrInvalidEncoding),
		errors.Is(err, protocol.ErrPromptTooLong),
		errors.Is(err, protocol.ErrContextFull),
		errors.Is(err, protocol.ErrInvalidRequest):
		return http.StatusBadRequest, kind
	case errors.Is(err, protocol.ErrBackendNotRun):
		return http.StatusServiceUnavailable, kind
	case errors.Is(err, protocol.ErrStateConflict):
		return http.StatusTooManyRequests, kind
	default:
		return http.StatusInternalServerError, kind
	}
}
