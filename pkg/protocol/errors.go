package protocol

import (
	"errors"
	"fmt"
)

// Protocol-level rejections. They are reported as terminal failure replies
// and never retried by the backend.
var (
	// ErrStateConflict is returned when a command is not valid in the current
	// session state (e.g. LoadModel while a model is loaded).
	ErrStateConflict = errors.New("state conflict")
	// ErrServerRunning is returned by StartLocalServer while a server runs.
	ErrServerRunning = fmt.Errorf("local server already running: %w", ErrStateConflict)
	// ErrDownloadInProgress is returned when the same file is already being downloaded.
	ErrDownloadInProgress = fmt.Errorf("download already in progress: %w", ErrStateConflict)
	// ErrFileNotFound is returned when a FileID is unknown to the catalog.
	ErrFileNotFound = errors.New("file not found")
	// ErrNotDownloaded is returned when loading a file that was never downloaded.
	ErrNotDownloaded = errors.New("file not downloaded")
	// ErrAbnormalTermination is what a caller should assume when a reply
	// channel closes without a terminal message.
	ErrAbnormalTermination = errors.New("reply channel closed without terminal reply")
	// ErrClosed is returned by the backend after shutdown.
	ErrClosed = errors.New("backend closed")
	// ErrInvalidRequest is wrapped by ChatOther when the payload is not a
	// well-formed chat completion request.
	ErrInvalidRequest = errors.New("invalid chat request")
	// ErrChatStopped is the cancellation cause of a chat stopped by a
	// StopChatCompletion naming it. A chat that never started reports it
	// wrapped in ChatOther.
	ErrChatStopped = errors.New("chat completion stopped")
)

// ChatErrorKind classifies chat failures.
type ChatErrorKind int

const (
	// ChatOther is an unclassified failure.
	ChatOther ChatErrorKind = iota
	// ChatBackendNotRun means no model is loaded or the backend is not ready.
	ChatBackendNotRun
	// ChatEndOfSequence means generation was exhausted before producing output.
	ChatEndOfSequence
	// ChatContextFull means the context window filled under StopAtLimit.
	ChatContextFull
	// ChatPromptTooLong means the prompt alone exceeds the context window.
	ChatPromptTooLong
	// ChatTooLarge means the payload exceeds the absolute size bound.
	ChatTooLarge
	// ChatInvalidEncoding means the payload is not valid UTF-8.
	ChatInvalidEncoding
)

var chatErrorKindNames = map[ChatErrorKind]string{
	ChatOther:           "other",
	ChatBackendNotRun:   "backend_not_run",
	ChatEndOfSequence:   "end_of_sequence",
	ChatContextFull:     "context_full",
	ChatPromptTooLong:   "prompt_too_long",
	ChatTooLarge:        "too_large",
	ChatInvalidEncoding: "invalid_encoding",
}

func (k ChatErrorKind) String() string {
	if s, ok := chatErrorKindNames[k]; ok {
		return s
	}
	return "other"
}

// ChatError is the terminal failure of a Chat command. It affects only that
// call; the session returns to Loaded.
type ChatError struct {
	Kind ChatErrorKind
	Err  error
}

func (e *ChatError) Error() string {
	if e.Err == nil {
		return "chat: " + e.Kind.String()
	}
	return fmt.Sprintf("chat: %s: %v", e.Kind, e.Err)
}

func (e *ChatError) Unwrap() error { return e.Err }

// Is matches any *ChatError of the same kind, so sentinels work with errors.Is.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// NewChatError wraps err with the given kind.
func NewChatError(kind ChatErrorKind, err error) *ChatError {
	return &ChatError{Kind: kind, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrBackendNotRun   = &ChatError{Kind: ChatBackendNotRun}
	ErrEndOfSequence   = &ChatError{Kind: ChatEndOfSequence}
	ErrContextFull     = &ChatError{Kind: ChatContextFull}
	ErrPromptTooLong   = &ChatError{Kind: ChatPromptTooLong}
	ErrTooLarge        = &ChatError{Kind: ChatTooLarge}
	ErrInvalidEncoding = &ChatError{Kind: ChatInvalidEncoding}
	ErrChatOther       = &ChatError{Kind: ChatOther}
)

// AsChatError converts any error into a *ChatError, defaulting to ChatOther.
func AsChatError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce
	}
	return &ChatError{Kind: ChatOther, Err: err}
}
