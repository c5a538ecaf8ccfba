package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// chatRequestSchema accepts the subset of the OpenAI chat completion request
// the runtimes understand. Unknown fields are allowed and ignored.
const chatRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["messages"],
  "properties": {
    "model": {"type": "string"},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["system", "user", "assistant", "tool"]},
          "content": {"type": "string"}
        }
      }
    },
    "stream": {"type": "boolean"},
    "max_tokens": {"type": "integer", "minimum": 1},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "top_p": {"type": "number", "minimum": 0, "maximum": 1},
    "top_k": {"type": "integer", "minimum": 0},
    "seed": {"type": "integer"},
    "raw_prompt": {"type": "boolean"},
    "stop": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}, "maxItems": 16}
      ]
    }
  }
}`

var chatSchema = jsonschema.MustCompileString("chat_request.json", chatRequestSchema)

// parseChatPayload validates payload and decodes it. Every failure is a
// *protocol.ChatError.
func parseChatPayload(payload string, maxBytes int) (types.ChatRequest, *protocol.ChatError) {
	var req types.ChatRequest
	if maxBytes > 0 && len(payload) > maxBytes {
		return req, protocol.NewChatError(protocol.ChatTooLarge, fmt.Errorf("payload is %d bytes, limit is %d", len(payload), maxBytes))
	}
	if !utf8.ValidString(payload) {
		return req, protocol.NewChatError(protocol.ChatInvalidEncoding, fmt.Errorf("payload is not valid UTF-8"))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return req, protocol.NewChatError(protocol.ChatOther, fmt.Errorf("%w: invalid JSON: %v", protocol.ErrInvalidRequest, err))
	}
	if dec.More() {
		return req, protocol.NewChatError(protocol.ChatOther, fmt.Errorf("%w: trailing data after JSON", protocol.ErrInvalidRequest))
	}
	if err := chatSchema.Validate(doc); err != nil {
		return req, protocol.NewChatError(protocol.ChatOther, fmt.Errorf("%w: %v", protocol.ErrInvalidRequest, err))
	}

	// "stop" may be a single string; normalize to a list before decoding.
	obj := doc.(map[string]any)
	if s, ok := obj["stop"].(string); ok {
		obj["stop"] = []any{s}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return req, protocol.NewChatError(protocol.ChatOther, err)
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, protocol.NewChatError(protocol.ChatOther, fmt.Errorf("decode chat request: %w", err))
	}
	return req, nil
}

func chatParams(req types.ChatRequest) ChatParams {
	return ChatParams{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: narrow(req.Temperature),
		TopP:        narrow(req.TopP),
		TopK:        req.TopK,
		Stop:        req.Stop,
		Seed:        req.Seed,
		Raw:         req.RawPrompt,
	}
}

func narrow(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}
