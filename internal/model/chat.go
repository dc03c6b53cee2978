package model

import (
	"encoding/json"
	"errors"
)

// StreamTerminator is the literal sentinel marking end-of-stream on the
// chat endpoint.
const StreamTerminator = "[DONE]"

// OutputContentPath is the structural locator of chunks that belong to the
// visible assistant output.
const OutputContentPath = "chat.output[0].content"

// AssistantOverrides carries per-conversation overrides for the assistant.
type AssistantOverrides struct {
	VariableValues map[string]string `json:"variableValues,omitempty"`
}

// InputMessage is one entry of a message-array chat input.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST {apiUrl}/chat/web. Input is either a plain
// string or a message array.
type ChatRequest struct {
	Input              interface{}         `json:"input"`
	AssistantID        string              `json:"assistantId"`
	AssistantOverrides *AssistantOverrides `json:"assistantOverrides,omitempty"`
	SessionID          string              `json:"sessionId,omitempty"`
	Stream             bool                `json:"stream"`
	SessionEnd         bool                `json:"sessionEnd,omitempty"`
}

// InputMessages normalizes the request input into a message array. A string
// input becomes a single user message.
func (r *ChatRequest) InputMessages() ([]InputMessage, error) {
	switch v := r.Input.(type) {
	case nil:
		return nil, errors.New("input is required")
	case string:
		return []InputMessage{{Role: string(RoleUser), Content: v}}, nil
	case []InputMessage:
		return v, nil
	}

	// Decoded from JSON the array arrives as []interface{}; round-trip it.
	raw, err := json.Marshal(r.Input)
	if err != nil {
		return nil, err
	}
	var msgs []InputMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, errors.New("input must be a string or a message array")
	}
	return msgs, nil
}

// StreamChunk is one decoded server-sent event from the chat endpoint.
// Delta and Output use pointers so "absent" and "empty" stay distinguishable,
// mirroring the wire contract. A chunk is transient; it is never persisted.
type StreamChunk struct {
	ID        string  `json:"id,omitempty"`
	Path      string  `json:"path,omitempty"`
	Delta     *string `json:"delta,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Output    *string `json:"output,omitempty"`
}

// HasContent reports whether the chunk carries anything a consumer should
// see: visible text, or a session id to adopt. Anything else is discarded by
// the client.
func (c *StreamChunk) HasContent() bool {
	return c.Delta != nil || c.Output != nil || c.Path != "" || c.SessionID != ""
}

// VisibleText extracts the portion of the chunk that belongs to the visible
// assistant message. It returns the delta when the chunk targets the output
// content path, the full output fallback when present, and ok=false
// otherwise. replace is true when the text replaces accumulated content
// rather than appending to it.
func (c *StreamChunk) VisibleText() (text string, replace, ok bool) {
	if c.Delta != nil && c.Path == OutputContentPath {
		return *c.Delta, false, true
	}
	if c.Output != nil {
		return *c.Output, true, true
	}
	return "", false, false
}
