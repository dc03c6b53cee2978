package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputMessagesFromString(t *testing.T) {
	req := &ChatRequest{Input: "hello"}
	msgs, err := req.InputMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestInputMessagesFromDecodedJSON(t *testing.T) {
	var req ChatRequest
	body := `{"input":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}],"assistantId":"a1"}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	msgs, err := req.InputMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestInputMessagesRejectsMissingAndMalformed(t *testing.T) {
	_, err := (&ChatRequest{}).InputMessages()
	assert.Error(t, err)

	_, err = (&ChatRequest{Input: 42}).InputMessages()
	assert.Error(t, err)
}

func TestStreamChunkVisibleText(t *testing.T) {
	delta := "to"
	chunk := StreamChunk{Path: OutputContentPath, Delta: &delta}
	text, replace, ok := chunk.VisibleText()
	require.True(t, ok)
	assert.False(t, replace)
	assert.Equal(t, "to", text)

	// A delta on some other path is not visible output.
	other := StreamChunk{Path: "chat.metadata", Delta: &delta}
	_, _, ok = other.VisibleText()
	assert.False(t, ok)

	full := "complete reply"
	fallback := StreamChunk{Output: &full}
	text, replace, ok = fallback.VisibleText()
	require.True(t, ok)
	assert.True(t, replace)
	assert.Equal(t, "complete reply", text)
}

func TestStreamChunkHasContent(t *testing.T) {
	assert.False(t, (&StreamChunk{ID: "x"}).HasContent())

	empty := ""
	assert.True(t, (&StreamChunk{Delta: &empty}).HasContent())
	assert.True(t, (&StreamChunk{Path: OutputContentPath}).HasContent())
	assert.True(t, (&StreamChunk{SessionID: "s"}).HasContent())
}
