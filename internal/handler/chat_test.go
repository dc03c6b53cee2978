package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxloop/widget-core/internal/llm"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/service"
	"github.com/voxloop/widget-core/internal/session"
)

func newChatServer(t *testing.T) (*httptest.Server, session.Store) {
	t.Helper()
	echo := llm.NewEchoClient()
	echo.Delay = 0
	sessions := session.NewMemoryStore()
	svc := service.NewChatService(echo, sessions, nil)
	h := NewChatHandler(svc, nil)

	server := httptest.NewServer(http.HandlerFunc(h.Stream))
	t.Cleanup(server.Close)
	return server, sessions
}

// readStream decodes every SSE data event up to the terminator.
func readStream(t *testing.T, body *http.Response) []model.StreamChunk {
	t.Helper()
	var chunks []model.StreamChunk
	scanner := bufio.NewScanner(body.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == model.StreamTerminator {
			return chunks
		}
		var chunk model.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		chunks = append(chunks, chunk)
	}
	t.Fatal("stream ended without terminator")
	return nil
}

func postChat(t *testing.T, url string, req interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func streamedText(chunks []model.StreamChunk) string {
	var out string
	for _, chunk := range chunks {
		if text, _, ok := chunk.VisibleText(); ok {
			out += text
		}
	}
	return out
}

func TestStreamRepliesWithSessionAndDeltas(t *testing.T) {
	server, _ := newChatServer(t)

	resp := postChat(t, server.URL, &model.ChatRequest{Input: "hello there", AssistantID: "a1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	chunks := readStream(t, resp)
	require.NotEmpty(t, chunks)

	// The first chunk assigns the session.
	assert.NotEmpty(t, chunks[0].SessionID)
	assert.Nil(t, chunks[0].Delta)

	assert.Equal(t, "You said: hello there", streamedText(chunks))
	for _, chunk := range chunks[1:] {
		assert.Equal(t, model.OutputContentPath, chunk.Path)
	}
}

func TestStreamEchoesProvidedSessionID(t *testing.T) {
	server, _ := newChatServer(t)

	resp := postChat(t, server.URL, &model.ChatRequest{
		Input: "hi", AssistantID: "a1", SessionID: "sess-given",
	})
	chunks := readStream(t, resp)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "sess-given", chunks[0].SessionID)
}

func TestStreamPersistsTurn(t *testing.T) {
	server, sessions := newChatServer(t)

	resp := postChat(t, server.URL, &model.ChatRequest{
		Input: "remember me", AssistantID: "a1", SessionID: "sess-1",
	})
	readStream(t, resp)

	history, err := sessions.History(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "remember me", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestStreamSessionEndDiscardsHistory(t *testing.T) {
	server, sessions := newChatServer(t)

	resp := postChat(t, server.URL, &model.ChatRequest{
		Input: "bye", AssistantID: "a1", SessionID: "sess-2", SessionEnd: true,
	})
	readStream(t, resp)

	history, err := sessions.History(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStreamRejectsBadRequests(t *testing.T) {
	server, _ := newChatServer(t)

	resp, err := http.Post(server.URL, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postChat(t, server.URL, &model.ChatRequest{Input: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postChat(t, server.URL, &model.ChatRequest{AssistantID: "a1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
