package chatstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxloop/widget-core/internal/model"
)

const waitTimeout = 5 * time.Second

// collector gathers stream callbacks for assertions.
type collector struct {
	mu        sync.Mutex
	chunks    []model.StreamChunk
	errs      []error
	completes int
	done      chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) onChunk(chunk model.StreamChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	close(c.done)
}

func (c *collector) onComplete() {
	c.mu.Lock()
	c.completes++
	c.mu.Unlock()
	close(c.done)
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(waitTimeout):
		t.Fatal("stream did not terminate")
	}
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out string
	for _, chunk := range c.chunks {
		if text, _, ok := chunk.VisibleText(); ok {
			out += text
		}
	}
	return out
}

func sseHandler(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}
		fmt.Fprintf(w, "data: %s\n\n", model.StreamTerminator)
		flusher.Flush()
	}
}

func newTestClient(url string) *Client {
	c := New(url, "pk_test", nil)
	c.RetryInitialInterval = 10 * time.Millisecond
	c.RetryMaxElapsed = 500 * time.Millisecond
	return c
}

func deltaEvent(text string) string {
	return fmt.Sprintf(`{"path":%q,"delta":%q}`, model.OutputContentPath, text)
}

func TestStreamChatDeliversChunksAndCompletes(t *testing.T) {
	server := httptest.NewServer(sseHandler(
		`{"id":"c1","sessionId":"sess-1"}`,
		deltaEvent("Hel"),
		deltaEvent("lo"),
	))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()

	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi", AssistantID: "a1"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	assert.Empty(t, col.errs)
	assert.Equal(t, 1, col.completes)
	assert.Equal(t, "Hello", col.text())

	// The session id chunk has no visible text but must still be delivered.
	require.NotEmpty(t, col.chunks)
	assert.Equal(t, "sess-1", col.chunks[0].SessionID)
}

func TestStreamChatSetsRequestHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotClientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotClientID = r.Header.Get("X-Client-ID")
		sseHandler()(w, r)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()
	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	assert.Equal(t, "Bearer pk_test", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "voxloop-widget", gotClientID)
}

func TestStreamChatFatalOnClientError(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()
	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	require.Len(t, col.errs, 1)
	assert.Equal(t, 0, col.completes)

	var fatal *FatalError
	require.ErrorAs(t, col.errs[0], &fatal)
	assert.Equal(t, http.StatusUnauthorized, fatal.Status)

	// Fatal failures never reconnect.
	assert.Equal(t, int32(1), requests.Load())
}

func TestStreamChatRetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		sseHandler(deltaEvent("recovered"))(w, r)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()
	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	assert.Empty(t, col.errs)
	assert.Equal(t, 1, col.completes)
	assert.Equal(t, "recovered", col.text())
	assert.GreaterOrEqual(t, requests.Load(), int32(2))
}

func TestStreamChatErrorAfterRetryExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()
	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	require.Len(t, col.errs, 1)
	assert.Equal(t, 0, col.completes)

	var retriable *RetriableError
	assert.ErrorAs(t, col.errs[0], &retriable)
}

func TestStreamChatDropsMalformedEvents(t *testing.T) {
	server := httptest.NewServer(sseHandler(
		`{"broken`,
		deltaEvent("ok"),
	))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()
	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	assert.Empty(t, col.errs)
	assert.Equal(t, "ok", col.text())
}

func TestStreamChatSkipsContentFreeChunks(t *testing.T) {
	server := httptest.NewServer(sseHandler(
		`{}`,
		deltaEvent("kept"),
	))
	defer server.Close()

	client := newTestClient(server.URL)
	col := newCollector()
	client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)
	col.wait(t)

	require.Len(t, col.chunks, 1)
	assert.Equal(t, "kept", col.text())
}

func TestStreamChatCancelCompletesWithoutError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", deltaEvent("partial"))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	col := newCollector()
	cancel := client.StreamChat(context.Background(), &model.ChatRequest{Input: "hi"},
		col.onChunk, col.onError, col.onComplete)

	require.Eventually(t, func() bool {
		return col.text() == "partial"
	}, waitTimeout, 5*time.Millisecond)

	cancel()
	col.wait(t)

	assert.Empty(t, col.errs)
	assert.Equal(t, 1, col.completes)
}

func TestStreamChatSupersedesActiveStream(t *testing.T) {
	release := make(chan struct{})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-release
			return
		}
		sseHandler(deltaEvent("second"))(w, r)
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	first := newCollector()
	second := newCollector()

	client.StreamChat(context.Background(), &model.ChatRequest{Input: "one"},
		first.onChunk, first.onError, first.onComplete)

	require.Eventually(t, func() bool {
		return requests.Load() >= 1
	}, waitTimeout, 5*time.Millisecond)

	client.StreamChat(context.Background(), &model.ChatRequest{Input: "two"},
		second.onChunk, second.onError, second.onComplete)

	first.wait(t)
	second.wait(t)

	// The superseded stream terminates through completion, not error.
	assert.Empty(t, first.errs)
	assert.Equal(t, 1, first.completes)

	assert.Empty(t, second.errs)
	assert.Equal(t, "second", second.text())
}

func TestAbortIsSafeWhenIdle(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0")
	client.Abort()
}
