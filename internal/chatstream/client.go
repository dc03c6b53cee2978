// Package chatstream implements the streaming HTTP client for the chat
// endpoint. It decodes server-sent events into structured chunks, classifies
// failures as fatal or retriable, reconnects retriable failures with
// exponential backoff, and supports cooperative cancellation. At most one
// stream is active per client; starting a new stream supersedes the previous
// one, which completes through its normal callback rather than erroring.
package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/metrics"
)

const clientID = "voxloop-widget"

// ChunkHandler receives each content-bearing chunk of a stream.
type ChunkHandler func(model.StreamChunk)

// ErrorHandler receives the single fatal error of a failed stream.
type ErrorHandler func(error)

// CompleteHandler runs once when a stream ends normally or is canceled.
type CompleteHandler func()

// Client manages one streaming request to the chat endpoint at a time.
type Client struct {
	// HTTPClient may be replaced before first use. The default carries
	// transport-level timeouts but no overall request timeout, since
	// streams are long-lived.
	HTTPClient *http.Client

	// RetryInitialInterval and RetryMaxElapsed shape the reconnect
	// backoff for retriable failures.
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration

	apiURL    string
	publicKey string
	log       *logger.Logger

	mu     sync.Mutex
	active *streamHandle
}

type streamHandle struct {
	cancel context.CancelFunc
}

// New creates a streaming chat client.
func New(apiURL, publicKey string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		HTTPClient:           defaultHTTPClient(),
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxElapsed:      30 * time.Second,
		apiURL:               strings.TrimRight(apiURL, "/"),
		publicKey:            publicKey,
		log:                  log,
	}
}

// defaultHTTPClient sets transport timeouts only; the request lifetime is
// governed by the stream's context.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// StreamChat opens a stream for the given request and returns a cancel
// function. Any stream already in flight is canceled first and completes via
// its own onComplete. Exactly one of onComplete or onError fires per stream:
// onComplete on normal closure and on cancellation, onError on fatal failure
// or retry exhaustion.
func (c *Client) StreamChat(
	ctx context.Context,
	req *model.ChatRequest,
	onChunk ChunkHandler,
	onError ErrorHandler,
	onComplete CompleteHandler,
) (cancel func()) {
	sctx, cancelStream := context.WithCancel(ctx)
	handle := &streamHandle{cancel: cancelStream}

	c.mu.Lock()
	if c.active != nil {
		c.active.cancel()
	}
	c.active = handle
	c.mu.Unlock()

	go c.run(sctx, handle, req, onChunk, onError, onComplete)

	return cancelStream
}

// Abort cancels the in-flight stream, if any. The canceled stream completes
// through onComplete.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.cancel()
		c.active = nil
	}
}

func (c *Client) run(
	ctx context.Context,
	handle *streamHandle,
	req *model.ChatRequest,
	onChunk ChunkHandler,
	onError ErrorHandler,
	onComplete CompleteHandler,
) {
	metrics.StreamOpened()

	var once sync.Once
	complete := func() {
		once.Do(func() {
			metrics.StreamClosed("complete")
			if onComplete != nil {
				onComplete()
			}
		})
	}
	fail := func(err error) {
		once.Do(func() {
			metrics.StreamClosed("error")
			if onError != nil {
				onError(err)
			}
		})
	}

	defer func() {
		c.mu.Lock()
		if c.active == handle {
			c.active = nil
		}
		c.mu.Unlock()
		handle.cancel()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.RetryInitialInterval
	bo.MaxElapsedTime = c.RetryMaxElapsed

	err := backoff.Retry(func() error {
		err := c.attempt(ctx, req, onChunk)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			metrics.ChatStreamErrors.WithLabelValues("fatal").Inc()
			return backoff.Permanent(err)
		}
		metrics.ChatStreamRetries.Inc()
		metrics.ChatStreamErrors.WithLabelValues("retriable").Inc()
		c.log.Warnw("retriable stream error, reconnecting", "error", err)
		return err
	}, backoff.WithContext(bo, ctx))

	switch {
	case err == nil:
		complete()
	case ctx.Err() != nil:
		// Intentional interruption, not a failure.
		complete()
	default:
		fail(err)
	}
}

// attempt opens one streaming request and consumes it to completion.
func (c *Client) attempt(ctx context.Context, req *model.ChatRequest, onChunk ChunkHandler) error {
	wire := *req
	wire.Stream = true

	body, err := json.Marshal(&wire)
	if err != nil {
		return &FatalError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/web", bytes.NewReader(body))
	if err != nil {
		return &FatalError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.publicKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Client-ID", clientID)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return &RetriableError{Err: err}
	}

	if err := classifyResponse(resp); err != nil {
		resp.Body.Close()
		return err
	}

	reader := newSSEReader(resp.Body)
	defer reader.Close()

	for {
		payload, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &RetriableError{Err: err}
		}

		var chunk model.StreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// Malformed events are dropped; the stream continues.
			c.log.Warnw("failed to parse stream event", "data", string(payload))
			continue
		}
		if !chunk.HasContent() {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}

// classifyResponse sorts a connect handshake into proceed, fatal, or
// retriable. Client errors other than 429 are fatal; everything else,
// including a success with the wrong content type, is retriable.
func classifyResponse(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if strings.Contains(contentType, "text/event-stream") {
			return nil
		}
		return &RetriableError{Status: resp.StatusCode, Err: errors.New("unexpected content type " + contentType)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &FatalError{Status: resp.StatusCode}
	}
	return &RetriableError{Status: resp.StatusCode}
}
