package llm

import (
	"context"
	"strings"
	"time"
)

// EchoClient is the keyless development provider: it repeats the last user
// message back, streamed word by word.
type EchoClient struct {
	// Delay between tokens, so streamed output is visible in demos.
	Delay time.Duration
}

// NewEchoClient creates an echo provider.
func NewEchoClient() *EchoClient {
	return &EchoClient{Delay: 20 * time.Millisecond}
}

// Name returns the provider name.
func (c *EchoClient) Name() string {
	return "echo"
}

// CompleteStream streams the echoed reply.
func (c *EchoClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	var last string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	reply := "You said: " + last
	if last == "" {
		reply = "Hello! How can I help?"
	}

	words := strings.SplitAfter(reply, " ")
	var content string
	for i, word := range words {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		content += word
		if err := callback(word, i); err != nil {
			return nil, err
		}
		if c.Delay > 0 {
			time.Sleep(c.Delay)
		}
	}

	return &CompletionResponse{
		Content:    content,
		Model:      "echo",
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
