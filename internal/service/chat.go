// Package service implements the reference server's turn handling behind
// the widget wire protocol.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/widget-core/internal/llm"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/session"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/metrics"
)

// ChunkEmitter sends one stream chunk to the client.
type ChunkEmitter func(model.StreamChunk) error

// ChatService runs one chat turn: resolve the session, stream the model's
// reply as delta chunks, persist the finished turn.
type ChatService struct {
	llm      llm.Client
	sessions session.Store
	log      *logger.Logger
}

// NewChatService creates a chat service.
func NewChatService(llmClient llm.Client, sessions session.Store, log *logger.Logger) *ChatService {
	return &ChatService{
		llm:      llmClient,
		sessions: sessions,
		log:      log,
	}
}

// HandleTurn streams the assistant reply for one request. The first emitted
// chunk carries the session id so first-turn clients can adopt it.
func (s *ChatService) HandleTurn(ctx context.Context, req *model.ChatRequest, emit ChunkEmitter) error {
	input, err := req.InputMessages()
	if err != nil {
		return err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := emit(model.StreamChunk{ID: uuid.NewString(), SessionID: sessionID}); err != nil {
		return err
	}

	turn, err := s.resolveContext(ctx, sessionID, input)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := s.llm.CompleteStream(ctx, &llm.CompletionRequest{
		Messages: toLLMMessages(turn),
	}, func(token string, index int) error {
		delta := token
		return emit(model.StreamChunk{
			Path:  model.OutputContentPath,
			Delta: &delta,
		})
	})
	if err != nil {
		metrics.LLMStreamDuration.WithLabelValues(s.llm.Name(), "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("completion stream failed: %w", err)
	}
	metrics.LLMStreamDuration.WithLabelValues(resp.Model, "success").Observe(time.Since(start).Seconds())

	s.persistTurn(ctx, sessionID, input, resp.Content)

	if req.SessionEnd {
		if err := s.sessions.End(ctx, sessionID); err != nil {
			s.log.Warnw("failed to end session", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// resolveContext builds the model context for this turn. A client that
// carries its full history sends it as the input; a client that sends only
// its latest turn gets the stored history prepended.
func (s *ChatService) resolveContext(ctx context.Context, sessionID string, input []model.InputMessage) ([]model.InputMessage, error) {
	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	if len(history) == 0 || len(input) > 1 {
		return input, nil
	}
	return append(history, input...), nil
}

// persistTurn stores the latest user message and the assistant reply.
func (s *ChatService) persistTurn(ctx context.Context, sessionID string, input []model.InputMessage, reply string) {
	if len(input) > 0 {
		last := input[len(input)-1]
		if last.Role == string(model.RoleUser) {
			if err := s.sessions.Append(ctx, sessionID, last); err != nil {
				s.log.Warnw("failed to persist user turn", "session_id", sessionID, "error", err)
			}
		}
	}
	if err := s.sessions.Append(ctx, sessionID, model.InputMessage{
		Role:    string(model.RoleAssistant),
		Content: reply,
	}); err != nil {
		s.log.Warnw("failed to persist assistant turn", "session_id", sessionID, "error", err)
	}
}

func toLLMMessages(msgs []model.InputMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = llm.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
