// Package chat owns the text-chat side of the widget: message history, turn
// lifecycle, and accumulation of streamed deltas into the assistant reply.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/widget-core/internal/chatstream"
	"github.com/voxloop/widget-core/internal/config"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/metrics"
)

// ErrUnavailable is returned when a send is issued while one is outstanding.
// Sends are single-flight per session.
var ErrUnavailable = errors.New("chat: a send is already in flight")

// ErrDisabled is returned when the configured mode does not include chat.
var ErrDisabled = errors.New("chat: not enabled in this mode")

// Session owns chat message history and drives the streaming client one
// user turn at a time.
type Session struct {
	// OnMessage, when set, receives each finalized message (the user turn
	// and the completed assistant reply).
	OnMessage func(model.Message)

	// OnError, when set, receives fatal stream errors. Partial assistant
	// content is preserved; the session stays usable for the next turn.
	OnError func(error)

	cfg    config.Widget
	client *chatstream.Client
	log    *logger.Logger

	mu         sync.Mutex
	messages   []model.Message
	sessionID  string
	responding bool
	greetingID string
}

// NewSession creates a chat session. When the configuration carries a first
// chat message it is injected as the initial assistant entry of the history;
// it is local-only and never sent to the server.
func NewSession(cfg config.Widget, client *chatstream.Client, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Session{
		cfg:    cfg,
		client: client,
		log:    log,
	}
	s.injectGreeting()
	return s
}

func (s *Session) injectGreeting() {
	if s.cfg.FirstChatMessage == "" {
		return
	}
	s.greetingID = uuid.NewString()
	s.messages = append(s.messages, model.Message{
		ID:        s.greetingID,
		Role:      model.RoleAssistant,
		Content:   s.cfg.FirstChatMessage,
		Timestamp: time.Now(),
	})
}

// Messages returns a copy of the current history.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// IsTyping reports whether an assistant reply is being streamed.
func (s *Session) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responding
}

// IsAvailable reports whether a new send can be issued.
func (s *Session) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.responding
}

// SessionID returns the server-assigned continuation id, if any.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SendMessage appends the user message synchronously, then streams the
// assistant reply. sessionEnd marks the conversation's terminating turn;
// after it completes the held continuation id is dropped.
func (s *Session) SendMessage(ctx context.Context, text string, sessionEnd bool) error {
	if !s.cfg.ChatEnabled() {
		return ErrDisabled
	}

	s.mu.Lock()
	if s.responding {
		s.mu.Unlock()
		return ErrUnavailable
	}
	s.responding = true

	userMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	s.messages = append(s.messages, userMsg)
	metrics.MessagesTotal.WithLabelValues(string(model.OriginChat), string(model.RoleUser)).Inc()

	req := &model.ChatRequest{
		Input:              s.buildInputLocked(),
		AssistantID:        s.cfg.AssistantID,
		AssistantOverrides: s.cfg.AssistantOverrides,
		SessionID:          s.sessionID,
		SessionEnd:         sessionEnd,
	}
	s.mu.Unlock()

	if s.OnMessage != nil {
		s.OnMessage(userMsg)
	}

	s.client.StreamChat(ctx, req,
		s.handleChunk,
		func(err error) { s.handleError(err) },
		func() { s.handleComplete(sessionEnd) },
	)
	return nil
}

// buildInputLocked renders the history as the stream input: every finalized
// message except the locally injected greeting, the new user turn included.
func (s *Session) buildInputLocked() []model.InputMessage {
	input := make([]model.InputMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.ID == s.greetingID || m.Loading {
			continue
		}
		input = append(input, model.InputMessage{Role: string(m.Role), Content: m.Content})
	}
	return input
}

func (s *Session) handleChunk(chunk model.StreamChunk) {
	s.mu.Lock()
	if !s.responding {
		// Chunk from a stream that was superseded or cleared.
		s.mu.Unlock()
		return
	}
	if chunk.SessionID != "" {
		s.sessionID = chunk.SessionID
	}

	text, replace, ok := chunk.VisibleText()
	if !ok {
		s.mu.Unlock()
		return
	}

	last := len(s.messages) - 1
	if last >= 0 && s.messages[last].Role == model.RoleAssistant && s.messages[last].Loading {
		if replace {
			s.messages[last].Content = text
		} else {
			s.messages[last].Content += text
		}
	} else {
		s.messages = append(s.messages, model.Message{
			ID:        uuid.NewString(),
			Role:      model.RoleAssistant,
			Content:   text,
			Timestamp: time.Now(),
			Loading:   true,
		})
		metrics.MessagesTotal.WithLabelValues(string(model.OriginChat), string(model.RoleAssistant)).Inc()
	}
	s.mu.Unlock()
}

func (s *Session) handleComplete(sessionEnd bool) {
	s.mu.Lock()
	var finished *model.Message
	last := len(s.messages) - 1
	if last >= 0 && s.messages[last].Loading {
		s.messages[last].Loading = false
		m := s.messages[last]
		finished = &m
	}
	if sessionEnd {
		s.sessionID = ""
	}
	s.responding = false
	s.mu.Unlock()

	if finished != nil && s.OnMessage != nil {
		s.OnMessage(*finished)
	}
}

// handleError keeps any partially built assistant content in place and
// leaves the session available for the next turn.
func (s *Session) handleError(err error) {
	s.mu.Lock()
	last := len(s.messages) - 1
	if last >= 0 && s.messages[last].Loading {
		s.messages[last].Loading = false
	}
	s.responding = false
	s.mu.Unlock()

	s.log.Errorw("chat stream failed", "error", err)
	if s.OnError != nil {
		s.OnError(err)
	}
}

// ClearMessages resets history, cancels any in-flight stream, and drops the
// continuation id. The configured greeting is re-injected.
func (s *Session) ClearMessages() {
	s.client.Abort()

	s.mu.Lock()
	s.messages = nil
	s.sessionID = ""
	s.responding = false
	s.greetingID = ""
	s.injectGreeting()
	s.mu.Unlock()
}
