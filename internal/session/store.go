// Package session persists chat session history on the reference server, so
// a client that sends only its latest input with a sessionId continues the
// same conversation.
package session

import (
	"context"
	"sync"

	"github.com/voxloop/widget-core/internal/model"
)

// Store holds per-session message history.
type Store interface {
	// Append records one finalized message of the session.
	Append(ctx context.Context, sessionID string, msg model.InputMessage) error

	// History returns the session's messages in append order.
	History(ctx context.Context, sessionID string) ([]model.InputMessage, error)

	// End discards the session after its terminating turn.
	End(ctx context.Context, sessionID string) error
}

// MemoryStore is the default, process-local store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]model.InputMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]model.InputMessage)}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msg model.InputMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

func (s *MemoryStore) History(_ context.Context, sessionID string) ([]model.InputMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.sessions[sessionID]
	out := make([]model.InputMessage, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) End(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
