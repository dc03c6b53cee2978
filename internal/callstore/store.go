// Package callstore persists the descriptor of an in-progress voice call so
// the call can be offered for reconnection after a restart.
package callstore

import (
	"encoding/json"
	"time"

	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/metrics"
)

// Store owns the reconnection record under one storage key. Nothing else in
// the widget touches the record directly.
type Store struct {
	backend Backend
	key     string
	log     *logger.Logger
}

// New creates a store over the given backend and key.
func New(backend Backend, key string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{backend: backend, key: key, log: log}
}

// Store writes the reconnection record for a call that just started. Calls
// without a reconnection handle cannot be resumed, so the write is skipped
// with a warning rather than failing the call.
func (s *Store) Store(call *model.Call, options interface{}) {
	if call == nil || call.WebCallURL == "" {
		s.log.Warnw("call has no reconnection handle, skipping store", "key", s.key)
		return
	}

	record := model.StoredCallSession{
		WebCallURL:   call.WebCallURL,
		ID:           call.ID,
		ArtifactPlan: call.ArtifactPlan,
		Assistant:    call.Assistant,
		CallOptions:  options,
		Timestamp:    time.Now().UnixMilli(),
	}

	data, err := json.Marshal(&record)
	if err != nil {
		s.log.Warnw("failed to encode reconnection record", "error", err)
		return
	}
	if err := s.backend.Write(s.key, data); err != nil {
		s.log.Warnw("failed to store reconnection record", "error", err)
		return
	}

	metrics.CallSessions.WithLabelValues("store").Inc()
	s.log.Debugw("stored call for reconnection", "call_id", call.ID)
}

// Retrieve returns the stored record, or nil when none exists. A record that
// cannot be decoded is treated as corrupt: the entry is cleared and nil is
// returned, never an error.
func (s *Store) Retrieve() *model.StoredCallSession {
	data, ok, err := s.backend.Read(s.key)
	if err != nil {
		s.log.Warnw("failed to read reconnection record", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var record model.StoredCallSession
	if err := json.Unmarshal(data, &record); err != nil || record.WebCallURL == "" {
		s.log.Warnw("corrupt reconnection record, clearing", "key", s.key)
		s.Clear()
		return nil
	}

	metrics.CallSessions.WithLabelValues("retrieve").Inc()
	return &record
}

// Clear removes the stored record.
func (s *Store) Clear() {
	if err := s.backend.Delete(s.key); err != nil {
		s.log.Warnw("failed to clear reconnection record", "error", err)
		return
	}
	metrics.CallSessions.WithLabelValues("clear").Inc()
}
