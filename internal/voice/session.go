package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/voxloop/widget-core/internal/callstore"
	"github.com/voxloop/widget-core/internal/config"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/pkg/logger"
)

// Status is the call connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// speakingThreshold is the volume level above which the assistant counts as
// speaking.
const speakingThreshold = 0.05

// ErrCallActive is returned when StartCall is issued during an active call.
var ErrCallActive = errors.New("voice: a call is already active")

// ErrDisabled is returned when the configured mode does not include voice.
var ErrDisabled = errors.New("voice: not enabled in this mode")

// ErrNoReconnect is returned when no reconnectable session is stored.
var ErrNoReconnect = errors.New("voice: no stored session to reconnect")

// Session owns the voice call lifecycle: starting and ending calls, mute and
// volume state, and the persisted reconnection record.
type Session struct {
	// OnCallStart, OnCallEnd, OnTranscript, and OnError are session-level
	// hooks set by the coordinator before the first call.
	OnCallStart  func()
	OnCallEnd    func()
	OnTranscript func(model.Transcript)
	OnError      func(error)

	cfg       config.Widget
	transport Transport
	store     *callstore.Store
	log       *logger.Logger

	mu            sync.Mutex
	status        Status
	muted         bool
	volume        float64
	reconnectable *model.StoredCallSession
}

// NewSession creates a voice session and, when auto-reconnect is enabled,
// reads the stored call record once to offer reconnection. A stored record
// whose call options no longer match the current configuration is cleared.
func NewSession(cfg config.Widget, transport Transport, store *callstore.Store, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Session{
		cfg:       cfg,
		transport: transport,
		store:     store,
		log:       log,
		status:    StatusDisconnected,
	}
	transport.Bind(Events{
		OnCallStart:   s.handleCallStart,
		OnCallEnd:     s.handleCallEnd,
		OnTranscript:  s.handleTranscript,
		OnVolumeLevel: s.handleVolume,
		OnError:       s.handleError,
	})

	if cfg.VoiceAutoReconnect {
		if record := store.Retrieve(); record != nil {
			if model.CallOptionsEqual(record.CallOptions, cfg.CallOptions()) {
				s.reconnectable = record
			} else {
				log.Debugw("stored call options differ from current, clearing record")
				store.Clear()
			}
		}
	}
	return s
}

// Status returns the connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsCallActive reports whether a call is connecting or connected.
func (s *Session) IsCallActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status != StatusDisconnected
}

// IsMuted reports the microphone state.
func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// VolumeLevel returns the last reported assistant volume in [0, 1].
func (s *Session) VolumeLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// IsSpeaking reports whether the assistant is audibly speaking.
func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusConnected && s.volume > speakingThreshold
}

// Reconnectable returns the stored session available for reconnection, if
// any.
func (s *Session) Reconnectable() *model.StoredCallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectable
}

// StartCall dials a new call with the configured options and persists the
// reconnection record on success.
func (s *Session) StartCall(ctx context.Context) error {
	if !s.cfg.VoiceEnabled() {
		return ErrDisabled
	}

	s.mu.Lock()
	if s.status != StatusDisconnected {
		s.mu.Unlock()
		return ErrCallActive
	}
	s.status = StatusConnecting
	s.mu.Unlock()

	options := s.cfg.CallOptions()
	call, err := s.transport.StartCall(ctx, options)
	if err != nil {
		s.mu.Lock()
		s.status = StatusDisconnected
		s.mu.Unlock()
		return err
	}

	s.store.Store(call, options)
	return nil
}

// Reconnect rejoins the stored call. Accepting consumes the offer.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	record := s.reconnectable
	if record == nil || s.status != StatusDisconnected {
		s.mu.Unlock()
		if record == nil {
			return ErrNoReconnect
		}
		return ErrCallActive
	}
	s.reconnectable = nil
	s.status = StatusConnecting
	s.mu.Unlock()

	if _, err := s.transport.ReconnectCall(ctx, record.WebCallURL); err != nil {
		s.mu.Lock()
		s.status = StatusDisconnected
		s.mu.Unlock()
		s.store.Clear()
		return err
	}
	return nil
}

// DeclineReconnect drops the stored offer and clears the record.
func (s *Session) DeclineReconnect() {
	s.mu.Lock()
	had := s.reconnectable != nil
	s.reconnectable = nil
	s.mu.Unlock()
	if had {
		s.store.Clear()
	}
}

// EndCall hangs up the active call and clears the reconnection record. It is
// a no-op when no call is active.
func (s *Session) EndCall(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.transport.EndCall(ctx, force)
	s.store.Clear()
	if err != nil {
		// The transport could not negotiate the hangup; the call is
		// still considered over locally.
		s.log.Warnw("call teardown failed", "error", err)
		s.handleCallEnd()
	}
	return err
}

// ToggleCall starts a call when idle and ends it when active.
func (s *Session) ToggleCall(ctx context.Context, force bool) error {
	if s.IsCallActive() {
		return s.EndCall(ctx, force)
	}
	return s.StartCall(ctx)
}

// ToggleMute flips the microphone state.
func (s *Session) ToggleMute() bool {
	muted := s.transport.ToggleMute()
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
	return muted
}

func (s *Session) handleCallStart(call *model.Call) {
	s.mu.Lock()
	s.status = StatusConnected
	s.mu.Unlock()

	s.log.Infow("call started", "call_id", callID(call))
	if s.OnCallStart != nil {
		s.OnCallStart()
	}
}

func (s *Session) handleCallEnd() {
	s.mu.Lock()
	alreadyDown := s.status == StatusDisconnected
	s.status = StatusDisconnected
	s.volume = 0
	s.muted = false
	s.mu.Unlock()
	if alreadyDown {
		return
	}

	s.store.Clear()
	s.log.Infow("call ended")
	if s.OnCallEnd != nil {
		s.OnCallEnd()
	}
}

func (s *Session) handleTranscript(t model.Transcript) {
	if s.OnTranscript != nil {
		s.OnTranscript(t)
	}
}

func (s *Session) handleVolume(level float64) {
	s.mu.Lock()
	s.volume = level
	s.mu.Unlock()
}

// handleError passes transport errors through verbatim; the session does not
// interpret them beyond logging.
func (s *Session) handleError(err error) {
	s.log.Errorw("voice transport error", "error", err)
	if s.OnError != nil {
		s.OnError(err)
	}
}

func callID(call *model.Call) string {
	if call == nil {
		return ""
	}
	return call.ID
}
