// Package widget contains the mode coordinator: the state machine that
// composes the voice and chat sessions under one configured mode, arbitrates
// which is live, and materializes the merged conversation.
package widget

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/widget-core/internal/chat"
	"github.com/voxloop/widget-core/internal/config"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/voice"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/metrics"
)

// Submode identifies which origin is currently live. It is only meaningful
// in hybrid mode.
type Submode string

const (
	SubmodeNone  Submode = "none"
	SubmodeVoice Submode = "voice"
	SubmodeChat  Submode = "chat"
)

// Coordinator composes one voice session and one chat session under the
// configured mode. Commands are serialized: a chat send racing a call start
// resolves in the order the commands acquire the command lock.
type Coordinator struct {
	// OnVoiceStart, OnVoiceEnd, OnMessage, and OnError are forwarded to
	// the embedding layer verbatim.
	OnVoiceStart func()
	OnVoiceEnd   func()
	OnMessage    func(model.Message)
	OnError      func(error)

	cfg   config.Widget
	voice *voice.Session
	chat  *chat.Session
	log   *logger.Logger

	// cmdMu serializes commands end to end. mu guards the state below and
	// is the only lock event hooks take, so a hook fired synchronously
	// from inside a command cannot deadlock.
	cmdMu sync.Mutex
	mu    sync.Mutex

	activeSubmode Submode
	voiceMessages []model.Message
	userTyping    bool
}

// New wires the coordinator onto its two sessions. Both sessions are
// exclusively owned by this coordinator from here on.
func New(cfg config.Widget, vs *voice.Session, cs *chat.Session, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Coordinator{
		cfg:           cfg,
		voice:         vs,
		chat:          cs,
		log:           log,
		activeSubmode: SubmodeNone,
	}

	vs.OnCallStart = c.handleCallStart
	vs.OnCallEnd = c.handleCallEnd
	vs.OnTranscript = c.handleTranscript
	vs.OnError = c.handleVoiceError

	cs.OnMessage = func(m model.Message) {
		if c.OnMessage != nil {
			c.OnMessage(m)
		}
	}
	cs.OnError = func(err error) {
		if c.OnError != nil {
			c.OnError(err)
		}
	}

	return c
}

// Mode returns the configured mode, fixed for the widget's lifetime.
func (c *Coordinator) Mode() config.Mode { return c.cfg.Mode }

// Voice exposes the voice session for controls the coordinator does not
// arbitrate (mute, volume, reconnect offers).
func (c *Coordinator) Voice() *voice.Session { return c.voice }

// Chat exposes the chat session.
func (c *Coordinator) Chat() *chat.Session { return c.chat }

// ActiveSubmode reports which origin is currently live.
func (c *Coordinator) ActiveSubmode() Submode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSubmode
}

// IsUserTyping reports whether the chat input is non-empty.
func (c *Coordinator) IsUserTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userTyping
}

// HandleInput tracks chat input state. Typing alone never switches modes.
func (c *Coordinator) HandleInput(value string) {
	c.mu.Lock()
	c.userTyping = len(value) > 0
	c.mu.Unlock()
}

// IsVoiceAvailable reports whether a call can be started right now.
func (c *Coordinator) IsVoiceAvailable() bool {
	return c.cfg.VoiceEnabled() && !c.voice.IsCallActive() && c.chat.IsAvailable()
}

// IsChatAvailable reports whether a chat send can be issued right now.
func (c *Coordinator) IsChatAvailable() bool {
	return c.cfg.ChatEnabled() && c.chat.IsAvailable()
}

// Conversation materializes the ordered conversation for the configured
// mode. It is recomputed on every call: the single-purpose modes see only
// their own origin even when the other session still holds messages, and
// hybrid mode is the stable timestamp merge of both histories.
func (c *Coordinator) Conversation() []model.Message {
	switch c.cfg.Mode {
	case config.ModeVoice:
		c.mu.Lock()
		defer c.mu.Unlock()
		out := make([]model.Message, len(c.voiceMessages))
		copy(out, c.voiceMessages)
		return out
	case config.ModeChat:
		return c.chat.Messages()
	default:
		c.mu.Lock()
		voiceMsgs := make([]model.Message, len(c.voiceMessages))
		copy(voiceMsgs, c.voiceMessages)
		c.mu.Unlock()
		return model.MergeByTimestamp(voiceMsgs, c.chat.Messages())
	}
}

// StartCall starts a voice call. In hybrid mode, starting a call while chat
// was the live origin clears both histories first.
func (c *Coordinator) StartCall(ctx context.Context) error {
	if !c.cfg.VoiceEnabled() {
		return voice.ErrDisabled
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.cfg.Mode == config.ModeHybrid {
		c.mu.Lock()
		wasChat := c.activeSubmode == SubmodeChat
		c.mu.Unlock()
		if wasChat {
			c.clearHistories()
		}
	}

	return c.voice.StartCall(ctx)
}

// ToggleCall ends the active call or starts a new one.
func (c *Coordinator) ToggleCall(ctx context.Context, force bool) error {
	if c.voice.IsCallActive() {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
		return c.voice.EndCall(ctx, force)
	}
	return c.StartCall(ctx)
}

// EndCall hangs up the active call.
func (c *Coordinator) EndCall(ctx context.Context, force bool) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.voice.EndCall(ctx, force)
}

// SendMessage sends a chat turn. In hybrid mode with a live call, the call
// is force-ended first; histories are cleared only on the first chat turn
// since the switch.
func (c *Coordinator) SendMessage(ctx context.Context, text string, sessionEnd bool) error {
	if !c.cfg.ChatEnabled() {
		return chat.ErrDisabled
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.cfg.Mode == config.ModeHybrid {
		if c.voice.IsCallActive() {
			// Forced termination: a user-initiated mode switch never
			// waits on graceful call teardown.
			if err := c.voice.EndCall(ctx, true); err != nil {
				c.log.Warnw("forced call end before chat send failed", "error", err)
			}
		}

		c.mu.Lock()
		firstTurnSinceSwitch := c.activeSubmode != SubmodeChat
		c.mu.Unlock()
		if firstTurnSinceSwitch {
			c.clearHistories()
		}
		c.setSubmode(SubmodeChat)
	}

	return c.chat.SendMessage(ctx, text, sessionEnd)
}

// Reset clears both histories, ends any active call, and returns the
// coordinator to its initial state.
func (c *Coordinator) Reset(ctx context.Context) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.voice.IsCallActive() {
		if err := c.voice.EndCall(ctx, true); err != nil {
			c.log.Warnw("call end during reset failed", "error", err)
		}
	}
	c.clearHistories()
	c.setSubmode(SubmodeNone)

	c.mu.Lock()
	c.userTyping = false
	c.mu.Unlock()
}

// Close clears both histories as part of closing the widget from its ended
// screen.
func (c *Coordinator) Close(ctx context.Context) {
	c.Reset(ctx)
}

func (c *Coordinator) clearHistories() {
	c.mu.Lock()
	c.voiceMessages = nil
	c.mu.Unlock()
	c.chat.ClearMessages()
}

func (c *Coordinator) setSubmode(mode Submode) {
	c.mu.Lock()
	changed := c.activeSubmode != mode
	c.activeSubmode = mode
	c.mu.Unlock()
	if changed {
		metrics.ModeSwitches.WithLabelValues(string(mode)).Inc()
	}
}

func (c *Coordinator) handleCallStart() {
	c.setSubmode(SubmodeVoice)

	c.mu.Lock()
	c.userTyping = false
	c.mu.Unlock()

	if c.OnVoiceStart != nil {
		c.OnVoiceStart()
	}
}

func (c *Coordinator) handleCallEnd() {
	c.setSubmode(SubmodeNone)
	if c.OnVoiceEnd != nil {
		c.OnVoiceEnd()
	}
}

func (c *Coordinator) handleTranscript(t model.Transcript) {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := model.Message{
		ID:        uuid.NewString(),
		Role:      t.Role,
		Content:   t.Text,
		Timestamp: ts,
	}

	c.mu.Lock()
	c.voiceMessages = append(c.voiceMessages, msg)
	c.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(model.OriginVoice), string(t.Role)).Inc()
	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}

// handleVoiceError passes transport errors through verbatim. The submode
// reset happens via the transport's own call-end event.
func (c *Coordinator) handleVoiceError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
