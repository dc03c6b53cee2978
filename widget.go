// Package widgetcore is the embeddable conversational widget core: a mode
// coordinator composing a streaming chat session and a voice call session,
// with call reconnection persistence. Embedders configure a Widget, supply a
// storage backend for reconnection records, and drive the returned
// Coordinator from their UI layer.
package widgetcore

import (
	"github.com/voxloop/widget-core/internal/callstore"
	"github.com/voxloop/widget-core/internal/chat"
	"github.com/voxloop/widget-core/internal/chatstream"
	"github.com/voxloop/widget-core/internal/config"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/voice"
	"github.com/voxloop/widget-core/internal/voice/wsrtc"
	"github.com/voxloop/widget-core/internal/widget"
	"github.com/voxloop/widget-core/pkg/logger"
)

// Re-exported core types. The internal packages carry the implementations;
// these aliases are the public surface.
type (
	Config      = config.Widget
	Mode        = config.Mode
	Message     = model.Message
	Transcript  = model.Transcript
	Role        = model.Role
	Origin      = model.Origin
	Coordinator = widget.Coordinator
	Submode     = widget.Submode

	// Transport carries voice calls. The default is the websocket transport;
	// embedders with their own media stack supply their own.
	Transport = voice.Transport

	// StorageBackend persists call reconnection records. MemoryBackend is
	// ephemeral; FileBackend survives restarts.
	StorageBackend = callstore.Backend

	Logger = logger.Logger
)

const (
	ModeVoice  = config.ModeVoice
	ModeChat   = config.ModeChat
	ModeHybrid = config.ModeHybrid

	SubmodeNone  = widget.SubmodeNone
	SubmodeVoice = widget.SubmodeVoice
	SubmodeChat  = widget.SubmodeChat

	RoleUser      = model.RoleUser
	RoleAssistant = model.RoleAssistant

	OriginVoice = model.OriginVoice
	OriginChat  = model.OriginChat
)

// Options carries the pluggable pieces of a widget. Zero value means all
// defaults: websocket voice transport, in-memory reconnection storage, no-op
// logger.
type Options struct {
	Transport Transport
	Storage   StorageBackend
	Logger    *Logger
}

// NewMemoryStorage returns an ephemeral reconnection storage backend.
func NewMemoryStorage() StorageBackend {
	return callstore.NewMemoryBackend()
}

// NewFileStorage returns a reconnection storage backend rooted at dir.
// Records older than callstore.DefaultTTL are treated as expired.
func NewFileStorage(dir string) (StorageBackend, error) {
	return callstore.NewFileBackend(dir, callstore.DefaultTTL)
}

// NewLogger builds a production logger at the given level.
func NewLogger(level string) (*Logger, error) {
	return logger.New(level)
}

// New assembles a widget coordinator from its configuration. The config is
// normalized first, so missing defaults and placeholder credentials are
// resolved the same way regardless of the embedder.
func New(cfg Config, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	cfg = cfg.Normalize(log)

	transport := opts.Transport
	if transport == nil {
		transport = wsrtc.New(cfg.APIURL, cfg.PublicKey, log)
	}
	storage := opts.Storage
	if storage == nil {
		storage = callstore.NewMemoryBackend()
	}

	streamClient := chatstream.New(cfg.APIURL, cfg.PublicKey, log)
	chatSession := chat.NewSession(cfg, streamClient, log)

	callStore := callstore.New(storage, cfg.ReconnectStorageKey, log)
	voiceSession := voice.NewSession(cfg, transport, callStore, log)

	return widget.New(cfg, voiceSession, chatSession, log)
}
