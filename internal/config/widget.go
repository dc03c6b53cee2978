// Package config provides configuration for the widget core and the
// reference server.
package config

import (
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/pkg/logger"
)

// Mode is the widget's configured interaction mode, fixed for its lifetime.
type Mode string

const (
	ModeVoice  Mode = "voice"
	ModeChat   Mode = "chat"
	ModeHybrid Mode = "hybrid"
)

const (
	// DefaultAPIURL is the chat backend used when none is configured.
	DefaultAPIURL = "https://api.voxloop.ai"

	// PlaceholderPublicKey is substituted when no public key is configured,
	// so the widget degrades visibly instead of crashing.
	PlaceholderPublicKey = "your-public-key"

	// DefaultReconnectStorageKey is where the call reconnection record lives.
	DefaultReconnectStorageKey = "voxloop_call_data"

	// DefaultConsentStorageKey is where the consent acknowledgment lives.
	DefaultConsentStorageKey = "voxloop_widget_consent"
)

// Widget holds the canonical configuration consumed by the coordinator and
// sessions. Legacy option aliases are resolved by the embedding layer before
// this struct is built; the core never sees them.
type Widget struct {
	Mode      Mode
	PublicKey string
	APIURL    string

	// Assistant identity. Precedence when building call options:
	// Assistant object, then AssistantID with overrides, then AssistantID.
	AssistantID        string
	Assistant          interface{}
	AssistantOverrides *model.AssistantOverrides

	// Chat behavior.
	FirstChatMessage string

	// Voice reconnection.
	VoiceAutoReconnect  bool
	ReconnectStorageKey string

	// Consent.
	ConsentRequired   bool
	ConsentStorageKey string

	// Presentation tokens, carried verbatim for the embedding layer.
	Theme           string
	Title           string
	StartButtonText string
	EndButtonText   string
	ChatPlaceholder string
}

// Normalize fills defaults and substitutes placeholders for missing
// mandatory identity fields. It never fails: a missing public key is logged
// and replaced so the widget can still render in a degraded state.
func (w Widget) Normalize(log *logger.Logger) Widget {
	if log == nil {
		log = logger.NewNop()
	}
	if w.Mode == "" {
		w.Mode = ModeChat
	}
	if w.APIURL == "" {
		w.APIURL = DefaultAPIURL
	}
	if w.PublicKey == "" {
		log.Warnw("no public key configured, substituting placeholder")
		w.PublicKey = PlaceholderPublicKey
	}
	if w.ReconnectStorageKey == "" {
		w.ReconnectStorageKey = DefaultReconnectStorageKey
	}
	if w.ConsentStorageKey == "" {
		w.ConsentStorageKey = DefaultConsentStorageKey
	}
	return w
}

// CallOptions builds the options used to start a voice call. An assistant
// object wins over an assistant id; overrides attach to the id form only.
func (w Widget) CallOptions() interface{} {
	if w.Assistant != nil {
		return w.Assistant
	}
	if w.AssistantID != "" {
		if w.AssistantOverrides != nil {
			return map[string]interface{}{
				"assistantId":        w.AssistantID,
				"assistantOverrides": w.AssistantOverrides,
			}
		}
		return w.AssistantID
	}
	return nil
}

// VoiceEnabled reports whether the configured mode includes voice.
func (w Widget) VoiceEnabled() bool {
	return w.Mode == ModeVoice || w.Mode == ModeHybrid
}

// ChatEnabled reports whether the configured mode includes chat.
func (w Widget) ChatEnabled() bool {
	return w.Mode == ModeChat || w.Mode == ModeHybrid
}
