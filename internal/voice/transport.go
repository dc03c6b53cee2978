// Package voice manages the call side of the widget over a pluggable
// real-time transport. The transport itself is a black box: it dials calls,
// emits transcript and volume events, and is supplied by the embedder.
package voice

import (
	"context"

	"github.com/voxloop/widget-core/internal/model"
)

// Events are the callbacks a transport invokes during a call. Handlers may
// be invoked from transport goroutines.
type Events struct {
	OnCallStart   func(*model.Call)
	OnCallEnd     func()
	OnTranscript  func(model.Transcript)
	OnVolumeLevel func(float64)
	OnError       func(error)
}

// Transport is the real-time voice transport capability consumed by the
// session. Bind must be called before the first StartCall.
type Transport interface {
	Bind(Events)

	// StartCall dials a new call with the given options and returns its
	// descriptor. The descriptor's WebCallURL, when present, is the
	// opaque handle for later reconnection.
	StartCall(ctx context.Context, options interface{}) (*model.Call, error)

	// ReconnectCall rejoins an in-progress call via its stored handle.
	ReconnectCall(ctx context.Context, webCallURL string) (*model.Call, error)

	// EndCall hangs up. With force set the teardown is non-negotiated:
	// no confirmation round-trip with the remote side.
	EndCall(ctx context.Context, force bool) error

	// ToggleMute flips the microphone and reports the new muted state.
	ToggleMute() bool
}
