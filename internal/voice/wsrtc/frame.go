// Package wsrtc is a reference voice.Transport over a websocket call
// channel. It implements the transport contract against the widget server's
// call endpoints and doubles as the test transport; production embedders
// supply their own transport over a real media stack.
package wsrtc

import "time"

// Frame types on the call socket.
const (
	FrameTranscript  = "transcript"
	FrameVolumeLevel = "volume-level"
	FrameCallEnd     = "call-end"
	FrameUserText    = "user-text"
	FrameMute        = "mute"
	FrameHangup      = "hangup"
)

// Frame is one JSON message on the call socket, in either direction.
type Frame struct {
	Type      string    `json:"type"`
	Role      string    `json:"role,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Level     float64   `json:"level,omitempty"`
	Muted     bool      `json:"muted,omitempty"`
	Force     bool      `json:"force,omitempty"`
}
