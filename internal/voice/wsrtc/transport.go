package wsrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/voice"
	"github.com/voxloop/widget-core/pkg/logger"
)

// Transport dials calls created by POST {apiUrl}/call/web and speaks the
// frame protocol over the returned webCallUrl.
type Transport struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	apiURL    string
	publicKey string
	log       *logger.Logger

	mu     sync.Mutex
	events voice.Events
	conn   *websocket.Conn
	ended  bool
	muted  bool

	// wmu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	wmu sync.Mutex
}

func (t *Transport) writeFrame(conn *websocket.Conn, frame Frame) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return conn.WriteJSON(frame)
}

// New creates a websocket transport for the given backend.
func New(apiURL, publicKey string, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.NewNop()
	}
	return &Transport{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Dialer:     websocket.DefaultDialer,
		apiURL:     strings.TrimRight(apiURL, "/"),
		publicKey:  publicKey,
		log:        log,
	}
}

// Bind registers the event handlers. Must be called before StartCall.
func (t *Transport) Bind(events voice.Events) {
	t.mu.Lock()
	t.events = events
	t.mu.Unlock()
}

// StartCall creates a call and joins its websocket channel.
func (t *Transport) StartCall(ctx context.Context, options interface{}) (*model.Call, error) {
	call, err := t.createCall(ctx, options)
	if err != nil {
		return nil, err
	}
	if err := t.join(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

// ReconnectCall rejoins an existing call via its stored handle.
func (t *Transport) ReconnectCall(ctx context.Context, webCallURL string) (*model.Call, error) {
	call := &model.Call{WebCallURL: webCallURL}
	if err := t.join(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

func (t *Transport) createCall(ctx context.Context, options interface{}) (*model.Call, error) {
	body, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call options: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/call/web", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.publicKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call create failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call create failed: HTTP %d", resp.StatusCode)
	}

	var call model.Call
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return nil, fmt.Errorf("failed to decode call: %w", err)
	}
	return &call, nil
}

func (t *Transport) join(ctx context.Context, call *model.Call) error {
	if call.WebCallURL == "" {
		return errors.New("call has no webCallUrl")
	}

	header := http.Header{"Authorization": {"Bearer " + t.publicKey}}
	conn, _, err := t.Dialer.DialContext(ctx, call.WebCallURL, header)
	if err != nil {
		return fmt.Errorf("failed to join call channel: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.ended = false
	t.muted = false
	events := t.events
	t.mu.Unlock()

	go t.readLoop(conn)

	if events.OnCallStart != nil {
		events.OnCallStart(call)
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.finish(nil)
			return
		}

		t.mu.Lock()
		events := t.events
		t.mu.Unlock()

		switch frame.Type {
		case FrameTranscript:
			if events.OnTranscript != nil {
				events.OnTranscript(model.Transcript{
					Role:      model.Role(frame.Role),
					Text:      frame.Text,
					Timestamp: frame.Timestamp,
				})
			}
		case FrameVolumeLevel:
			if events.OnVolumeLevel != nil {
				events.OnVolumeLevel(frame.Level)
			}
		case FrameCallEnd:
			t.finish(nil)
			return
		default:
			t.log.Debugw("unknown call frame", "type", frame.Type)
		}
	}
}

// EndCall hangs up. A forced end skips the hangup frame and tears the
// channel down immediately. OnCallEnd fires before EndCall returns.
func (t *Transport) EndCall(ctx context.Context, force bool) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	if !force {
		deadline := time.Now().Add(2 * time.Second)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		conn.SetWriteDeadline(deadline)
		if err := t.writeFrame(conn, Frame{Type: FrameHangup}); err != nil {
			t.log.Warnw("hangup frame failed", "error", err)
		}
	}

	t.finish(conn)
	return nil
}

// finish closes the channel and emits OnCallEnd exactly once per call.
func (t *Transport) finish(conn *websocket.Conn) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	if conn == nil {
		conn = t.conn
	}
	t.conn = nil
	events := t.events
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if events.OnCallEnd != nil {
		events.OnCallEnd()
	}
}

// ToggleMute flips the microphone state and notifies the remote side.
func (t *Transport) ToggleMute() bool {
	t.mu.Lock()
	t.muted = !t.muted
	muted := t.muted
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		if err := t.writeFrame(conn, Frame{Type: FrameMute, Muted: muted}); err != nil {
			t.log.Warnw("mute frame failed", "error", err)
		}
	}
	return muted
}

// SendText forwards typed user input into the live call channel. The server
// treats it as a spoken user turn.
func (t *Transport) SendText(text string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("no active call")
	}
	return t.writeFrame(conn, Frame{Type: FrameUserText, Text: text, Timestamp: time.Now()})
}
