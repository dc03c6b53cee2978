package wsrtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/voice"
)

const waitTimeout = 5 * time.Second

// callServer is a stub widget backend: call creation plus a scripted call
// channel.
type callServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	// serve runs the call channel once a client joins.
	serve func(conn *websocket.Conn)

	received chan Frame
}

func newCallServer(t *testing.T, serve func(conn *websocket.Conn)) *callServer {
	t.Helper()
	cs := &callServer{serve: serve, received: make(chan Frame, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/call/web", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(cs.server.URL, "http") + "/call/ws/test"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&model.Call{ID: "call-1", WebCallURL: wsURL})
	})
	mux.HandleFunc("/call/ws/test", func(w http.ResponseWriter, r *http.Request) {
		conn, err := cs.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		go func() {
			for {
				var frame Frame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				cs.received <- frame
			}
		}()
		cs.serve(conn)
	})

	cs.server = httptest.NewServer(mux)
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *callServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-cs.received:
		return f
	case <-time.After(waitTimeout):
		t.Fatal("server received no frame")
		return Frame{}
	}
}

type eventRecorder struct {
	started     atomic.Int32
	ended       atomic.Int32
	transcripts chan model.Transcript
	volumes     chan float64
	endSignal   chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		transcripts: make(chan model.Transcript, 16),
		volumes:     make(chan float64, 16),
		endSignal:   make(chan struct{}, 4),
	}
}

func (r *eventRecorder) events() voice.Events {
	return voice.Events{
		OnCallStart:   func(*model.Call) { r.started.Add(1) },
		OnCallEnd:     func() { r.ended.Add(1); r.endSignal <- struct{}{} },
		OnTranscript:  func(tr model.Transcript) { r.transcripts <- tr },
		OnVolumeLevel: func(level float64) { r.volumes <- level },
	}
}

func (r *eventRecorder) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-r.endSignal:
	case <-time.After(waitTimeout):
		t.Fatal("call never ended")
	}
}

func TestStartCallJoinsAndReceivesFrames(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cs := newCallServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{Type: FrameTranscript, Role: "assistant", Text: "hello", Timestamp: ts})
		conn.WriteJSON(Frame{Type: FrameVolumeLevel, Level: 0.4})
		conn.WriteJSON(Frame{Type: FrameCallEnd})
	})

	transport := New(cs.server.URL, "pk_test", nil)
	rec := newEventRecorder()
	transport.Bind(rec.events())

	call, err := transport.StartCall(context.Background(), "assistant-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, int32(1), rec.started.Load())

	select {
	case tr := <-rec.transcripts:
		assert.Equal(t, model.RoleAssistant, tr.Role)
		assert.Equal(t, "hello", tr.Text)
		assert.Equal(t, ts, tr.Timestamp)
	case <-time.After(waitTimeout):
		t.Fatal("no transcript received")
	}

	select {
	case level := <-rec.volumes:
		assert.InDelta(t, 0.4, level, 1e-9)
	case <-time.After(waitTimeout):
		t.Fatal("no volume received")
	}

	rec.waitEnd(t)
	assert.Equal(t, int32(1), rec.ended.Load())
}

func TestEndCallSendsHangupAndEmitsEndOnce(t *testing.T) {
	block := make(chan struct{})
	cs := newCallServer(t, func(conn *websocket.Conn) { <-block })
	defer close(block)

	transport := New(cs.server.URL, "pk_test", nil)
	rec := newEventRecorder()
	transport.Bind(rec.events())

	_, err := transport.StartCall(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, transport.EndCall(context.Background(), false))

	// OnCallEnd fires before EndCall returns.
	assert.Equal(t, int32(1), rec.ended.Load())

	frame := cs.nextFrame(t)
	assert.Equal(t, FrameHangup, frame.Type)

	// A second end is a no-op; the read loop closing must not re-emit.
	require.NoError(t, transport.EndCall(context.Background(), false))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), rec.ended.Load())
}

func TestForcedEndSkipsHangupFrame(t *testing.T) {
	block := make(chan struct{})
	cs := newCallServer(t, func(conn *websocket.Conn) { <-block })
	defer close(block)

	transport := New(cs.server.URL, "pk_test", nil)
	rec := newEventRecorder()
	transport.Bind(rec.events())

	_, err := transport.StartCall(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, transport.EndCall(context.Background(), true))

	assert.Equal(t, int32(1), rec.ended.Load())
	select {
	case frame := <-cs.received:
		t.Fatalf("unexpected frame sent on forced end: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendTextAndMuteFrames(t *testing.T) {
	block := make(chan struct{})
	cs := newCallServer(t, func(conn *websocket.Conn) { <-block })
	defer close(block)

	transport := New(cs.server.URL, "pk_test", nil)
	rec := newEventRecorder()
	transport.Bind(rec.events())

	_, err := transport.StartCall(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, transport.SendText("typed during call"))
	frame := cs.nextFrame(t)
	assert.Equal(t, FrameUserText, frame.Type)
	assert.Equal(t, "typed during call", frame.Text)

	assert.True(t, transport.ToggleMute())
	frame = cs.nextFrame(t)
	assert.Equal(t, FrameMute, frame.Type)
	assert.True(t, frame.Muted)
}

func TestReconnectCallDialsStoredHandle(t *testing.T) {
	cs := newCallServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{Type: FrameCallEnd})
	})

	transport := New(cs.server.URL, "pk_test", nil)
	rec := newEventRecorder()
	transport.Bind(rec.events())

	wsURL := "ws" + strings.TrimPrefix(cs.server.URL, "http") + "/call/ws/test"
	call, err := transport.ReconnectCall(context.Background(), wsURL)
	require.NoError(t, err)
	assert.Equal(t, wsURL, call.WebCallURL)
	assert.Equal(t, int32(1), rec.started.Load())

	rec.waitEnd(t)
}

func TestSendTextWithoutCall(t *testing.T) {
	transport := New("http://127.0.0.1:0", "pk_test", nil)
	assert.Error(t, transport.SendText("nope"))
}
