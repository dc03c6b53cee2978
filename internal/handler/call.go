package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxloop/widget-core/internal/llm"
	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/voice/wsrtc"
	"github.com/voxloop/widget-core/pkg/logger"
)

// callTTL bounds how long a created call stays joinable.
const callTTL = time.Hour

// CallHandler implements the voice side of the wire contract: call creation
// and the websocket call channel the wsrtc transport joins.
type CallHandler struct {
	llm       llm.Client
	publicURL string
	logger    *logger.Logger
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	calls map[string]*callState
}

type callState struct {
	options   interface{}
	createdAt time.Time
	history   []llm.ChatMessage
}

// NewCallHandler creates a call handler. publicURL is the externally
// reachable base URL used to build webCallUrl handles.
func NewCallHandler(llmClient llm.Client, publicURL string, log *logger.Logger) *CallHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &CallHandler{
		llm:       llmClient,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		calls: make(map[string]*callState),
	}
}

// Create handles POST /call/web: registers a call and returns its
// descriptor, including the websocket reconnection handle.
func (h *CallHandler) Create(w http.ResponseWriter, r *http.Request) {
	var options interface{}
	if r.Body != nil {
		// Options are opaque; an empty or invalid body means none.
		json.NewDecoder(r.Body).Decode(&options)
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.pruneLocked()
	h.calls[id] = &callState{options: options, createdAt: time.Now()}
	h.mu.Unlock()

	call := model.Call{
		ID:         id,
		WebCallURL: h.webCallURL(id),
	}
	h.logger.Infow("call created", "call_id", id)
	writeJSON(w, http.StatusCreated, &call)
}

func (h *CallHandler) webCallURL(id string) string {
	url := h.publicURL + "/call/ws/" + id
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}

func (h *CallHandler) pruneLocked() {
	for id, call := range h.calls {
		if time.Since(call.createdAt) > callTTL {
			delete(h.calls, id)
		}
	}
}

// Join handles GET /call/ws/{id}: the websocket call channel. Frames follow
// the wsrtc protocol; reconnecting to a known call resumes its history.
func (h *CallHandler) Join(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.Lock()
	call, ok := h.calls[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("call channel upgrade failed", "call_id", id, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Infow("call channel joined", "call_id", id)
	h.serveCall(r.Context(), conn, call)
}

func (h *CallHandler) serveCall(ctx context.Context, conn *websocket.Conn, call *callState) {
	for {
		var frame wsrtc.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case wsrtc.FrameUserText:
			h.handleUserTurn(ctx, conn, call, frame.Text)
		case wsrtc.FrameMute:
			// Mute is client-side state; nothing to do here.
		case wsrtc.FrameHangup:
			conn.WriteJSON(wsrtc.Frame{Type: wsrtc.FrameCallEnd})
			return
		}
	}
}

// handleUserTurn echoes the user transcript, streams a reply from the
// provider, and speaks it back as an assistant transcript with volume
// activity around it.
func (h *CallHandler) handleUserTurn(ctx context.Context, conn *websocket.Conn, call *callState, text string) {
	now := time.Now()
	conn.WriteJSON(wsrtc.Frame{
		Type:      wsrtc.FrameTranscript,
		Role:      string(model.RoleUser),
		Text:      text,
		Timestamp: now,
	})

	call.history = append(call.history, llm.ChatMessage{Role: string(model.RoleUser), Content: text})

	resp, err := h.llm.CompleteStream(ctx, &llm.CompletionRequest{
		Messages: call.history,
	}, func(string, int) error { return nil })
	if err != nil {
		h.logger.Errorw("call reply failed", "error", err)
		return
	}
	call.history = append(call.history, llm.ChatMessage{Role: string(model.RoleAssistant), Content: resp.Content})

	conn.WriteJSON(wsrtc.Frame{Type: wsrtc.FrameVolumeLevel, Level: 0.6})
	conn.WriteJSON(wsrtc.Frame{
		Type:      wsrtc.FrameTranscript,
		Role:      string(model.RoleAssistant),
		Text:      resp.Content,
		Timestamp: time.Now(),
	})
	conn.WriteJSON(wsrtc.Frame{Type: wsrtc.FrameVolumeLevel, Level: 0})
}
