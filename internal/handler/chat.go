// Package handler implements the reference server's HTTP surface: the SSE
// chat endpoint and the websocket call endpoints the widget client consumes.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/internal/service"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/metrics"
)

// ChatHandler handles POST /chat/web.
type ChatHandler struct {
	chatService *service.ChatService
	logger      *logger.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chatService *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      log,
	}
}

// Stream handles POST /chat/web: one user turn in, a server-sent-event
// stream of chunks out, terminated by the [DONE] sentinel.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssistantID == "" {
		writeError(w, http.StatusBadRequest, "assistantId is required")
		return
	}
	if _, err := req.InputMessages(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.StreamOpened()
	status := "complete"
	defer func() { metrics.StreamClosed(status) }()

	err := h.chatService.HandleTurn(ctx, &req, func(chunk model.StreamChunk) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return sendSSEData(w, flusher, &chunk)
	})
	if err != nil {
		status = "error"
		h.logger.Errorw("chat turn failed", "error", err)
		// The headers are already out; surface the failure as an event
		// the client's parser will drop, then terminate the stream.
		sendSSEData(w, flusher, map[string]string{"error": err.Error()})
	}

	fmt.Fprintf(w, "data: %s\n\n", model.StreamTerminator)
	flusher.Flush()
}

func sendSSEData(w http.ResponseWriter, flusher http.Flusher, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
	return nil
}
