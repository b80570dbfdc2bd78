package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/citycast/internal/pipeline"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5/middleware"
)

// streamMessage is one server-to-client message on /ws/query.
type streamMessage struct {
	Type        string               `json:"type"`
	Stage       *pipeline.StageEvent `json:"stage,omitempty"`
	FinalOutput string               `json:"final_output,omitempty"`
	Status      int                  `json:"status,omitempty"`
	Detail      string               `json:"detail,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

// QueryStream handles GET /ws/query. The client sends one query request;
// the server streams stage progress and then a result or error message.
func (h *QueryHandler) QueryStream(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "request_id", requestID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "query finished"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(MaxBodyBytes)

	ctx := r.Context()
	var mu sync.Mutex
	send := func(msg streamMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
			h.logger.Debug("WebSocket write error", "error", err)
		}
	}
	fail := func(err error) {
		status, detail := errorStatus(err)
		send(streamMessage{Type: "error", Status: status, Detail: detail})
	}

	_, data, err := ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == -1 {
			h.logger.Warn("WebSocket read error", "error", err)
		}
		return
	}

	// Nothing else is read from the client; ctx is cancelled when it disconnects.
	ctx = ws.CloseRead(ctx)

	var req QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fail(&requestError{status: http.StatusUnprocessableEntity, detail: "invalid request body: " + err.Error()})
		return
	}
	if err := req.normalize(); err != nil {
		fail(err)
		return
	}

	out, err := h.execute(ctx, req, func(ev pipeline.StageEvent) {
		send(streamMessage{Type: "stage", Stage: &ev})
	}, requestID)
	if err != nil {
		fail(err)
		return
	}
	send(streamMessage{Type: "result", FinalOutput: out})
}
