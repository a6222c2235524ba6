// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianBridge/services/bridge/engine"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// =============================================================================
// WebSocket Resolve Streaming
// =============================================================================

const (
	// wsRequestTimeout is how long a connected client has to send its
	// resolve request before the connection is dropped.
	wsRequestTimeout = 30 * time.Second

	// wsWriteTimeout bounds each frame write.
	wsWriteTimeout = 10 * time.Second

	// wsEventBuffer is the progress event channel capacity. The engine
	// emits events synchronously from the search goroutine; when a slow
	// client falls behind, events are dropped rather than stalling the
	// search.
	wsEventBuffer = 256
)

// upgrader upgrades HTTP requests to WebSocket connections. Origin checks
// are delegated to the deployment's reverse proxy, same as the REST
// endpoints' auth.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame is one message on a resolve stream.
//
// Description:
//
//	A stream is zero or more "event" frames followed by exactly one
//	terminal frame: "result" on a completed search (found or not) or
//	"error" when the request was invalid or the search failed.
type wsFrame struct {
	Type   string                     `json:"type"`
	Event  *engine.Event              `json:"event,omitempty"`
	Result *datatypes.ResolveResponse `json:"result,omitempty"`
	Error  *ErrorResponse             `json:"error,omitempty"`

	// DroppedEvents reports, on the terminal frame, how many progress
	// events were discarded because the client could not keep up.
	DroppedEvents int64 `json:"dropped_events,omitempty"`
}

const (
	wsFrameEvent  = "event"
	wsFrameResult = "result"
	wsFrameError  = "error"
)

// HandleResolveWS handles GET /v1/bridge/resolve/ws.
//
// Description:
//
//	Upgrades the connection, reads one resolve request as JSON, and
//	streams the search's progress events back as they happen, ending
//	with a result or error frame. One request per connection; the
//	connection closes after the terminal frame.
//
//	The search is canceled if the client disconnects mid-stream.
//
// Response Frames:
//
//	{"type":"event", "event":{...}} - Engine progress event
//	{"type":"result", "result":{...}} - Terminal, the resolve response
//	{"type":"error", "error":{...}} - Terminal, request or search failure
//
// Thread Safety: This method is safe for concurrent use; each connection
// gets its own search.
func (h *Handlers) HandleResolveWS(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolveWS")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	var req datatypes.ResolveRequest
	if err := ws.ReadJSON(&req); err != nil {
		logger.Warn("failed to read resolve request", "error", err)
		sendFrame(ws, logger, wsFrame{Type: wsFrameError, Error: &ErrorResponse{
			Error: "expected one resolve request as JSON",
			Code:  "INVALID_REQUEST",
		}})
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		sendFrame(ws, logger, wsFrame{Type: wsFrameError, Error: &ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_FAILED",
		}})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// A second read only ever returns when the client closes or breaks
	// the connection; either way the search should stop.
	go func() {
		if _, _, err := ws.ReadMessage(); err != nil {
			cancel()
		}
	}()

	events := make(chan engine.Event, wsEventBuffer)
	var dropped atomic.Int64
	progress := func(ev engine.Event) {
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	}

	type outcome struct {
		resp datatypes.ResolveResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := h.svc.Resolve(ctx, req, progress)
		close(events)
		done <- outcome{resp: resp, err: err}
	}()

	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		frame := wsFrame{Type: wsFrameEvent, Event: &ev}
		if !sendFrame(ws, logger, frame) {
			// Stop writing and let the monitor goroutine's cancel wind
			// the search down; keep draining so the sender never sees a
			// full channel as anything but droppable.
			clientGone = true
			cancel()
		}
	}

	out := <-done
	if clientGone {
		logger.Info("client disconnected mid-search")
		return
	}

	if out.err != nil {
		code := "RESOLVE_FAILED"
		if errors.Is(out.err, ErrUnknownTargetType) {
			code = "UNKNOWN_TARGET_TYPE"
		}
		sendFrame(ws, logger, wsFrame{
			Type:          wsFrameError,
			Error:         &ErrorResponse{Error: out.err.Error(), Code: code},
			DroppedEvents: dropped.Load(),
		})
		return
	}

	sendFrame(ws, logger, wsFrame{
		Type:          wsFrameResult,
		Result:        &out.resp,
		DroppedEvents: dropped.Load(),
	})

	logger.Info("resolve stream completed",
		slog.String("search_id", out.resp.SearchID),
		slog.String("state", out.resp.State),
		slog.Int64("dropped_events", dropped.Load()),
	)
}

// sendFrame writes one frame with the write timeout applied. Returns false
// when the write fails, which almost always means the client went away.
func sendFrame(ws *websocket.Conn, logger *slog.Logger, frame wsFrame) bool {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.WriteJSON(frame); err != nil {
		logger.Warn("websocket write failed", "type", frame.Type, "error", err)
		return false
	}
	return true
}
