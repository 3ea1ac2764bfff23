package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/slighter12/rojo-bridge-go/bridge"
	"github.com/slighter12/rojo-bridge-go/logger"
)

const (
	keepAliveInterval = 15 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func acceptsEventStream(acceptHeader string) bool {
	if strings.TrimSpace(acceptHeader) == "" {
		return true
	}
	for part := range strings.SplitSeq(acceptHeader, ",") {
		mime := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mime, "text/event-stream") || mime == "*/*" {
			return true
		}
	}
	return false
}

// handleEvents streams hub events as SSE until the client goes away.
func (s *Server) handleEvents(c echo.Context) error {
	if !acceptsEventStream(c.Request().Header.Get(echo.HeaderAccept)) {
		return fail(c, http.StatusNotAcceptable, codeBadRequest, "Accept header must include text/event-stream")
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return fail(c, http.StatusInternalServerError, codeInternal, "SSE stream is not available")
	}

	// Subscribe before the headers go out so no event after the handshake is
	// missed.
	events, cancel := s.hub.Subscribe(bridge.DefaultBuffer)
	defer cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := newEventStream(c.Response().Writer, flusher)
	defer stream.Close()
	if err := stream.SendComment("stream opened"); err != nil {
		logger.Warn("Failed to write initial SSE comment", "remote_addr", c.RealIP(), "error", err)
		return nil
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if err := stream.SendComment("keep-alive"); err != nil {
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.Send(ev); err != nil {
				logger.Debug("SSE client went away", "remote_addr", c.RealIP(), "error", err)
				return nil
			}
		}
	}
}

// handleEventsWebSocket sends every hub event as one JSON text message.
// Messages from the client are read and discarded.
func (s *Server) handleEventsWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "remote_addr", c.RealIP(), "error", err)
		return nil
	}
	defer ws.Close()

	events, cancel := s.hub.Subscribe(bridge.DefaultBuffer)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return nil
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				logger.Debug("WebSocket client went away", "remote_addr", c.RealIP(), "error", err)
				return nil
			}
		}
	}
}
