package api

import (
	"net/http"
	"time"

	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents streams line state changes over a websocket. The current
// line snapshot is sent first.
func (h *Handlers) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan call.Event, eventBuffer)
	unsubscribe := h.opts.Pool.Subscribe(func(ev call.Event) {
		select {
		case events <- ev:
		default:
			logger.Debug("event subscriber behind, dropping", zap.Int("line", ev.Line))
		}
	})
	defer unsubscribe()

	// the read side only watches for close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	now := time.Now()
	for _, line := range h.opts.Pool.Lines() {
		snapshot := call.Event{
			Line:      line.Line,
			Name:      line.Name,
			State:     line.State,
			CallID:    line.CallID,
			Number:    line.Number,
			Direction: line.Direction,
			Time:      now,
		}
		if err := writeJSON(conn, snapshot); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-h.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			return
		case ev := <-events:
			if err := writeJSON(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
