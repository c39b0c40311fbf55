package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	monitoringapp "cosafe/internal/monitoring/application"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StateSource exposes controller snapshots and event subscriptions.
type StateSource interface {
	State() monitoringapp.State
	Subscribe() (<-chan monitoringapp.Event, func())
}

type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketHandler streams controller events to browser clients.
type WebSocketHandler struct {
	source StateSource
	logger *log.Logger
}

// NewWebSocketHandler constructs a websocket handler.
func NewWebSocketHandler(source StateSource, logger *log.Logger) *WebSocketHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &WebSocketHandler{source: source, logger: logger}
}

// ServeHTTP handles GET /api/v1/stream.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.source == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade error: %v", err)
		return
	}
	events, cancel := h.source.Subscribe()
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, events, done)
	cancel()
}

// readPump drains client frames so pongs and close frames are processed.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Printf("websocket read error: %v", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, events <-chan monitoringapp.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	if err := h.write(conn, wsMessage{Type: "state", Payload: h.source.State()}); err != nil {
		return
	}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := h.write(conn, wsMessage{Type: evt.EventType(), Payload: evt}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg wsMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("websocket marshal error: %v", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Printf("websocket write error: %v", err)
		return err
	}
	return nil
}
