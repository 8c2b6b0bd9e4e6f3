package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/autoreply/internal/bus"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	eventQueueSize = 64
)

// handleEvents handles GET /api/events - a websocket carrying every bus
// event as JSON. Slow observers lose events rather than block publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("http: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan bus.Event, eventQueueSize)
	subID := s.deps.Bus.Subscribe("*", func(ev bus.Event) {
		select {
		case queue <- ev:
		default:
			L_warn("http: observer too slow, dropping event", "topic", ev.Topic)
		}
	})
	defer s.deps.Bus.Unsubscribe(subID)

	L_info("http: observer connected", "remote", getClientIP(r))

	// first frame is the current status so observers need not poll
	initial := bus.Event{
		Topic:     bus.TopicConnectionStatus,
		Data:      s.deps.Status.Snapshot(),
		Timestamp: time.Now(),
		Source:    "http",
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	// reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					L_debug("http: observer read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			L_info("http: observer disconnected", "remote", getClientIP(r))
			return
		case <-r.Context().Done():
			return
		case ev := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				L_debug("http: observer write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
