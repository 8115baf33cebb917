package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"p2pescrow/internal/escrow"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	streamBuffer = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEventStream sends every event after ?after=N, then live events, as
// JSON text frames. A client that falls behind is disconnected with a close
// frame and reconnects with its last seen sequence.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.metrics.streamClients.Inc()
	defer s.metrics.streamClients.Dec()

	events, cancel := s.engine.Events().Subscribe(streamBuffer)
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go readPump(conn, stop)

	cursor := after
	for _, ev := range s.engine.Events().Since(after, 0) {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
		cursor = ev.Seq
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber fell behind"))
				return
			}
			if ev.Seq <= cursor {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			cursor = ev.Seq
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev escrow.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

// readPump consumes control frames and reports when the peer goes away.
func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
