package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// eventsHandler streams job snapshots over a websocket until the job is
// terminal or the client goes away. The final message has type "finished"
// and carries the result.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, unsubscribe, err := s.jobs.Subscribe(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	defer unsubscribe()

	u := upgrader
	u.CheckOrigin = s.checkOrigin
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server.ws.upgrade.failed", "job_id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	logger := s.logger.With("job_id", id, "remote_addr", r.RemoteAddr)
	logger.Debug("server.ws.open")

	// The reader only services control frames; it ends when the client
	// closes the connection.
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("server.ws.read.failed", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-events:
			if !ok {
				closeNormally(conn, logger)
				return
			}
			ev := Event{Type: "progress", Job: snap}
			if snap.State.Terminal() {
				ev.Type = "finished"
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("server.ws.write.failed", "error", err)
				return
			}
			websocketMessagesTotal.Inc()
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			logger.Debug("server.ws.client.closed")
			return
		case <-s.base.Done():
			closeNormally(conn, logger)
			return
		}
	}
}

func closeNormally(conn *websocket.Conn, logger *slog.Logger) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		logger.Debug("server.ws.close.failed", "error", err)
	}
}

// checkOrigin accepts any origin when CORS is open and otherwise requires
// the configured origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
}
