package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWebSocket streams workflow events for one topic over a WebSocket
// connection. The topic query parameter selects the stream: "run:<id>" for
// a single run, "agent:<id>" for an agent's runs and workspace changes.
// The subscriber first receives the topic's replayed history, then live
// events in publish order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" || (!strings.HasPrefix(topic, "run:") && !strings.HasPrefix(topic, "agent:")) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "topic must be run:<id> or agent:<id>",
		})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(topic)
	defer sub.Close()

	s.log.Debug().Str("topic", topic).Str("remote", r.RemoteAddr).Msg("event stream opened")

	// Drain client frames so close handshakes and pongs are processed;
	// inbound content is ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				// Topic dropped, e.g. the agent was deleted.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "topic closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Str("topic", topic).Msg("event stream write failed")
				return
			}
		}
	}
}
