package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser dashboards connect from other origins; auth happens at the
	// gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventStreamHandler pushes broker events to a websocket client. The
// optional topic query parameter narrows the stream; by default the
// client sees both appointment and emergency events.
func eventStreamHandler(broker *events.Broker, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var topics []string
		if t := r.URL.Query().Get("topic"); t != "" {
			if t != events.TopicAppointments && t != events.TopicEmergencies {
				writeError(w, http.StatusBadRequest, "invalid_topic", "topic must be appointments or emergencies")
				return
			}
			topics = []string{t}
		}

		// Subscribe before the handshake completes so no event published
		// right after the client's dial returns is missed.
		ch, cancel := broker.Subscribe(topics...)
		defer cancel()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		// Drain client frames so pong handling and close detection work.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}
