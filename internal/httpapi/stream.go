package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/raffle/internal/engine/events"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEventStream pushes live events to a websocket client. The optional
// "type" query parameter is a comma separated list of event types. Events are
// dropped for a client that cannot keep up.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	var filter events.EventFilter
	if raw := r.URL.Query().Get("type"); raw != "" {
		var types []events.EventType
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
		filter = events.OfType(types...)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	feed := make(chan events.Event, streamBuffer)
	unsubscribe := s.deps.Events.SubscribeFiltered(filter, func(e events.Event) {
		select {
		case feed <- e:
		default:
			s.log.WithField("event_type", string(e.Type)).Warn("event stream client lagging, dropping event")
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	log := s.log.WithField("remote", r.RemoteAddr)
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
