package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/browser"
	"github.com/hyperifyio/cfsource/internal/channel"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// tabEvent is the wire form of browser.TabEvent on /events.
type tabEvent struct {
	TabID  string    `json:"tabId"`
	Status string    `json:"status"`
	URL    string    `json:"url"`
	At     time.Time `json:"at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API is already served with a wildcard CORS policy
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams tab lifecycle events to a WebSocket client until it
// disconnects. A slow client loses events rather than stalling the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not configured", nil)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	out := make(chan tabEvent, eventBuffer)
	sub, err := s.deps.Events.Subscribe(func(ev browser.TabEvent) {
		select {
		case out <- tabEvent{TabID: string(ev.TabID), Status: string(ev.Status), URL: ev.URL, At: time.Now().UTC()}:
		default:
			eventsDropped.Inc()
		}
	})
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	// reads only detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// EventSource is satisfied by *channel.Bus[browser.TabEvent].
type EventSource interface {
	Subscribe(h channel.Handler[browser.TabEvent]) (channel.Subscription, error)
}
