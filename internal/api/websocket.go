package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"skyvault/internal/feed"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleFeed streams stored auctions to the client as they land. With
// ?tag= only that item's events are sent, otherwise everything.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed not configured")
		return
	}

	tag := r.URL.Query().Get("tag")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[api] websocket upgrade:", err)
		return
	}

	events := make(chan feed.Event, 64)
	s.deps.Feed.Subscribe(tag, events)

	done := make(chan struct{})
	go func() {
		defer conn.Close()
		for {
			select {
			case ev := <-events:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-done:
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		}
	}()

	// Reader loop only notices the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.deps.Feed.Unsubscribe(tag, events)
	close(done)
}
