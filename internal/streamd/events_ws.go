package streamd

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsQueueDepth   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already ran; dashboards connect cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsWS pushes the organization's event topic over a
// WebSocket. One bus subscription per client; disconnect tears it down
// promptly.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid org")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}
	defer conn.Close()

	// Bounded relay queue between the bus callback and the writer; a
	// client too slow for its own event stream loses messages rather
	// than blocking the subscription.
	queue := make(chan []byte, wsQueueDepth)
	sub, err := s.Bus.SubscribeEvents(orgID.String(), func(payload []byte) {
		select {
		case queue <- payload:
		default:
			log.Printf("[Streamd] [DEBUG] event dropped for slow ws client (org %s)", orgID)
		}
	})
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event bus unavailable"),
			time.Now().Add(wsWriteTimeout))
		return
	}
	defer sub.Unsubscribe()

	// Reader goroutine: only there to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	log.Printf("[Streamd] ws client connected (org %s)", orgID)
	for {
		select {
		case payload := <-queue:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
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
