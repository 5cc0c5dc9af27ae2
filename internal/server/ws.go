package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/roomguard/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const writeWait = 5 * time.Second

// EventSource publishes session updates.
type EventSource interface {
	Subscribe() (<-chan session.Update, func())
	SessionStatus() session.Status
}

// Event is one message on the /api/events socket. The first message on a
// connection is always a status snapshot.
type Event struct {
	Type      string          `json:"type"`
	Status    *session.Status `json:"status,omitempty"`
	Update    *session.Update `json:"update,omitempty"`
	Fault     string          `json:"fault,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// EventsHandler streams session updates to WebSocket clients.
type EventsHandler struct {
	source EventSource
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	// Reads only to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := h.source.SessionStatus()
	if err := h.send(conn, Event{Type: "status", Status: &st}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			ev := Event{Type: "update", Update: &u}
			if u.Fault != nil {
				ev.Fault = u.Fault.Error()
			}
			if err := h.send(conn, ev); err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) send(conn *websocket.Conn, ev Event) error {
	ev.Timestamp = time.Now().UnixMilli()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
