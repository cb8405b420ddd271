package worship

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin is enforced at the gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket subscribes the caller to the room's event stream. The
// connection starts with a sync snapshot so the client can seek immediately;
// after that it receives every broadcast for the room.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	userID := requestUserID(r)

	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.requireRoomRead(r.Context(), room, userID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("worship-service: ws upgrade: %v", err)
		return
	}

	hub := s.rooms.Hub(roomID)
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		srv:    s,
		roomID: roomID,
		userID: userID,
	}
	hub.register <- client

	if snap, err := s.Sync(r.Context(), roomID, userID); err == nil {
		if b, err := json.Marshal(newEnvelope(roomID, EventSyncState, snap)); err == nil {
			client.enqueue(b)
		}
	}

	go client.writePump()
	go client.readPump()
}
