package worship

import (
	"sync/atomic"
)

// Hub owns the set of websocket subscribers for one room and fans events out
// to all of them. Delivery is best-effort: a subscriber whose send buffer is
// full is dropped and is expected to reconnect and sync.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}

	subscribers atomic.Int32
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.subscribers.Store(int32(len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				// Slow client: never let it stall the room.
				if !client.enqueue(message) {
					h.drop(client)
				}
			}

		case <-h.stop:
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.close()
	if client.conn != nil {
		_ = client.conn.Close()
	}
	h.subscribers.Store(int32(len(h.clients)))
}

// forget asks the hub to release the client, giving up when the hub itself
// is already gone.
func (h *Hub) forget(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Send queues a message for fanout without blocking the caller beyond the
// hub's own buffer.
func (h *Hub) Send(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.stop:
	}
}

func (h *Hub) Subscribers() int {
	return int(h.subscribers.Load())
}

func (h *Hub) Close() {
	close(h.stop)
}
