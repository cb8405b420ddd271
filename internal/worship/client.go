package worship

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket subscriber of a room's hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	srv    *Server
	roomID string
	userID string

	mu     sync.Mutex
	closed bool
}

// enqueue hands a message to the write pump without blocking. It reports
// false when the client is closed or its buffer is full; the mutex keeps
// every writer serialized against close, so a late reply can never hit a
// closed channel.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// inboundMessage is the small command surface carried on the socket itself:
// heartbeats and sync requests. Everything else goes over HTTP.
type inboundMessage struct {
	Type string `json:"type"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.forget(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("worship-service: ws read: %v", err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.handleInbound(msg)
	}
}

func (c *Client) handleInbound(msg inboundMessage) {
	ctx := context.Background()
	switch msg.Type {
	case "heartbeat":
		if err := c.srv.Heartbeat(ctx, c.roomID, c.userID); err != nil {
			log.Printf("worship-service: ws heartbeat: %v", err)
		}
	case "sync":
		snap, err := c.srv.Sync(ctx, c.roomID, c.userID)
		if err != nil {
			log.Printf("worship-service: ws sync: %v", err)
			return
		}
		// Sync replies go to the requesting client only, not the room.
		if b, err := json.Marshal(newEnvelope(c.roomID, EventSyncState, snap)); err == nil {
			c.enqueue(b)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
