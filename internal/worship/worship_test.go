package worship

import (
	"context"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	rooms := NewRoomManager(time.Minute)
	gw := NewGateway(rooms, nil)
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 100 * time.Millisecond
	return NewServer(store, rooms, gw, cfg), store
}

func mustCreateRoom(t *testing.T, s *Server, ownerID string, in RoomInput) *Room {
	t.Helper()
	if in.Name == "" {
		in.Name = "Evening Worship"
	}
	room, err := s.CreateRoom(context.Background(), ownerID, in)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func mustJoin(t *testing.T, s *Server, roomID, userID string) *Participant {
	t.Helper()
	p, err := s.Join(context.Background(), roomID, userID)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return p
}

func mustEnqueue(t *testing.T, s *Server, roomID, userID string, track Track) *QueueEntry {
	t.Helper()
	entry, err := s.Enqueue(context.Background(), roomID, userID, track)
	if err != nil {
		t.Fatalf("enqueue %s: %v", track.VideoID, err)
	}
	return entry
}

func intPtr(n int) *int { return &n }
