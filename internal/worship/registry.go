package worship

import (
	"context"
	"sync"
	"time"
)

// RoomManager is the registry of active rooms. Each active room owns one
// worker goroutine and one broadcast hub; every mutation of a room's state
// goes through its worker, so no two transitions for the same room are ever
// applied concurrently, while different rooms proceed fully in parallel.
type RoomManager struct {
	mu        sync.Mutex
	active    map[string]*roomRuntime
	idleGrace time.Duration
}

type roomRuntime struct {
	cmds     chan roomCmd
	stop     chan struct{}
	hub      *Hub
	pending  int       // commands enqueued or running, guarded by RoomManager.mu
	lastUsed time.Time // guarded by RoomManager.mu
}

type roomCmd struct {
	fn   func()
	done chan struct{}
}

func NewRoomManager(idleGrace time.Duration) *RoomManager {
	return &RoomManager{
		active:    make(map[string]*roomRuntime),
		idleGrace: idleGrace,
	}
}

func (m *RoomManager) runtime(roomID string) *roomRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.active[roomID]
	if !ok {
		rt = &roomRuntime{
			cmds: make(chan roomCmd, 64),
			stop: make(chan struct{}),
			hub:  NewHub(),
		}
		m.active[roomID] = rt
		go rt.run()
		go rt.hub.Run()
	}
	rt.lastUsed = time.Now()
	return rt
}

func (rt *roomRuntime) run() {
	for {
		select {
		case cmd := <-rt.cmds:
			cmd.fn()
			close(cmd.done)
		case <-rt.stop:
			return
		}
	}
}

// Do executes fn on the room's worker and waits for it. Once a command is
// accepted it runs to completion even if the issuer disconnects; ctx only
// bounds admission, not execution.
func (m *RoomManager) Do(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rt := m.runtime(roomID)

	m.mu.Lock()
	rt.pending++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		rt.pending--
		rt.lastUsed = time.Now()
		m.mu.Unlock()
	}()

	var err error
	cmd := roomCmd{done: make(chan struct{})}
	cmd.fn = func() {
		err = fn(context.WithoutCancel(ctx))
	}

	select {
	case rt.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-cmd.done
	return err
}

// Hub returns the room's broadcast hub, creating the runtime on first use.
func (m *RoomManager) Hub(roomID string) *Hub {
	return m.runtime(roomID).hub
}

// Deliver fans an encoded event out to the room's local subscribers. Rooms
// with no runtime have no subscribers on this instance; the event is
// dropped and clients recover via sync.
func (m *RoomManager) Deliver(roomID string, msg []byte) {
	m.mu.Lock()
	rt, ok := m.active[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}
	rt.hub.Send(msg)
}

// SweepIdle tears down runtimes that have had no subscribers and no commands
// for longer than the grace period.
func (m *RoomManager) SweepIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rt := range m.active {
		if rt.pending > 0 || rt.hub.Subscribers() > 0 {
			continue
		}
		if now.Sub(rt.lastUsed) < m.idleGrace {
			continue
		}
		close(rt.stop)
		rt.hub.Close()
		delete(m.active, id)
	}
}

// ActiveRooms reports how many rooms currently have a live runtime.
func (m *RoomManager) ActiveRooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
