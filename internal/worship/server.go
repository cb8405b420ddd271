package worship

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Config carries the tunables of the room subsystem.
type Config struct {
	// HeartbeatInterval is the expected client heartbeat cadence; a
	// participant is swept after missing three intervals.
	HeartbeatInterval time.Duration
	// StartBuffer is added to broadcast start times so fast and slow clients
	// begin playback together.
	StartBuffer time.Duration
	// IdleGrace is how long a room runtime survives with no subscribers and
	// no commands before teardown.
	IdleGrace time.Duration
	// JWTSecret validates bearer tokens. Empty means the service sits behind
	// the gateway and trusts the X-User-Id header.
	JWTSecret string
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		StartBuffer:       300 * time.Millisecond,
		IdleGrace:         60 * time.Second,
	}
}

// Server wires the store, the per-room workers and the event gateway behind
// the HTTP and websocket surface.
type Server struct {
	store Store
	rooms *RoomManager
	gw    *Gateway
	cfg   Config
}

func NewServer(store Store, rooms *RoomManager, gw *Gateway, cfg Config) *Server {
	return &Server{store: store, rooms: rooms, gw: gw, cfg: cfg}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", s.handleCreateRoom)
			r.Get("/", s.handleListRooms)

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Delete("/", s.handleDeleteRoom)
				r.Get("/history", s.handleHistory)

				r.Post("/invites", s.handleInvite)
				r.Post("/join", s.handleJoin)
				r.Post("/leave", s.handleLeave)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Get("/participants", s.handleParticipants)
				r.Put("/participants/{userID}/role", s.handleSetRole)
				r.Get("/waitlist", s.handleWaitlist)

				r.Post("/queue", s.handleEnqueue)
				r.Get("/queue", s.handleQueue)
				r.Post("/queue/{entryID}/vote", s.handleVote)
				r.Delete("/queue/{entryID}", s.handleRemoveEntry)

				r.Post("/player", s.handleControl)
				r.Get("/player/sync", s.handleSync)
				r.Post("/player/skip-vote", s.handleSkipVote)

				r.Get("/ws", s.handleWebsocket)
			})
		})
	})

	return r
}
