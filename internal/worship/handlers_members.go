package worship

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	p, err := s.Join(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	err := s.Leave(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	err := s.Heartbeat(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role Role `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.SetRole(r.Context(),
		chi.URLParam(r, "roomID"), requestUserID(r), chi.URLParam(r, "userID"), body.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	err := s.Invite(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r), body.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	members, err := s.Participants(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": members})
}

func (s *Server) handleWaitlist(w http.ResponseWriter, r *http.Request) {
	waiting, err := s.Waitlist(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"waitlist": waiting})
}
