package worship

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var track Track
	if err := decodeJSON(r, &track); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.Enqueue(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r), track)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.RankedQueue(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	score, voted, err := s.Vote(r.Context(),
		chi.URLParam(r, "roomID"), chi.URLParam(r, "entryID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voteScore": score, "voted": voted})
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	err := s.RemoveEntry(r.Context(),
		chi.URLParam(r, "roomID"), chi.URLParam(r, "entryID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
