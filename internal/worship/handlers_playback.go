package worship

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type controlRequest struct {
	Action  string  `json:"action"`
	EntryID string  `json:"entryId"`
	Track   *Track  `json:"track"`
	SeekSec float64 `json:"seekSec"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	action, err := parseAction(req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	pb, err := s.Control(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r), Command{
		Action:  action,
		EntryID: req.EntryID,
		Track:   req.Track,
		SeekSec: req.SeekSec,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Sync(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSkipVote(w http.ResponseWriter, r *http.Request) {
	count, skipped, err := s.SkipVote(r.Context(), chi.URLParam(r, "roomID"), requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skipVotes": count, "skipped": skipped})
}
