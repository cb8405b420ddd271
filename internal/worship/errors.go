package worship

import (
	"errors"
	"net/http"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrNotParticipant    = errors.New("not a participant in this room")
	ErrForbidden         = errors.New("insufficient permissions")
	ErrRoomFull          = errors.New("room is full")
	ErrInvalidTransition = errors.New("invalid playback transition")
	ErrDuplicateTrack    = errors.New("track already in queue")
	ErrQueueFull         = errors.New("queue is full")
	ErrSongLimit         = errors.New("per-user song limit reached")
	ErrBadDuration       = errors.New("song duration outside allowed range")
	ErrBadRequest        = errors.New("invalid request")
)

// statusForError maps the domain taxonomy onto HTTP statuses. Validation
// errors are returned to the issuing client only and never broadcast.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrNotParticipant):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRoomFull),
		errors.Is(err, ErrDuplicateTrack),
		errors.Is(err, ErrQueueFull),
		errors.Is(err, ErrSongLimit):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrBadDuration),
		errors.Is(err, ErrBadRequest):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
