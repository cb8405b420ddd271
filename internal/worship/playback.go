package worship

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type PlaybackStatus string

const (
	StatusStopped PlaybackStatus = "stopped"
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
)

// PlaybackState is the authoritative "now playing" state of a room.
// Invariant: Track is non-nil iff Status != stopped, and StartedAt is
// non-nil iff Status == playing.
type PlaybackState struct {
	Status      PlaybackStatus `json:"status"`
	Track       *Track         `json:"track,omitempty"`
	PositionSec float64        `json:"positionSec"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	// Upvotes is the vote score the current track carried when it left the
	// queue; it ends up in the play history when the track ends.
	Upvotes int `json:"upvotes,omitempty"`
}

func stoppedState() PlaybackState {
	return PlaybackState{Status: StatusStopped}
}

func playingState(track Track, now time.Time) PlaybackState {
	return PlaybackState{
		Status:      StatusPlaying,
		Track:       &track,
		PositionSec: 0,
		StartedAt:   &now,
	}
}

// EffectivePosition derives the live position from the frozen position plus
// wall-clock elapsed time. The server only pushes state changes; every
// client computes "where we should be" from this.
func (s PlaybackState) EffectivePosition(now time.Time) float64 {
	pos := s.PositionSec
	if s.Status == StatusPlaying && s.StartedAt != nil {
		if elapsed := now.Sub(*s.StartedAt); elapsed > 0 {
			pos += elapsed.Seconds()
		}
	}
	if pos < 0 {
		return 0
	}
	return pos
}

type Action string

const (
	ActionPlay   Action = "PLAY"
	ActionPause  Action = "PAUSE"
	ActionResume Action = "RESUME"
	ActionStop   Action = "STOP"
	ActionSkip   Action = "SKIP"
	ActionSeek   Action = "SEEK"
)

// Command is a transient playback command. EntryID targets a waiting queue
// entry for PLAY; Track carries an ad-hoc track instead; SeekSec is the
// offset for SEEK.
type Command struct {
	Action  Action  `json:"action"`
	EntryID string  `json:"entryId,omitempty"`
	Track   *Track  `json:"track,omitempty"`
	SeekSec float64 `json:"seekSec,omitempty"`
}

func parseAction(raw string) (Action, error) {
	switch Action(strings.ToUpper(raw)) {
	case ActionPlay:
		return ActionPlay, nil
	case ActionPause:
		return ActionPause, nil
	case ActionResume:
		return ActionResume, nil
	case ActionStop:
		return ActionStop, nil
	case ActionSkip:
		return ActionSkip, nil
	case ActionSeek:
		return ActionSeek, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrBadRequest, raw)
	}
}

// apply runs a single non-skip transition. PLAY is handled by the caller
// because it consumes a queue entry; SKIP because it needs the queue.
func (s PlaybackState) apply(cmd Command, now time.Time) (PlaybackState, error) {
	switch cmd.Action {
	case ActionPause:
		if s.Status != StatusPlaying {
			return s, fmt.Errorf("%w: pause while %s", ErrInvalidTransition, s.Status)
		}
		s.PositionSec = s.EffectivePosition(now)
		s.Status = StatusPaused
		s.StartedAt = nil
		return s, nil

	case ActionResume:
		if s.Status != StatusPaused {
			return s, fmt.Errorf("%w: resume while %s", ErrInvalidTransition, s.Status)
		}
		s.Status = StatusPlaying
		s.StartedAt = &now
		return s, nil

	case ActionStop:
		if s.Status == StatusStopped {
			return s, fmt.Errorf("%w: stop while stopped", ErrInvalidTransition)
		}
		return stoppedState(), nil

	case ActionSeek:
		if s.Status == StatusStopped {
			return s, fmt.Errorf("%w: seek while stopped", ErrInvalidTransition)
		}
		pos := cmd.SeekSec
		if pos < 0 {
			pos = 0
		}
		s.PositionSec = pos
		if s.Status == StatusPlaying {
			s.StartedAt = &now
		}
		return s, nil

	default:
		return s, fmt.Errorf("%w: action %s", ErrInvalidTransition, cmd.Action)
	}
}

// Control applies a playback command on the room's worker. Only the room
// owner or a participant with a controlling role may issue commands.
func (s *Server) Control(ctx context.Context, roomID, userID string, cmd Command) (*PlaybackState, error) {
	var out PlaybackState
	err := s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if err := s.requireControl(ctx, room, userID); err != nil {
			return err
		}
		now := time.Now().UTC()

		switch cmd.Action {
		case ActionSkip:
			pb, err := s.advance(ctx, room, true)
			if err != nil {
				return err
			}
			out = pb
			return nil

		case ActionPlay:
			if cmd.EntryID != "" {
				var pb PlaybackState
				_, err := s.store.AdvanceTrack(ctx, roomID, cmd.EntryID, func(next *QueueEntry) (PlaybackState, *PlayRecord) {
					pb = playingState(next.Track, now)
					pb.Upvotes = next.VoteScore
					return pb, historyRecord(room, true)
				})
				if err != nil {
					return err
				}
				out = pb
				s.broadcastPlayback(ctx, roomID, pb, true)
				return nil
			}
			if cmd.Track == nil || cmd.Track.VideoID == "" {
				return fmt.Errorf("%w: play requires a track", ErrBadRequest)
			}
			pb := playingState(*cmd.Track, now)
			if err := s.store.RecordTrackChange(ctx, roomID, pb, historyRecord(room, true)); err != nil {
				return err
			}
			out = pb
			s.broadcastPlayback(ctx, roomID, pb, true)
			return nil

		default:
			pb, err := room.Playback.apply(cmd, now)
			if err != nil {
				return err
			}
			if err := s.store.SavePlayback(ctx, roomID, pb); err != nil {
				return err
			}
			out = pb
			s.broadcastPlayback(ctx, roomID, pb, false)
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// advance ends the current track (if any) and starts the top-ranked waiting
// entry, or stops the room when the queue is empty. The consume and the
// state/history write commit together, so a store failure leaves both the
// queue and the playback state untouched. Must run on the room's worker.
func (s *Server) advance(ctx context.Context, room *Room, skipped bool) (PlaybackState, error) {
	var pb PlaybackState
	next, err := s.store.AdvanceTrack(ctx, room.ID, "", func(next *QueueEntry) (PlaybackState, *PlayRecord) {
		if next == nil {
			pb = stoppedState()
		} else {
			pb = playingState(next.Track, time.Now().UTC())
			pb.Upvotes = next.VoteScore
		}
		return pb, historyRecord(room, skipped)
	})
	if err != nil {
		return PlaybackState{}, err
	}
	s.broadcastPlayback(ctx, room.ID, pb, next != nil)
	return pb, nil
}

// historyRecord builds the play-history row for the track being replaced, or
// nil when nothing is playing. Skip-vote and listener counts are filled by
// the store inside the recording transaction.
func historyRecord(room *Room, skipped bool) *PlayRecord {
	if room.Playback.Track == nil {
		return nil
	}
	return &PlayRecord{
		RoomID:     room.ID,
		Track:      *room.Playback.Track,
		WasSkipped: skipped,
		Upvotes:    room.Playback.Upvotes,
		PlayedAt:   time.Now().UTC(),
	}
}

// SkipVote registers a skip vote by an active participant on the current
// track. When skip votes reach the room's threshold of active participants
// the room advances automatically. Votes clear on every track change.
func (s *Server) SkipVote(ctx context.Context, roomID, userID string) (count int, skipped bool, err error) {
	err = s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if err := s.requireActiveParticipant(ctx, roomID, userID); err != nil {
			return err
		}
		if room.Playback.Status == StatusStopped {
			return fmt.Errorf("%w: no track is playing", ErrInvalidTransition)
		}
		if _, err := s.store.AddSkipVote(ctx, roomID, userID); err != nil {
			return err
		}
		count, err = s.store.CountSkipVotes(ctx, roomID)
		if err != nil {
			return err
		}
		active, err := s.store.CountActiveParticipants(ctx, roomID)
		if err != nil {
			return err
		}
		s.gw.Broadcast(ctx, roomID, EventSkipVotes, map[string]any{
			"roomId": roomID, "skipVotes": count, "activeParticipants": active,
		})
		if active > 0 && float64(count)/float64(active) >= room.SkipThreshold {
			if _, err := s.advance(ctx, room, true); err != nil {
				return err
			}
			skipped = true
		}
		return nil
	})
	return count, skipped, err
}

// Sync is the pull-based reconciliation read. It never touches the room
// worker; a consistent row read is enough because transitions are applied
// atomically.
func (s *Server) Sync(ctx context.Context, roomID, userID string) (*SyncSnapshot, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRoomRead(ctx, room, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &SyncSnapshot{
		RoomID:            roomID,
		Status:            room.Playback.Status,
		CurrentTrack:      room.Playback.Track,
		EffectivePosition: room.Playback.EffectivePosition(now),
		PlaybackStartedAt: room.Playback.StartedAt,
		ServerTime:        now,
	}, nil
}

func (s *Server) broadcastPlayback(ctx context.Context, roomID string, pb PlaybackState, starting bool) {
	payload := map[string]any{
		"roomId":      roomID,
		"status":      pb.Status,
		"track":       pb.Track,
		"positionSec": pb.PositionSec,
		"startedAt":   pb.StartedAt,
	}
	if starting {
		// Small future start time so fast and slow clients begin together.
		payload["scheduledStartTime"] = time.Now().UTC().Add(s.cfg.StartBuffer).Format(time.RFC3339Nano)
	}
	s.gw.Broadcast(ctx, roomID, EventPlaybackChanged, payload)
}

func (s *Server) requireControl(ctx context.Context, room *Room, userID string) error {
	if userID == room.OwnerID {
		return nil
	}
	p, err := s.store.GetParticipant(ctx, room.ID, userID)
	if err != nil {
		return ErrForbidden
	}
	if p.Waitlisted || !p.Role.CanControlPlayback() {
		return ErrForbidden
	}
	return nil
}

func (s *Server) requireActiveParticipant(ctx context.Context, roomID, userID string) error {
	p, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if p.Waitlisted {
		return ErrForbidden
	}
	return nil
}
