package worship

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// rankEntries orders queue entries by (voteScore DESC, addedAt ASC). The
// addedAt tie-break keeps the order deterministic and starvation-free:
// equally-voted entries play in submission order.
func rankEntries(entries []QueueEntry) []QueueEntry {
	ranked := make([]QueueEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].VoteScore != ranked[j].VoteScore {
			return ranked[i].VoteScore > ranked[j].VoteScore
		}
		return ranked[i].AddedAt.Before(ranked[j].AddedAt)
	})
	return ranked
}

// Enqueue appends a track to the room's queue after the room's policy
// checks. The new entry starts with a zero vote score.
func (s *Server) Enqueue(ctx context.Context, roomID, userID string, track Track) (*QueueEntry, error) {
	if track.VideoID == "" || track.Title == "" {
		return nil, fmt.Errorf("%w: track id and title are required", ErrBadRequest)
	}
	var entry *QueueEntry
	err := s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if err := s.requireActiveParticipant(ctx, roomID, userID); err != nil {
			return err
		}
		if room.MinSongSec > 0 && track.DurationSec > 0 && track.DurationSec < room.MinSongSec {
			return ErrBadDuration
		}
		if room.MaxSongSec > 0 && track.DurationSec > room.MaxSongSec {
			return ErrBadDuration
		}
		if !room.AllowDuplicates {
			queued, err := s.store.TrackQueued(ctx, roomID, track.VideoID)
			if err != nil {
				return err
			}
			if queued {
				return ErrDuplicateTrack
			}
		}
		queue, err := s.store.ListQueue(ctx, roomID)
		if err != nil {
			return err
		}
		if room.MaxQueueSize > 0 && len(queue) >= room.MaxQueueSize {
			return ErrQueueFull
		}
		if room.MaxSongsPerUser > 0 {
			mine, err := s.store.CountEntriesBySubmitter(ctx, roomID, userID)
			if err != nil {
				return err
			}
			if mine >= room.MaxSongsPerUser {
				return ErrSongLimit
			}
		}

		entry = &QueueEntry{
			RoomID:      roomID,
			SubmitterID: userID,
			Track:       track,
			AddedAt:     time.Now().UTC(),
		}
		if err := s.store.InsertEntry(ctx, entry); err != nil {
			return err
		}
		s.gw.Broadcast(ctx, roomID, EventTrackAdded, map[string]any{
			"roomId": roomID, "entry": entry,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Vote toggles the voter's vote on an entry and returns the new score.
// An entry already consumed by a concurrent skip surfaces as
// ErrEntryNotFound; that race is expected and harmless.
func (s *Server) Vote(ctx context.Context, roomID, entryID, userID string) (score int, voted bool, err error) {
	err = s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		if err := s.requireActiveParticipant(ctx, roomID, userID); err != nil {
			return err
		}
		if _, err := s.store.GetEntry(ctx, roomID, entryID); err != nil {
			return err
		}
		has, err := s.store.HasVote(ctx, entryID, userID)
		if err != nil {
			return err
		}
		if has {
			err = s.store.RemoveVote(ctx, entryID, userID)
		} else {
			err = s.store.AddVote(ctx, entryID, userID)
		}
		if err != nil {
			return err
		}
		voted = !has
		score, err = s.store.CountVotes(ctx, entryID)
		if err != nil {
			return err
		}
		s.gw.Broadcast(ctx, roomID, EventVoteChanged, map[string]any{
			"roomId": roomID, "entryId": entryID, "voteScore": score,
		})
		s.gw.Broadcast(ctx, roomID, EventQueueReordered, map[string]any{
			"roomId": roomID,
		})
		return nil
	})
	return score, voted, err
}

// RemoveEntry deletes a waiting entry. Only the submitter or the room owner
// may remove it; the current track is not in the queue and cannot be
// removed this way.
func (s *Server) RemoveEntry(ctx context.Context, roomID, entryID, userID string) error {
	return s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		entry, err := s.store.GetEntry(ctx, roomID, entryID)
		if err != nil {
			return err
		}
		if userID != entry.SubmitterID && userID != room.OwnerID {
			return ErrForbidden
		}
		if err := s.store.DeleteEntry(ctx, roomID, entryID); err != nil {
			return err
		}
		s.gw.Broadcast(ctx, roomID, EventTrackRemoved, map[string]any{
			"roomId": roomID, "entryId": entryID,
		})
		return nil
	})
}

// RankedQueue is the read-only query surface: it does not pass through the
// room worker and is eventually consistent with the latest transition.
func (s *Server) RankedQueue(ctx context.Context, roomID, userID string) ([]QueueEntry, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRoomRead(ctx, room, userID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListQueue(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rankEntries(entries), nil
}
