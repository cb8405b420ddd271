package worship

import (
	"context"
	"errors"
	"log"
	"time"
)

// StartSweeper runs the periodic maintenance loops until ctx is cancelled:
// heartbeat expiry, auto-advance of finished tracks and idle-runtime
// teardown.
func (s *Server) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepHeartbeats(ctx)
			s.AdvanceFinished(ctx)
			s.rooms.SweepIdle(time.Now())
		}
	}
}

// AdvanceFinished moves every room whose current track has played out to its
// next queue entry, as if a skip-free track end had been reported.
func (s *Server) AdvanceFinished(ctx context.Context) {
	now := time.Now().UTC()
	ids, err := s.store.ListExpiredPlayingRooms(ctx, now)
	if err != nil {
		log.Printf("worship-service: advance sweep list: %v", err)
		return
	}
	for _, roomID := range ids {
		roomID := roomID
		err := s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
			room, err := s.store.GetRoom(ctx, roomID)
			if err != nil {
				if errors.Is(err, ErrRoomNotFound) {
					return nil
				}
				return err
			}
			// Re-check on the worker: a pause, seek or skip may have won.
			pb := room.Playback
			if pb.Status != StatusPlaying || pb.Track == nil || pb.Track.DurationSec <= 0 {
				return nil
			}
			if pb.EffectivePosition(now) < float64(pb.Track.DurationSec) {
				return nil
			}
			_, err = s.advance(ctx, room, false)
			return err
		})
		if err != nil {
			log.Printf("worship-service: advance sweep %s: %v", roomID, err)
		}
	}
}
