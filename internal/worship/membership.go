package worship

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Join admits the user as an active participant, or waitlists them when the
// room is at capacity. Re-joining is a no-op apart from a heartbeat touch.
func (s *Server) Join(ctx context.Context, roomID, userID string) (*Participant, error) {
	var out *Participant
	err := s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		existing, err := s.store.GetParticipant(ctx, roomID, userID)
		if err == nil {
			if err := s.store.TouchHeartbeat(ctx, roomID, userID, now); err != nil {
				return err
			}
			existing.LastHeartbeatAt = now
			out = existing
			return nil
		}
		if !errors.Is(err, ErrNotParticipant) {
			return err
		}

		if room.IsPrivate && userID != room.OwnerID {
			invited, err := s.store.HasInvite(ctx, roomID, userID)
			if err != nil {
				return err
			}
			if !invited {
				return ErrForbidden
			}
		}

		p := &Participant{
			RoomID:          roomID,
			UserID:          userID,
			Role:            RoleListener,
			JoinedAt:        now,
			LastHeartbeatAt: now,
		}
		if userID == room.OwnerID {
			p.Role = RoleModerator
		}

		if room.MaxParticipants != nil {
			active, err := s.store.CountActiveParticipants(ctx, roomID)
			if err != nil {
				return err
			}
			if active >= *room.MaxParticipants {
				if !room.EnableWaitlist {
					return ErrRoomFull
				}
				p.Waitlisted = true
			}
		}
		if err := s.store.SaveParticipant(ctx, p); err != nil {
			return err
		}
		out = p

		event := EventParticipantJoined
		if p.Waitlisted {
			event = EventParticipantWaitlisted
		}
		s.gw.Broadcast(ctx, roomID, event, map[string]any{
			"roomId": roomID, "participant": p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Leave removes the participant. Leaving an active slot promotes the
// longest-waiting waitlisted participant, if any.
func (s *Server) Leave(ctx context.Context, roomID, userID string) error {
	return s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		return s.removeParticipant(ctx, roomID, userID, "left")
	})
}

// removeParticipant is shared by Leave and the heartbeat sweep so both go
// through identical promotion logic. Must run on the room's worker.
func (s *Server) removeParticipant(ctx context.Context, roomID, userID, reason string) error {
	p, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveParticipant(ctx, roomID, userID); err != nil {
		return err
	}
	s.gw.Broadcast(ctx, roomID, EventParticipantLeft, map[string]any{
		"roomId": roomID, "userId": userID, "reason": reason,
	})
	if p.Waitlisted {
		return nil
	}
	return s.promoteNext(ctx, roomID)
}

// promoteNext admits the FIFO head of the waitlist to the freed active slot.
func (s *Server) promoteNext(ctx context.Context, roomID string) error {
	waitlist, err := s.store.ListWaitlist(ctx, roomID)
	if err != nil || len(waitlist) == 0 {
		return err
	}
	next := waitlist[0]
	next.Waitlisted = false
	if err := s.store.SaveParticipant(ctx, &next); err != nil {
		return err
	}
	s.gw.Broadcast(ctx, roomID, EventParticipantPromoted, map[string]any{
		"roomId": roomID, "participant": next,
	})
	return nil
}

// SetRole assigns a role to an active participant. Only the room owner may
// change roles, and the owner's own moderator seat is fixed.
func (s *Server) SetRole(ctx context.Context, roomID, userID, targetID string, role Role) (*Participant, error) {
	switch role {
	case RoleListener, RoleDJ, RoleLeader, RoleModerator:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrBadRequest, role)
	}
	var out *Participant
	err := s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if userID != room.OwnerID || targetID == room.OwnerID {
			return ErrForbidden
		}
		p, err := s.store.GetParticipant(ctx, roomID, targetID)
		if err != nil {
			return err
		}
		if p.Waitlisted {
			return ErrForbidden
		}
		p.Role = role
		if err := s.store.SaveParticipant(ctx, p); err != nil {
			return err
		}
		out = p
		s.gw.Broadcast(ctx, roomID, EventParticipantRole, map[string]any{
			"roomId": roomID, "participant": p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Invite puts a user on a private room's allow-list. Owner only; inviting
// into a public room is a no-op beyond the event.
func (s *Server) Invite(ctx context.Context, roomID, userID, targetID string) error {
	if targetID == "" {
		return fmt.Errorf("%w: userId is required", ErrBadRequest)
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if userID != room.OwnerID {
		return ErrForbidden
	}
	if err := s.store.AddInvite(ctx, roomID, targetID); err != nil {
		return err
	}
	s.gw.Broadcast(ctx, roomID, EventParticipantInvited, map[string]any{
		"roomId": roomID, "userId": targetID,
	})
	return nil
}

// Heartbeat refreshes the participant's liveness window and announces
// presence to the room.
func (s *Server) Heartbeat(ctx context.Context, roomID, userID string) error {
	return s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		now := time.Now().UTC()
		if err := s.store.TouchHeartbeat(ctx, roomID, userID, now); err != nil {
			return err
		}
		s.gw.Broadcast(ctx, roomID, EventPresence, map[string]any{
			"roomId": roomID, "userId": userID, "lastHeartbeatAt": now,
		})
		return nil
	})
}

// SweepHeartbeats removes participants whose heartbeat is older than the
// liveness window (3x the heartbeat interval). Removal runs on each room's
// worker so a sweep can never race a manual leave.
func (s *Server) SweepHeartbeats(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-3 * s.cfg.HeartbeatInterval)
	stale, err := s.store.ListStaleParticipants(ctx, cutoff)
	if err != nil {
		log.Printf("worship-service: heartbeat sweep list: %v", err)
		return
	}
	for _, p := range stale {
		p := p
		err := s.rooms.Do(ctx, p.RoomID, func(ctx context.Context) error {
			// Re-check on the worker: a heartbeat or leave may have won.
			cur, err := s.store.GetParticipant(ctx, p.RoomID, p.UserID)
			if err != nil {
				if errors.Is(err, ErrNotParticipant) {
					return nil
				}
				return err
			}
			if !cur.LastHeartbeatAt.Before(cutoff) {
				return nil
			}
			return s.removeParticipant(ctx, p.RoomID, p.UserID, "timeout")
		})
		if err != nil {
			log.Printf("worship-service: heartbeat sweep %s/%s: %v", p.RoomID, p.UserID, err)
		}
	}
}

// Participants returns the active members ordered by join time.
func (s *Server) Participants(ctx context.Context, roomID, userID string) ([]Participant, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRoomRead(ctx, room, userID); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, roomID)
}

// Waitlist returns the waitlisted members in promotion order.
func (s *Server) Waitlist(ctx context.Context, roomID, userID string) ([]Participant, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRoomRead(ctx, room, userID); err != nil {
		return nil, err
	}
	return s.store.ListWaitlist(ctx, roomID)
}
