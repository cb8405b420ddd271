package worship

import (
	"context"
	"fmt"
	"time"
)

// RoomInput is the owner-supplied room configuration. Zero values fall back
// to the service defaults.
type RoomInput struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	IsPrivate       bool     `json:"isPrivate"`
	MaxParticipants *int     `json:"maxParticipants"`
	SkipThreshold   *float64 `json:"skipThreshold"`
	AllowDuplicates bool     `json:"allowDuplicates"`
	MaxQueueSize    *int     `json:"maxQueueSize"`
	MaxSongsPerUser *int     `json:"maxSongsPerUser"`
	MinSongSec      int      `json:"minSongSec"`
	MaxSongSec      int      `json:"maxSongSec"`
	EnableWaitlist  *bool    `json:"enableWaitlist"`
}

const (
	defaultSkipThreshold   = 0.5
	defaultMaxQueueSize    = 50
	defaultMaxSongsPerUser = 5
)

// CreateRoom creates a room and seats the owner as its moderator.
func (s *Server) CreateRoom(ctx context.Context, ownerID string, in RoomInput) (*Room, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrBadRequest)
	}
	if in.MaxParticipants != nil && *in.MaxParticipants < 1 {
		return nil, fmt.Errorf("%w: maxParticipants must be positive", ErrBadRequest)
	}
	if in.SkipThreshold != nil && (*in.SkipThreshold <= 0 || *in.SkipThreshold > 1) {
		return nil, fmt.Errorf("%w: skipThreshold must be in (0, 1]", ErrBadRequest)
	}

	room := &Room{
		OwnerID:         ownerID,
		Name:            in.Name,
		Description:     in.Description,
		IsPrivate:       in.IsPrivate,
		IsActive:        true,
		MaxParticipants: in.MaxParticipants,
		SkipThreshold:   defaultSkipThreshold,
		AllowDuplicates: in.AllowDuplicates,
		MaxQueueSize:    defaultMaxQueueSize,
		MaxSongsPerUser: defaultMaxSongsPerUser,
		MinSongSec:      in.MinSongSec,
		MaxSongSec:      in.MaxSongSec,
		EnableWaitlist:  true,
		Playback:        stoppedState(),
	}
	if in.SkipThreshold != nil {
		room.SkipThreshold = *in.SkipThreshold
	}
	if in.MaxQueueSize != nil {
		room.MaxQueueSize = *in.MaxQueueSize
	}
	if in.MaxSongsPerUser != nil {
		room.MaxSongsPerUser = *in.MaxSongsPerUser
	}
	if in.EnableWaitlist != nil {
		room.EnableWaitlist = *in.EnableWaitlist
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}

	owner := &Participant{
		RoomID:          room.ID,
		UserID:          ownerID,
		Role:            RoleModerator,
		JoinedAt:        time.Now().UTC(),
		LastHeartbeatAt: time.Now().UTC(),
	}
	if err := s.store.SaveParticipant(ctx, owner); err != nil {
		return nil, err
	}

	s.gw.Broadcast(ctx, room.ID, EventRoomCreated, map[string]any{
		"roomId": room.ID, "room": room,
	})
	return room, nil
}

// GetRoomInfo returns the room row; the playback block inside it is the
// authoritative state at read time.
func (s *Server) GetRoomInfo(ctx context.Context, roomID, userID string) (*Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRoomRead(ctx, room, userID); err != nil {
		return nil, err
	}
	return room, nil
}

// requireRoomRead gates reads on private rooms: the owner, members
// (waitlisted included) and invited users may look inside, nobody else.
func (s *Server) requireRoomRead(ctx context.Context, room *Room, userID string) error {
	if !room.IsPrivate || userID == room.OwnerID {
		return nil
	}
	if _, err := s.store.GetParticipant(ctx, room.ID, userID); err == nil {
		return nil
	}
	invited, err := s.store.HasInvite(ctx, room.ID, userID)
	if err != nil {
		return err
	}
	if !invited {
		return ErrForbidden
	}
	return nil
}

// ListRooms returns the public, active rooms.
func (s *Server) ListRooms(ctx context.Context) ([]Room, error) {
	return s.store.ListPublicRooms(ctx)
}

// DeleteRoom soft-deletes the room. Owner only. Queue entries, votes and
// participants stay behind the inactive flag and drop with the row.
func (s *Server) DeleteRoom(ctx context.Context, roomID, userID string) error {
	return s.rooms.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if userID != room.OwnerID {
			return ErrForbidden
		}
		if err := s.store.DeactivateRoom(ctx, roomID); err != nil {
			return err
		}
		s.gw.Broadcast(ctx, roomID, EventRoomDeleted, map[string]any{
			"roomId": roomID,
		})
		return nil
	})
}

// History returns the most recent play records, newest first.
func (s *Server) History(ctx context.Context, roomID, userID string, limit int) ([]PlayRecord, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRoomRead(ctx, room, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListHistory(ctx, roomID, limit)
}
