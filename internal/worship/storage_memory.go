package worship

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store backed by process memory. It backs single-node
// deployments without postgres and the test suite.
type MemoryStore struct {
	mu           sync.Mutex
	rooms        map[string]*Room
	entries      map[string]*QueueEntry
	votes        map[string]map[string]bool // entryID -> userID
	skipVotes    map[string]map[string]bool // roomID -> userID
	participants map[string]map[string]*Participant
	invites      map[string]map[string]bool // roomID -> userID
	history      map[string][]PlayRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]*Room),
		entries:      make(map[string]*QueueEntry),
		votes:        make(map[string]map[string]bool),
		skipVotes:    make(map[string]map[string]bool),
		participants: make(map[string]map[string]*Participant),
		invites:      make(map[string]map[string]bool),
		history:      make(map[string][]PlayRecord),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.IsActive = true
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *MemoryStore) getRoom(roomID string) (*Room, error) {
	r, ok := s.rooms[roomID]
	if !ok || !r.IsActive {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListPublicRooms(ctx context.Context) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Room
	for _, r := range s.rooms {
		if r.IsActive && !r.IsPrivate {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SavePlayback(ctx context.Context, roomID string, pb PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}
	r.Playback = pb
	return nil
}

func (s *MemoryStore) DeactivateRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}
	r.IsActive = false
	return nil
}

func (s *MemoryStore) InsertEntry(ctx context.Context, e *QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *MemoryStore) entryWithScore(e *QueueEntry) QueueEntry {
	cp := *e
	cp.VoteScore = len(s.votes[e.ID])
	return cp
}

func (s *MemoryStore) GetEntry(ctx context.Context, roomID, entryID string) (*QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.RoomID != roomID {
		return nil, ErrEntryNotFound
	}
	cp := s.entryWithScore(e)
	return &cp, nil
}

func (s *MemoryStore) listQueue(roomID string) []QueueEntry {
	var out []QueueEntry
	for _, e := range s.entries {
		if e.RoomID == roomID {
			out = append(out, s.entryWithScore(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

func (s *MemoryStore) ListQueue(ctx context.Context, roomID string) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listQueue(roomID), nil
}

func (s *MemoryStore) deleteEntry(entryID string) {
	delete(s.entries, entryID)
	delete(s.votes, entryID)
}

func (s *MemoryStore) DeleteEntry(ctx context.Context, roomID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.RoomID != roomID {
		return ErrEntryNotFound
	}
	s.deleteEntry(entryID)
	return nil
}

func (s *MemoryStore) CountEntriesBySubmitter(ctx context.Context, roomID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.RoomID == roomID && e.SubmitterID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) TrackQueued(ctx context.Context, roomID, videoID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.RoomID == roomID && e.Track.VideoID == videoID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) AdvanceTrack(ctx context.Context, roomID, entryID string,
	decide func(next *QueueEntry) (PlaybackState, *PlayRecord)) (*QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	var entry *QueueEntry
	if entryID != "" {
		e, ok := s.entries[entryID]
		if !ok || e.RoomID != roomID {
			return nil, ErrEntryNotFound
		}
		cp := s.entryWithScore(e)
		entry = &cp
	} else if ranked := rankEntries(s.listQueue(roomID)); len(ranked) > 0 {
		entry = &ranked[0]
	}

	pb, rec := decide(entry)
	s.recordChange(r, pb, rec)
	if entry != nil {
		s.deleteEntry(entry.ID)
	}
	return entry, nil
}

func (s *MemoryStore) HasVote(ctx context.Context, entryID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votes[entryID][userID], nil
}

func (s *MemoryStore) AddVote(ctx context.Context, entryID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.votes[entryID] == nil {
		s.votes[entryID] = make(map[string]bool)
	}
	s.votes[entryID][userID] = true
	return nil
}

func (s *MemoryStore) RemoveVote(ctx context.Context, entryID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes[entryID], userID)
	return nil
}

func (s *MemoryStore) CountVotes(ctx context.Context, entryID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes[entryID]), nil
}

func (s *MemoryStore) AddSkipVote(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipVotes[roomID] == nil {
		s.skipVotes[roomID] = make(map[string]bool)
	}
	if s.skipVotes[roomID][userID] {
		return false, nil
	}
	s.skipVotes[roomID][userID] = true
	return true, nil
}

func (s *MemoryStore) CountSkipVotes(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.skipVotes[roomID]), nil
}

func (s *MemoryStore) AddInvite(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invites[roomID] == nil {
		s.invites[roomID] = make(map[string]bool)
	}
	s.invites[roomID][userID] = true
	return nil
}

func (s *MemoryStore) HasInvite(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites[roomID][userID], nil
}

func (s *MemoryStore) GetParticipant(ctx context.Context, roomID, userID string) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[roomID][userID]
	if !ok {
		return nil, ErrNotParticipant
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SaveParticipant(ctx context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[p.RoomID] == nil {
		s.participants[p.RoomID] = make(map[string]*Participant)
	}
	cp := *p
	s.participants[p.RoomID][p.UserID] = &cp
	return nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[roomID][userID]; !ok {
		return ErrNotParticipant
	}
	delete(s.participants[roomID], userID)
	return nil
}

func (s *MemoryStore) listParticipants(roomID string, waitlisted bool) []Participant {
	var out []Participant
	for _, p := range s.participants[roomID] {
		if p.Waitlisted == waitlisted {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (s *MemoryStore) ListParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listParticipants(roomID, false), nil
}

func (s *MemoryStore) ListWaitlist(ctx context.Context, roomID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listParticipants(roomID, true), nil
}

func (s *MemoryStore) CountActiveParticipants(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listParticipants(roomID, false)), nil
}

func (s *MemoryStore) TouchHeartbeat(ctx context.Context, roomID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[roomID][userID]
	if !ok {
		return ErrNotParticipant
	}
	p.LastHeartbeatAt = at
	return nil
}

func (s *MemoryStore) ListStaleParticipants(ctx context.Context, olderThan time.Time) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Participant
	for _, byUser := range s.participants {
		for _, p := range byUser {
			if p.LastHeartbeatAt.Before(olderThan) {
				out = append(out, *p)
			}
		}
	}
	return out, nil
}

// recordChange applies the playback update, clears skip votes and appends
// the optional history record under the store lock, filling the record's
// skip-vote and listener counts the way the postgres store does in-tx.
func (s *MemoryStore) recordChange(r *Room, pb PlaybackState, rec *PlayRecord) {
	if rec != nil {
		rec.SkipVotes = len(s.skipVotes[r.ID])
		rec.Listeners = len(s.listParticipants(r.ID, false))
	}
	r.Playback = pb
	delete(s.skipVotes, r.ID)
	if rec != nil {
		cp := *rec
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		s.history[r.ID] = append(s.history[r.ID], cp)
	}
}

func (s *MemoryStore) RecordTrackChange(ctx context.Context, roomID string, pb PlaybackState, rec *PlayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}
	s.recordChange(r, pb, rec)
	return nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, roomID string, limit int) ([]PlayRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.history[roomID]
	out := make([]PlayRecord, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlayedAt.After(out[j].PlayedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListExpiredPlayingRooms(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.rooms {
		pb := r.Playback
		if !r.IsActive || pb.Status != StatusPlaying || pb.StartedAt == nil || pb.Track == nil || pb.Track.DurationSec <= 0 {
			continue
		}
		remaining := float64(pb.Track.DurationSec) - pb.PositionSec
		if pb.StartedAt.Add(time.Duration(remaining * float64(time.Second))).Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
