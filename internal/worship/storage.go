package worship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the persistence boundary of the room subsystem. Callers rely on
// the per-room worker for ordering; the store only has to apply each call
// atomically.
type Store interface {
	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListPublicRooms(ctx context.Context) ([]Room, error)
	SavePlayback(ctx context.Context, roomID string, pb PlaybackState) error
	DeactivateRoom(ctx context.Context, roomID string) error

	InsertEntry(ctx context.Context, e *QueueEntry) error
	GetEntry(ctx context.Context, roomID, entryID string) (*QueueEntry, error)
	ListQueue(ctx context.Context, roomID string) ([]QueueEntry, error)
	DeleteEntry(ctx context.Context, roomID, entryID string) error
	CountEntriesBySubmitter(ctx context.Context, roomID, userID string) (int, error)
	TrackQueued(ctx context.Context, roomID, videoID string) (bool, error)
	// AdvanceTrack removes the next entry and records the track change in
	// one transaction, so a failure leaves both the queue and the playback
	// state as they were. With an empty entryID it takes the top-ranked
	// entry (nil when the queue is empty); otherwise it takes the named
	// entry or fails with ErrEntryNotFound. decide receives the consumed
	// entry and returns the new playback state plus the optional history
	// record for the outgoing track; the store fills the record's skip-vote
	// and listener counts before committing.
	AdvanceTrack(ctx context.Context, roomID, entryID string,
		decide func(next *QueueEntry) (PlaybackState, *PlayRecord)) (*QueueEntry, error)

	HasVote(ctx context.Context, entryID, userID string) (bool, error)
	AddVote(ctx context.Context, entryID, userID string) error
	RemoveVote(ctx context.Context, entryID, userID string) error
	CountVotes(ctx context.Context, entryID string) (int, error)

	AddSkipVote(ctx context.Context, roomID, userID string) (bool, error)
	CountSkipVotes(ctx context.Context, roomID string) (int, error)

	GetParticipant(ctx context.Context, roomID, userID string) (*Participant, error)
	SaveParticipant(ctx context.Context, p *Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	ListParticipants(ctx context.Context, roomID string) ([]Participant, error)
	ListWaitlist(ctx context.Context, roomID string) ([]Participant, error)
	CountActiveParticipants(ctx context.Context, roomID string) (int, error)
	TouchHeartbeat(ctx context.Context, roomID, userID string, at time.Time) error
	ListStaleParticipants(ctx context.Context, olderThan time.Time) ([]Participant, error)

	AddInvite(ctx context.Context, roomID, userID string) error
	HasInvite(ctx context.Context, roomID, userID string) (bool, error)

	// RecordTrackChange persists the new playback state, clears skip votes
	// and appends the optional history record in one transaction.
	RecordTrackChange(ctx context.Context, roomID string, pb PlaybackState, rec *PlayRecord) error
	ListHistory(ctx context.Context, roomID string, limit int) ([]PlayRecord, error)
	// ListExpiredPlayingRooms returns rooms whose current track has outrun
	// its duration, for auto-advance.
	ListExpiredPlayingRooms(ctx context.Context, now time.Time) ([]string, error)
}

// DB is the subset of pgxpool.Pool the postgres store needs; pgxmock
// satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func AutoMigrate(ctx context.Context, db DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS worship_rooms (
			id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_id      TEXT NOT NULL,
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			is_private    BOOLEAN NOT NULL DEFAULT FALSE,
			is_active     BOOLEAN NOT NULL DEFAULT TRUE,
			max_participants   INT,
			skip_threshold     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			allow_duplicates   BOOLEAN NOT NULL DEFAULT FALSE,
			max_queue_size     INT NOT NULL DEFAULT 50,
			max_songs_per_user INT NOT NULL DEFAULT 5,
			min_song_sec       INT NOT NULL DEFAULT 0,
			max_song_sec       INT NOT NULL DEFAULT 0,
			enable_waitlist    BOOLEAN NOT NULL DEFAULT TRUE,
			playback_status    TEXT NOT NULL DEFAULT 'stopped',
			current_video_id        TEXT,
			current_video_title     TEXT NOT NULL DEFAULT '',
			current_video_thumbnail TEXT NOT NULL DEFAULT '',
			current_video_duration  INT NOT NULL DEFAULT 0,
			playback_position  DOUBLE PRECISION NOT NULL DEFAULT 0,
			playback_started_at TIMESTAMPTZ,
			current_track_upvotes INT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS worship_queue_entries (
			id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			room_id       uuid NOT NULL REFERENCES worship_rooms(id) ON DELETE CASCADE,
			submitter_id  TEXT NOT NULL,
			video_id      TEXT NOT NULL,
			video_title   TEXT NOT NULL,
			video_thumbnail TEXT NOT NULL DEFAULT '',
			video_duration  INT NOT NULL DEFAULT 0,
			added_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS worship_votes (
			entry_id   uuid NOT NULL REFERENCES worship_queue_entries(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entry_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS worship_skip_votes (
			room_id    uuid NOT NULL REFERENCES worship_rooms(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS worship_participants (
			room_id           uuid NOT NULL REFERENCES worship_rooms(id) ON DELETE CASCADE,
			user_id           TEXT NOT NULL,
			role              TEXT NOT NULL DEFAULT 'listener',
			is_waitlisted     BOOLEAN NOT NULL DEFAULT FALSE,
			joined_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS worship_play_history (
			id             uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			room_id        uuid NOT NULL REFERENCES worship_rooms(id) ON DELETE CASCADE,
			video_id       TEXT NOT NULL,
			video_title    TEXT NOT NULL,
			video_duration INT NOT NULL DEFAULT 0,
			was_skipped    BOOLEAN NOT NULL DEFAULT FALSE,
			upvotes        INT NOT NULL DEFAULT 0,
			skip_votes     INT NOT NULL DEFAULT 0,
			listeners      INT NOT NULL DEFAULT 0,
			played_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS worship_invites (
			room_id    uuid NOT NULL REFERENCES worship_rooms(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_worship_entries_room ON worship_queue_entries(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_worship_participants_heartbeat ON worship_participants(last_heartbeat_at)`,
		`CREATE INDEX IF NOT EXISTS idx_worship_history_room ON worship_play_history(room_id, played_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate worship-service: %w", err)
		}
	}
	return nil
}

// ---- rooms ----

const roomColumns = `id, owner_id, name, description, is_private, is_active,
	max_participants, skip_threshold, allow_duplicates, max_queue_size,
	max_songs_per_user, min_song_sec, max_song_sec, enable_waitlist,
	playback_status, current_video_id, current_video_title,
	current_video_thumbnail, current_video_duration, playback_position,
	playback_started_at, current_track_upvotes, created_at`

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	var videoID *string
	var videoTitle, videoThumb string
	var videoDur int
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Description, &r.IsPrivate,
		&r.IsActive, &r.MaxParticipants, &r.SkipThreshold, &r.AllowDuplicates,
		&r.MaxQueueSize, &r.MaxSongsPerUser, &r.MinSongSec, &r.MaxSongSec,
		&r.EnableWaitlist, &r.Playback.Status, &videoID, &videoTitle,
		&videoThumb, &videoDur, &r.Playback.PositionSec,
		&r.Playback.StartedAt, &r.Playback.Upvotes, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if videoID != nil {
		r.Playback.Track = &Track{
			VideoID:      *videoID,
			Title:        videoTitle,
			ThumbnailURL: videoThumb,
			DurationSec:  videoDur,
		}
	}
	return &r, nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, r *Room) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO worship_rooms (owner_id, name, description, is_private,
			max_participants, skip_threshold, allow_duplicates, max_queue_size,
			max_songs_per_user, min_song_sec, max_song_sec, enable_waitlist)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at
	`, r.OwnerID, r.Name, r.Description, r.IsPrivate, r.MaxParticipants,
		r.SkipThreshold, r.AllowDuplicates, r.MaxQueueSize, r.MaxSongsPerUser,
		r.MinSongSec, r.MaxSongSec, r.EnableWaitlist).Scan(&r.ID, &r.CreatedAt)
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	room, err := scanRoom(s.db.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM worship_rooms WHERE id = $1 AND is_active`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

func (s *PostgresStore) ListPublicRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roomColumns+`
		FROM worship_rooms
		WHERE NOT is_private AND is_active
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func playbackArgs(pb PlaybackState) (videoID *string, title, thumb string, dur int) {
	if pb.Track != nil {
		videoID = &pb.Track.VideoID
		title = pb.Track.Title
		thumb = pb.Track.ThumbnailURL
		dur = pb.Track.DurationSec
	}
	return
}

const savePlaybackSQL = `
	UPDATE worship_rooms
	SET playback_status = $2, current_video_id = $3, current_video_title = $4,
		current_video_thumbnail = $5, current_video_duration = $6,
		playback_position = $7, playback_started_at = $8,
		current_track_upvotes = $9
	WHERE id = $1`

func (s *PostgresStore) SavePlayback(ctx context.Context, roomID string, pb PlaybackState) error {
	videoID, title, thumb, dur := playbackArgs(pb)
	tag, err := s.db.Exec(ctx, savePlaybackSQL,
		roomID, pb.Status, videoID, title, thumb, dur, pb.PositionSec, pb.StartedAt, pb.Upvotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateRoom(ctx context.Context, roomID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE worship_rooms SET is_active = FALSE WHERE id = $1`, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// ---- queue entries ----

const entryColumns = `e.id, e.room_id, e.submitter_id, e.video_id,
	e.video_title, e.video_thumbnail, e.video_duration, e.added_at,
	(SELECT COUNT(*) FROM worship_votes v WHERE v.entry_id = e.id) AS vote_score`

func scanEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.RoomID, &e.SubmitterID, &e.Track.VideoID,
		&e.Track.Title, &e.Track.ThumbnailURL, &e.Track.DurationSec,
		&e.AddedAt, &e.VoteScore)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e *QueueEntry) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO worship_queue_entries (room_id, submitter_id, video_id,
			video_title, video_thumbnail, video_duration, added_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, e.RoomID, e.SubmitterID, e.Track.VideoID, e.Track.Title,
		e.Track.ThumbnailURL, e.Track.DurationSec, e.AddedAt).Scan(&e.ID)
}

func (s *PostgresStore) GetEntry(ctx context.Context, roomID, entryID string) (*QueueEntry, error) {
	entry, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM worship_queue_entries e WHERE e.id = $1 AND e.room_id = $2`, entryID, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

func (s *PostgresStore) ListQueue(ctx context.Context, roomID string) ([]QueueEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+`
		FROM worship_queue_entries e WHERE e.room_id = $1 ORDER BY e.added_at ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, roomID, entryID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM worship_queue_entries WHERE id = $1 AND room_id = $2`, entryID, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *PostgresStore) CountEntriesBySubmitter(ctx context.Context, roomID, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM worship_queue_entries
		WHERE room_id = $1 AND submitter_id = $2`, roomID, userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) TrackQueued(ctx context.Context, roomID, videoID string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM worship_queue_entries
		WHERE room_id = $1 AND video_id = $2`, roomID, videoID).Scan(&n)
	return n > 0, err
}

func (s *PostgresStore) AdvanceTrack(ctx context.Context, roomID, entryID string,
	decide func(next *QueueEntry) (PlaybackState, *PlayRecord)) (*QueueEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var entry *QueueEntry
	if entryID != "" {
		entry, err = scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+`
			FROM worship_queue_entries e
			WHERE e.id = $1 AND e.room_id = $2`, entryID, roomID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
	} else {
		entry, err = scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+`
			FROM worship_queue_entries e
			WHERE e.room_id = $1
			ORDER BY vote_score DESC, e.added_at ASC
			LIMIT 1`, roomID))
		if errors.Is(err, pgx.ErrNoRows) {
			entry, err = nil, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM worship_queue_entries WHERE id = $1`, entry.ID); err != nil {
			return nil, err
		}
	}
	pb, rec := decide(entry)
	if err := recordChange(ctx, tx, roomID, pb, rec); err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

// ---- votes ----

func (s *PostgresStore) HasVote(ctx context.Context, entryID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM worship_votes
		WHERE entry_id = $1 AND user_id = $2`, entryID, userID).Scan(&n)
	return n > 0, err
}

func (s *PostgresStore) AddVote(ctx context.Context, entryID, userID string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO worship_votes (entry_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, entryID, userID)
	return err
}

func (s *PostgresStore) RemoveVote(ctx context.Context, entryID, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM worship_votes
		WHERE entry_id = $1 AND user_id = $2`, entryID, userID)
	return err
}

func (s *PostgresStore) CountVotes(ctx context.Context, entryID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM worship_votes WHERE entry_id = $1`, entryID).Scan(&n)
	return n, err
}

// ---- skip votes ----

func (s *PostgresStore) AddSkipVote(ctx context.Context, roomID, userID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO worship_skip_votes (room_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, roomID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountSkipVotes(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM worship_skip_votes WHERE room_id = $1`, roomID).Scan(&n)
	return n, err
}

// ---- invites ----

func (s *PostgresStore) AddInvite(ctx context.Context, roomID, userID string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO worship_invites (room_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, roomID, userID)
	return err
}

func (s *PostgresStore) HasInvite(ctx context.Context, roomID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM worship_invites
		WHERE room_id = $1 AND user_id = $2`, roomID, userID).Scan(&n)
	return n > 0, err
}

// ---- participants ----

const participantColumns = `room_id, user_id, role, is_waitlisted, joined_at, last_heartbeat_at`

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	err := row.Scan(&p.RoomID, &p.UserID, &p.Role, &p.Waitlisted,
		&p.JoinedAt, &p.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, roomID, userID string) (*Participant, error) {
	p, err := scanParticipant(s.db.QueryRow(ctx, `SELECT `+participantColumns+`
		FROM worship_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotParticipant
	}
	return p, err
}

func (s *PostgresStore) SaveParticipant(ctx context.Context, p *Participant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO worship_participants (room_id, user_id, role, is_waitlisted,
			joined_at, last_heartbeat_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (room_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, is_waitlisted = EXCLUDED.is_waitlisted,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at
	`, p.RoomID, p.UserID, p.Role, p.Waitlisted, p.JoinedAt, p.LastHeartbeatAt)
	return err
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM worship_participants
		WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotParticipant
	}
	return nil
}

func (s *PostgresStore) listParticipants(ctx context.Context, roomID string, waitlisted bool) ([]Participant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+participantColumns+`
		FROM worship_participants
		WHERE room_id = $1 AND is_waitlisted = $2
		ORDER BY joined_at ASC`, roomID, waitlisted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	return s.listParticipants(ctx, roomID, false)
}

func (s *PostgresStore) ListWaitlist(ctx context.Context, roomID string) ([]Participant, error) {
	return s.listParticipants(ctx, roomID, true)
}

func (s *PostgresStore) CountActiveParticipants(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM worship_participants
		WHERE room_id = $1 AND NOT is_waitlisted`, roomID).Scan(&n)
	return n, err
}

func (s *PostgresStore) TouchHeartbeat(ctx context.Context, roomID, userID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE worship_participants
		SET last_heartbeat_at = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotParticipant
	}
	return nil
}

func (s *PostgresStore) ListStaleParticipants(ctx context.Context, olderThan time.Time) ([]Participant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+participantColumns+`
		FROM worship_participants WHERE last_heartbeat_at < $1`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ---- history & playback transitions ----

// dbtx is the slice of pgx.Tx the track-change writes need, so the same
// code serves AdvanceTrack and RecordTrackChange.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// recordChange persists the new playback state, clears skip votes and
// appends the optional history record, all on the caller's transaction. The
// record's skip-vote and listener counts are read inside the transaction so
// history rows reflect the state at the moment of the change.
func recordChange(ctx context.Context, tx dbtx, roomID string, pb PlaybackState, rec *PlayRecord) error {
	videoID, title, thumb, dur := playbackArgs(pb)
	tag, err := tx.Exec(ctx, savePlaybackSQL,
		roomID, pb.Status, videoID, title, thumb, dur, pb.PositionSec, pb.StartedAt, pb.Upvotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	if rec != nil {
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM worship_skip_votes WHERE room_id = $1`, roomID).Scan(&rec.SkipVotes); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM worship_participants
			WHERE room_id = $1 AND NOT is_waitlisted`, roomID).Scan(&rec.Listeners); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM worship_skip_votes WHERE room_id = $1`, roomID); err != nil {
		return err
	}
	if rec != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO worship_play_history (room_id, video_id, video_title,
				video_duration, was_skipped, upvotes, skip_votes, listeners, played_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, roomID, rec.Track.VideoID, rec.Track.Title, rec.Track.DurationSec,
			rec.WasSkipped, rec.Upvotes, rec.SkipVotes, rec.Listeners, rec.PlayedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) RecordTrackChange(ctx context.Context, roomID string, pb PlaybackState, rec *PlayRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := recordChange(ctx, tx, roomID, pb, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListHistory(ctx context.Context, roomID string, limit int) ([]PlayRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, room_id, video_id, video_title, video_duration, was_skipped,
			upvotes, skip_votes, listeners, played_at
		FROM worship_play_history
		WHERE room_id = $1
		ORDER BY played_at DESC
		LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayRecord
	for rows.Next() {
		var r PlayRecord
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Track.VideoID, &r.Track.Title,
			&r.Track.DurationSec, &r.WasSkipped, &r.Upvotes, &r.SkipVotes,
			&r.Listeners, &r.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListExpiredPlayingRooms(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM worship_rooms
		WHERE is_active
		  AND playback_status = 'playing'
		  AND playback_started_at IS NOT NULL
		  AND current_video_duration > 0
		  AND playback_started_at
			+ ((current_video_duration - playback_position) * interval '1 second') < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
