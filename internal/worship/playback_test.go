package worship

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectivePosition(t *testing.T) {
	now := time.Now().UTC()
	started := now.Add(-10 * time.Second)

	tests := []struct {
		name  string
		state PlaybackState
		want  float64
	}{
		{
			name:  "stopped is zero",
			state: stoppedState(),
			want:  0,
		},
		{
			name: "paused freezes position",
			state: PlaybackState{
				Status:      StatusPaused,
				Track:       &Track{VideoID: "v1"},
				PositionSec: 42.5,
			},
			want: 42.5,
		},
		{
			name: "playing adds elapsed time",
			state: PlaybackState{
				Status:      StatusPlaying,
				Track:       &Track{VideoID: "v1"},
				PositionSec: 5,
				StartedAt:   &started,
			},
			want: 15,
		},
		{
			name: "never negative",
			state: PlaybackState{
				Status:      StatusPaused,
				Track:       &Track{VideoID: "v1"},
				PositionSec: -3,
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.state.EffectivePosition(now)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestApplyTransitions(t *testing.T) {
	now := time.Now().UTC()
	started := now.Add(-20 * time.Second)
	playing := PlaybackState{
		Status:      StatusPlaying,
		Track:       &Track{VideoID: "v1", DurationSec: 300},
		PositionSec: 0,
		StartedAt:   &started,
	}
	paused := PlaybackState{
		Status:      StatusPaused,
		Track:       &Track{VideoID: "v1", DurationSec: 300},
		PositionSec: 20,
	}

	tests := []struct {
		name    string
		state   PlaybackState
		cmd     Command
		wantErr bool
		check   func(t *testing.T, got PlaybackState)
	}{
		{
			name:  "pause freezes effective position",
			state: playing,
			cmd:   Command{Action: ActionPause},
			check: func(t *testing.T, got PlaybackState) {
				assert.Equal(t, StatusPaused, got.Status)
				assert.Nil(t, got.StartedAt)
				assert.InDelta(t, 20, got.PositionSec, 0.5)
			},
		},
		{
			name:    "pause while paused is invalid",
			state:   paused,
			cmd:     Command{Action: ActionPause},
			wantErr: true,
		},
		{
			name:  "resume keeps position and restarts the clock",
			state: paused,
			cmd:   Command{Action: ActionResume},
			check: func(t *testing.T, got PlaybackState) {
				assert.Equal(t, StatusPlaying, got.Status)
				require.NotNil(t, got.StartedAt)
				assert.Equal(t, 20.0, got.PositionSec)
			},
		},
		{
			name:    "resume while playing is invalid",
			state:   playing,
			cmd:     Command{Action: ActionResume},
			wantErr: true,
		},
		{
			name:  "stop clears the track",
			state: playing,
			cmd:   Command{Action: ActionStop},
			check: func(t *testing.T, got PlaybackState) {
				assert.Equal(t, StatusStopped, got.Status)
				assert.Nil(t, got.Track)
				assert.Nil(t, got.StartedAt)
			},
		},
		{
			name:    "stop while stopped is invalid",
			state:   stoppedState(),
			cmd:     Command{Action: ActionStop},
			wantErr: true,
		},
		{
			name:  "seek while playing resets the clock",
			state: playing,
			cmd:   Command{Action: ActionSeek, SeekSec: 90},
			check: func(t *testing.T, got PlaybackState) {
				assert.Equal(t, 90.0, got.PositionSec)
				require.NotNil(t, got.StartedAt)
				assert.False(t, got.StartedAt.Before(now))
			},
		},
		{
			name:  "seek clamps negative offsets",
			state: paused,
			cmd:   Command{Action: ActionSeek, SeekSec: -5},
			check: func(t *testing.T, got PlaybackState) {
				assert.Equal(t, 0.0, got.PositionSec)
				assert.Nil(t, got.StartedAt)
			},
		},
		{
			name:    "seek while stopped is invalid",
			state:   stoppedState(),
			cmd:     Command{Action: ActionSeek, SeekSec: 10},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.state.apply(tt.cmd, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestControlRequiresRole(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	mustJoin(t, srv, room.ID, "listener")

	track := &Track{VideoID: "v1", Title: "Amazing Grace", DurationSec: 240}

	_, err := srv.Control(ctx, room.ID, "listener", Command{Action: ActionPlay, Track: track})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = srv.Control(ctx, room.ID, "stranger", Command{Action: ActionPlay, Track: track})
	assert.ErrorIs(t, err, ErrForbidden)

	pb, err := srv.Control(ctx, room.ID, "owner", Command{Action: ActionPlay, Track: track})
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, pb.Status)
}

func TestSkipAdvancesToTopRanked(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	mustJoin(t, srv, room.ID, "alice")

	first := mustEnqueue(t, srv, room.ID, "alice", Track{VideoID: "v1", Title: "First", DurationSec: 200})
	second := mustEnqueue(t, srv, room.ID, "alice", Track{VideoID: "v2", Title: "Second", DurationSec: 200})

	// Vote the later entry above the earlier one.
	_, _, err := srv.Vote(ctx, room.ID, second.ID, "alice")
	require.NoError(t, err)

	pb, err := srv.Control(ctx, room.ID, "owner", Command{Action: ActionSkip})
	require.NoError(t, err)
	require.NotNil(t, pb.Track)
	assert.Equal(t, "v2", pb.Track.VideoID)
	assert.Equal(t, 1, pb.Upvotes)

	// The consumed entry is gone from the queue.
	queue, err := srv.RankedQueue(ctx, room.ID, "owner")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, first.ID, queue[0].ID)

	// Voting the consumed entry now fails.
	_, _, err = srv.Vote(ctx, room.ID, second.ID, "alice")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSkipOnEmptyQueueStops(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})

	_, err := srv.Control(ctx, room.ID, "owner", Command{
		Action: ActionPlay,
		Track:  &Track{VideoID: "v1", Title: "Only Song", DurationSec: 100},
	})
	require.NoError(t, err)

	pb, err := srv.Control(ctx, room.ID, "owner", Command{Action: ActionSkip})
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, pb.Status)
	assert.Nil(t, pb.Track)
}

func TestSkipWritesHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	mustJoin(t, srv, room.ID, "alice")
	entry := mustEnqueue(t, srv, room.ID, "owner", Track{VideoID: "v1", Title: "First", DurationSec: 100})

	// The entry carries one upvote when it leaves the queue.
	_, _, err := srv.Vote(ctx, room.ID, entry.ID, "alice")
	require.NoError(t, err)

	_, err = srv.Control(ctx, room.ID, "owner", Command{Action: ActionSkip})
	require.NoError(t, err)
	_, err = srv.Control(ctx, room.ID, "owner", Command{Action: ActionSkip})
	require.NoError(t, err)

	records, err := srv.History(ctx, room.ID, "owner", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "v1", records[0].Track.VideoID)
	assert.True(t, records[0].WasSkipped)
	assert.Equal(t, 1, records[0].Upvotes)
	assert.Equal(t, 2, records[0].Listeners)
}

// faultStore fails a configurable number of AdvanceTrack calls so tests can
// exercise what a half-finished transition would leave behind.
type faultStore struct {
	Store
	failures int
}

func (f *faultStore) AdvanceTrack(ctx context.Context, roomID, entryID string,
	decide func(next *QueueEntry) (PlaybackState, *PlayRecord)) (*QueueEntry, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("store unavailable")
	}
	return f.Store.AdvanceTrack(ctx, roomID, entryID, decide)
}

func TestSkipAbortsEntirelyOnStoreFailure(t *testing.T) {
	srv, store := newTestServer(t)
	srv.store = &faultStore{Store: store, failures: 1}
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})

	_, err := srv.Control(ctx, room.ID, "owner", Command{
		Action: ActionPlay,
		Track:  &Track{VideoID: "v0", Title: "Current", DurationSec: 200},
	})
	require.NoError(t, err)
	next := mustEnqueue(t, srv, room.ID, "owner", Track{VideoID: "v1", Title: "Next", DurationSec: 200})

	// A failing transition must leave both the queue and playback untouched.
	_, err = srv.Control(ctx, room.ID, "owner", Command{Action: ActionSkip})
	require.Error(t, err)

	queue, err := srv.RankedQueue(ctx, room.ID, "owner")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, next.ID, queue[0].ID)

	snap, err := srv.Sync(ctx, room.ID, "owner")
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentTrack)
	assert.Equal(t, "v0", snap.CurrentTrack.VideoID)

	records, err := srv.History(ctx, room.ID, "owner", 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Once the store recovers the same skip goes through whole.
	pb, err := srv.Control(ctx, room.ID, "owner", Command{Action: ActionSkip})
	require.NoError(t, err)
	require.NotNil(t, pb.Track)
	assert.Equal(t, "v1", pb.Track.VideoID)

	records, err = srv.History(ctx, room.ID, "owner", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "v0", records[0].Track.VideoID)
}

func TestSkipVoteThreshold(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	mustJoin(t, srv, room.ID, "alice")
	mustJoin(t, srv, room.ID, "bob")
	mustJoin(t, srv, room.ID, "carol")

	_, err := srv.Control(ctx, room.ID, "owner", Command{
		Action: ActionPlay,
		Track:  &Track{VideoID: "v1", Title: "Current", DurationSec: 300},
	})
	require.NoError(t, err)

	// 4 active participants, threshold 0.5: two votes trip it.
	count, skipped, err := srv.SkipVote(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, skipped)

	// Duplicate vote by the same user does not advance the count.
	count, skipped, err = srv.SkipVote(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, skipped)

	count, skipped, err = srv.SkipVote(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, skipped)

	// Queue was empty, so the skip stopped playback and cleared the votes.
	snap, err := srv.Sync(ctx, room.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, snap.Status)

	_, _, err = srv.SkipVote(ctx, room.ID, "carol")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSyncConvergence(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})

	started := time.Now().UTC().Add(-10 * time.Second)
	require.NoError(t, store.SavePlayback(ctx, room.ID, PlaybackState{
		Status:      StatusPlaying,
		Track:       &Track{VideoID: "v1", Title: "Current", DurationSec: 300},
		PositionSec: 0,
		StartedAt:   &started,
	}))

	snap, err := srv.Sync(ctx, room.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, snap.Status)
	require.NotNil(t, snap.CurrentTrack)
	// Two observers 100ms apart disagree by at most that much.
	assert.Less(t, math.Abs(snap.EffectivePosition-10), 0.5)

	snap2, err := srv.Sync(ctx, room.ID, "owner")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap2.EffectivePosition, snap.EffectivePosition)
}

func TestAdvanceFinished(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	next := mustEnqueue(t, srv, room.ID, "owner", Track{VideoID: "v2", Title: "Next", DurationSec: 180})

	started := time.Now().UTC().Add(-120 * time.Second)
	require.NoError(t, store.SavePlayback(ctx, room.ID, PlaybackState{
		Status:      StatusPlaying,
		Track:       &Track{VideoID: "v1", Title: "Done", DurationSec: 60},
		PositionSec: 0,
		StartedAt:   &started,
	}))

	srv.AdvanceFinished(ctx)

	snap, err := srv.Sync(ctx, room.ID, "owner")
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentTrack)
	assert.Equal(t, "v2", snap.CurrentTrack.VideoID)

	queue, err := srv.RankedQueue(ctx, room.ID, "owner")
	require.NoError(t, err)
	for _, e := range queue {
		if e.ID == next.ID {
			t.Fatalf("consumed entry %s still queued", next.ID)
		}
	}

	records, err := srv.History(ctx, room.ID, "owner", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].WasSkipped)
}

func TestParseAction(t *testing.T) {
	got, err := parseAction("play")
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)

	_, err = parseAction("rewind")
	assert.True(t, errors.Is(err, ErrBadRequest))
}
