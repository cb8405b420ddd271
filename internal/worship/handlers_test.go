package worship

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), "body: %s", w.Body.String())
}

// TestRoomLifecycleOverHTTP drives a whole session through the HTTP surface:
// capacity-bounded joins, waitlist promotion, queue voting, playback and
// sync.
func TestRoomLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Routes()

	// Alice opens a two-seat room and takes the first seat.
	w := doRequest(t, h, "POST", "/rooms", "alice", RoomInput{
		Name:            "Wednesday Night",
		MaxParticipants: intPtr(2),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var room Room
	decodeBody(t, w, &room)

	// Ben takes the second seat; Clara is waitlisted.
	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/join", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ben Participant
	decodeBody(t, w, &ben)
	assert.False(t, ben.Waitlisted)

	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/join", "clara", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var clara Participant
	decodeBody(t, w, &clara)
	assert.True(t, clara.Waitlisted)

	// Ben leaves; Clara inherits the seat.
	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/leave", "ben", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, h, "GET", "/rooms/"+room.ID+"/waitlist", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var waitlistResp struct {
		Waitlist []Participant `json:"waitlist"`
	}
	decodeBody(t, w, &waitlistResp)
	assert.Empty(t, waitlistResp.Waitlist)

	// Alice queues a song.
	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/queue", "alice", Track{
		VideoID: "x1", Title: "How Great Thou Art", DurationSec: 240,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry QueueEntry
	decodeBody(t, w, &entry)

	// Clara votes, un-votes, votes again.
	votePath := fmt.Sprintf("/rooms/%s/queue/%s/vote", room.ID, entry.ID)
	var voteResp struct {
		VoteScore int  `json:"voteScore"`
		Voted     bool `json:"voted"`
	}
	w = doRequest(t, h, "POST", votePath, "clara", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &voteResp)
	assert.Equal(t, 1, voteResp.VoteScore)
	assert.True(t, voteResp.Voted)

	w = doRequest(t, h, "POST", votePath, "clara", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &voteResp)
	assert.Equal(t, 0, voteResp.VoteScore)

	w = doRequest(t, h, "POST", votePath, "clara", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &voteResp)
	assert.Equal(t, 1, voteResp.VoteScore)

	// Alice starts the queued song.
	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/player", "alice", map[string]any{
		"action": "PLAY", "entryId": entry.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pb PlaybackState
	decodeBody(t, w, &pb)
	require.NotNil(t, pb.Track)
	assert.Equal(t, "x1", pb.Track.VideoID)

	// The consumed entry left the queue.
	w = doRequest(t, h, "GET", "/rooms/"+room.ID+"/queue", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var queueResp struct {
		Queue []QueueEntry `json:"queue"`
	}
	decodeBody(t, w, &queueResp)
	assert.Empty(t, queueResp.Queue)

	// Ten seconds in, sync reports ten seconds of progress.
	started := time.Now().UTC().Add(-10 * time.Second)
	pb.StartedAt = &started
	require.NoError(t, store.SavePlayback(context.Background(), room.ID, pb))

	w = doRequest(t, h, "GET", "/rooms/"+room.ID+"/player/sync", "clara", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap SyncSnapshot
	decodeBody(t, w, &snap)
	assert.Equal(t, StatusPlaying, snap.Status)
	assert.InDelta(t, 10, snap.EffectivePosition, 0.5)
	assert.False(t, snap.ServerTime.IsZero())
}

func TestInviteOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()
	room := mustCreateRoom(t, srv, "owner", RoomInput{Name: "Choir Practice", IsPrivate: true})

	w := doRequest(t, h, "POST", "/rooms/"+room.ID+"/join", "alice", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/invites", "alice", map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/invites", "owner", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, h, "POST", "/rooms/"+room.ID+"/join", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHTTPErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	room := mustCreateRoom(t, srv, "owner", RoomInput{MaxParticipants: intPtr(1)})
	noWaitlist := false
	full := mustCreateRoom(t, srv, "owner", RoomInput{
		Name:            "Full",
		MaxParticipants: intPtr(1),
		EnableWaitlist:  &noWaitlist,
	})

	tests := []struct {
		name     string
		method   string
		path     string
		userID   string
		body     any
		wantCode int
	}{
		{
			name:   "unknown room is 404",
			method: "GET", path: "/rooms/nope", userID: "owner",
			wantCode: http.StatusNotFound,
		},
		{
			name:   "missing identity is 401",
			method: "GET", path: "/rooms/" + room.ID,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:   "full room without waitlist is 409",
			method: "POST", path: "/rooms/" + full.ID + "/join", userID: "alice",
			wantCode: http.StatusConflict,
		},
		{
			name:   "playback without a role is 403",
			method: "POST", path: "/rooms/" + room.ID + "/player", userID: "alice",
			body:     map[string]any{"action": "PAUSE"},
			wantCode: http.StatusForbidden,
		},
		{
			name:   "invalid transition is 422",
			method: "POST", path: "/rooms/" + room.ID + "/player", userID: "owner",
			body:     map[string]any{"action": "PAUSE"},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:   "unknown action is 422",
			method: "POST", path: "/rooms/" + room.ID + "/player", userID: "owner",
			body:     map[string]any{"action": "REWIND"},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:   "malformed body is 422",
			method: "POST", path: "/rooms", userID: "owner",
			body:     "not-an-object",
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:   "vote on unknown entry is 404",
			method: "POST", path: "/rooms/" + room.ID + "/queue/missing/vote", userID: "owner",
			wantCode: http.StatusNotFound,
		},
		{
			name:   "delete by non-owner is 403",
			method: "DELETE", path: "/rooms/" + room.ID, userID: "alice",
			wantCode: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, tt.method, tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Routes(), "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
