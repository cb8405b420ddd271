package worship

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialRoom(t *testing.T, ts *httptest.Server, roomID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + roomID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": {userID}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestWebsocketInitialSync(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	conn := dialRoom(t, ts, room.ID, "owner")

	env := readEnvelope(t, conn)
	assert.Equal(t, EventSyncState, env.Type)
	assert.Equal(t, room.ID, env.RoomID)
}

func TestWebsocketReceivesRoomEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	conn := dialRoom(t, ts, room.ID, "owner")
	readEnvelope(t, conn) // initial sync

	mustJoin(t, srv, room.ID, "alice")

	env := readEnvelope(t, conn)
	assert.Equal(t, EventParticipantJoined, env.Type)
	assert.Equal(t, room.ID, env.RoomID)

	mustEnqueue(t, srv, room.ID, "alice", Track{VideoID: "v1", Title: "Song", DurationSec: 180})
	env = readEnvelope(t, conn)
	assert.Equal(t, EventTrackAdded, env.Type)
}

func TestWebsocketSyncRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	conn := dialRoom(t, ts, room.ID, "owner")
	readEnvelope(t, conn) // initial sync

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "sync"}))

	env := readEnvelope(t, conn)
	assert.Equal(t, EventSyncState, env.Type)

	var snap SyncSnapshot
	b, err := json.Marshal(env.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &snap))
	assert.Equal(t, StatusStopped, snap.Status)
}

func TestWebsocketHeartbeat(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	room := mustCreateRoom(t, srv, "owner", RoomInput{})
	ctx := context.Background()

	// Age the owner's heartbeat, then refresh it over the socket.
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.TouchHeartbeat(ctx, room.ID, "owner", stale))

	conn := dialRoom(t, ts, room.ID, "owner")
	readEnvelope(t, conn) // initial sync

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "heartbeat"}))

	require.Eventually(t, func() bool {
		p, err := store.GetParticipant(ctx, room.ID, "owner")
		return err == nil && p.LastHeartbeatAt.After(stale)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketPrivateRoomForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	room := mustCreateRoom(t, srv, "owner", RoomInput{IsPrivate: true})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + room.ID + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": {"stranger"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The owner subscribes as usual.
	conn := dialRoom(t, ts, room.ID, "owner")
	env := readEnvelope(t, conn)
	assert.Equal(t, EventSyncState, env.Type)
}

func TestWebsocketUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": {"owner"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
