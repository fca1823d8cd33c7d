package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/chordkeeper/internal/server/handlers"
	"github.com/iudanet/chordkeeper/internal/server/storage/sqlite"
	"github.com/iudanet/chordkeeper/pkg/api"
)

var testJWT = handlers.JWTConfig{Secret: []byte("test-secret")}

func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(context.Background(), ":memory:", logger)
	require.NoError(t, err)

	srv := New(Config{
		Version:         "test",
		JWT:             testJWT,
		RelayJoinRate:   100,
		RelayJoinWindow: time.Minute,
	}, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		cancel()
		_ = store.Close()
	})

	return srv, ts
}

func ownerHeader(t *testing.T, owner string) http.Header {
	t.Helper()
	token, _, err := handlers.IssueOwnerToken(testJWT, owner)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestServer_HealthAndAuth(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/api/v1/songs")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestServer_ChangeFeedDeliversUpserts(t *testing.T) {
	srv, ts := setupTestServer(t)
	header := ownerHeader(t, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/v1/changes"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.broker.Count("alice") == 1 }, time.Second, 5*time.Millisecond)

	body, err := json.Marshal(api.UpsertSongRequest{Song: api.Song{ID: "s1", Title: "Creep", CreatedAt: 1, UpdatedAt: 100}})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/songs/s1", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event api.ChangeEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "insert", event.EventType)
	require.NotNil(t, event.New)
	assert.Equal(t, "s1", event.New.ID)
	assert.Equal(t, "alice", event.New.OwnerID)
}

func TestServer_ChangeFeedRequiresToken(t *testing.T) {
	_, ts := setupTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/v1/changes"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RelayRoom(t *testing.T) {
	_, ts := setupTestServer(t)

	host, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/v1/relay/room-1"), nil)
	require.NoError(t, err)
	defer host.Close()

	readFrame := func(c *websocket.Conn) api.Frame {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f api.Frame
		require.NoError(t, c.ReadJSON(&f))
		return f
	}

	hostWelcome := readFrame(host)
	require.Equal(t, api.FrameWelcome, hostWelcome.Type)
	var hw api.Welcome
	require.NoError(t, json.Unmarshal(hostWelcome.Payload, &hw))
	assert.Equal(t, hw.PeerID, hw.Advertiser)

	guest, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/v1/relay/room-1"), nil)
	require.NoError(t, err)
	defer guest.Close()

	guestWelcome := readFrame(guest)
	var gw api.Welcome
	require.NoError(t, json.Unmarshal(guestWelcome.Payload, &gw))
	assert.Equal(t, []string{hw.PeerID}, gw.Peers)

	join := readFrame(host)
	assert.Equal(t, api.FramePeerJoin, join.Type)
	assert.Equal(t, gw.PeerID, join.From)

	require.NoError(t, guest.WriteJSON(api.Frame{Type: api.FrameMessage, To: hw.PeerID, Payload: json.RawMessage(`{"hello":1}`)}))
	msg := readFrame(host)
	assert.Equal(t, gw.PeerID, msg.From)
	assert.JSONEq(t, `{"hello":1}`, string(msg.Payload))
}
