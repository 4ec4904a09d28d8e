package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWebSocketWelcome greets a new session with a single system event.
func TestWebSocketWelcome(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	conn := connectUser(t, ts, "alice")

	eventually(t, func() bool { return srv.Hub().IsConnected("alice") }, "alice should be registered")
	expectNoMessage(t, conn, 100*time.Millisecond)
}

// TestWebSocketQueryIdentity accepts the user id as a query parameter.
func TestWebSocketQueryIdentity(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	url := strings.Replace(wsURL(t, ts, ""), "/ws/", "/ws?user_id=bob", 1)
	conn, resp, err := websocket.DefaultDialer.Dial(url, newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer conn.Close()

	welcome := readEvent(t, conn)
	assert.Equal(t, welcomeText, welcome["content"])
	eventually(t, func() bool { return srv.Hub().IsConnected("bob") }, "bob should be registered")
}

// TestWebSocketChatBroadcast delivers a chat to every session and stores it.
func TestWebSocketChatBroadcast(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	lobby := srv.Rooms().DefaultRoomID()

	a := connectUser(t, ts, "a")
	b := connectUser(t, ts, "b")

	sendFrame(t, a, Frame{Type: FrameChat, RoomID: lobby, Content: "hi"})

	for _, conn := range []*websocket.Conn{a, b} {
		event := readEvent(t, conn)
		require.Equal(t, EventChat, event["type"])
		msg := event["message"].(map[string]interface{})
		assert.Equal(t, "hi", msg["content"])
		assert.Equal(t, "a", msg["user_id"])
		assert.NotEmpty(t, msg["id"])
	}

	transcript, err := srv.Rooms().RecentMessages(lobby, 0)
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	assert.Equal(t, "hi", transcript[0].Content)
}

// TestWebSocketMalformedFrameKeepsSession skips bad input and keeps reading.
func TestWebSocketMalformedFrameKeepsSession(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := connectUser(t, ts, "a")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("definitely not json")))
	sendFrame(t, conn, Frame{Type: "typing"})
	sendFrame(t, conn, Frame{Type: FrameChat, Content: "still here"})

	event := readEvent(t, conn)
	require.Equal(t, EventChat, event["type"])
	assert.Equal(t, "still here", event["message"].(map[string]interface{})["content"])
}

// TestWebSocketDepartureNotice announces a registered user leaving.
func TestWebSocketDepartureNotice(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	user := srv.Users().CreateUser("carol")

	observer := connectUser(t, ts, "observer")
	leaver := connectUser(t, ts, user.ID)

	closeWebSocket(t, leaver)

	event := readEvent(t, observer)
	assert.Equal(t, EventSystem, event["type"])
	assert.Equal(t, "carol left", event["content"])
	eventually(t, func() bool { return !srv.Hub().IsConnected(user.ID) }, "carol should be unregistered")
}

// TestWebSocketDuplicateIdentity closes the earlier session for the same id.
func TestWebSocketDuplicateIdentity(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	user := srv.Users().CreateUser("dave")

	observer := connectUser(t, ts, "observer")
	first := connectUser(t, ts, user.ID)
	second := connectUser(t, ts, user.ID)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	assert.Equal(t, 2, srv.Hub().Count())

	// A superseded session leaves silently, so the chat is the next event.
	sendFrame(t, second, Frame{Type: FrameChat, Content: "replacement works"})
	event := readEvent(t, observer)
	require.Equal(t, EventChat, event["type"])
	assert.Equal(t, "dave", event["message"].(map[string]interface{})["username"])
}

// TestWebSocketJoinRoomScoped restricts traffic to subscribers in room scope.
func TestWebSocketJoinRoomScoped(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *Config) { cfg.BroadcastScope = ScopeRoom })
	general := srv.Rooms().CreateRoom("General")

	member := connectUser(t, ts, "member")
	outsider := connectUser(t, ts, "outsider")

	sendFrame(t, member, Frame{Type: FrameJoinRoom, RoomID: general.ID})
	joined := readEvent(t, member)
	assert.Contains(t, joined["content"], "joined")

	sendFrame(t, member, Frame{Type: FrameChat, RoomID: general.ID, Content: "members only"})
	event := readEvent(t, member)
	assert.Equal(t, EventChat, event["type"])

	expectNoMessage(t, outsider, 200*time.Millisecond)
}

// TestWebSocketOriginValidation rejects upgrades from disallowed or missing origins.
func TestWebSocketOriginValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, origin := range []string{"", "http://evil.example"} {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(t, ts, "mallory"), newOriginHeader(origin))
		if err == nil {
			_ = conn.Close()
			t.Fatalf("expected origin %q to be rejected", origin)
		}
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

// TestWebSocketMessageSizeLimit ends the session when a frame is too large.
func TestWebSocketMessageSizeLimit(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *Config) { cfg.MaxMessageSize = 128 })
	conn := connectUser(t, ts, "big")

	oversized := `{"type":"chat","content":"` + strings.Repeat("x", 512) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(oversized)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	eventually(t, func() bool { return !srv.Hub().IsConnected("big") }, "oversized sender should be dropped")
}

// TestWebSocketRateLimiting discards frames beyond the burst.
func TestWebSocketRateLimiting(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	conn := connectUser(t, ts, "chatty")

	for i := 0; i < 5; i++ {
		sendFrame(t, conn, Frame{Type: FrameChat, Content: "spam"})
	}

	readEvent(t, conn)
	readEvent(t, conn)
	expectNoMessage(t, conn, 200*time.Millisecond)

	transcript, err := srv.Rooms().RecentMessages(srv.Rooms().DefaultRoomID(), 0)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

// TestServerCloseDisconnectsSessions shuts down the hub with live sessions.
func TestServerCloseDisconnectsSessions(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	conns := []*websocket.Conn{connectUser(t, ts, "a"), connectUser(t, ts, "b")}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Close(ctx))

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
	assert.Equal(t, 0, srv.Hub().Count())

	dialer := websocket.Dialer{HandshakeTimeout: time.Second}
	conn, resp, err := dialer.Dial(wsURL(t, ts, "late"), newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		defer conn.Close()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.Error(t, err, "sessions opened after shutdown are closed immediately")
	}
}

// TestStartAndShutdownServer runs the HTTP server on a real listener.
func TestStartAndShutdownServer(t *testing.T) {
	srv := newHandlerServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	httpServer := CreateServer(ln.Addr().String(), srv.Handler())
	errCh := make(chan error, 1)
	go func() { errCh <- StartServer(httpServer, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ShutdownServer(ctx, httpServer))
	require.NoError(t, <-errCh)
}
