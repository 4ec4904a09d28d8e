package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

const testOrigin = "http://localhost:8080"

var errFakeSend = errors.New("fake send failure")

// fakeHandle records deliveries and can be told to fail.
type fakeHandle struct {
	mu       sync.Mutex
	payloads [][]byte
	attempts int
	fail     error
	closed   bool
}

func (f *fakeHandle) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.fail != nil {
		return f.fail
	}
	if f.closed {
		return ErrConnectionClosed
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeHandle) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHandle) Events(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	events := make([]map[string]interface{}, 0, len(f.payloads))
	for _, p := range f.payloads {
		events = append(events, decodeEvent(t, p))
	}
	return events
}

func decodeEvent(t *testing.T, payload []byte) map[string]interface{} {
	t.Helper()
	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.StaticDir = ""
	cfg.SendTimeout = 200 * time.Millisecond
	cfg.RateLimit.Burst = 100
	return cfg
}

func newTestServer(t *testing.T, customize func(cfg *Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := testConfig()
	if customize != nil {
		customize(&cfg)
	}
	srv := NewWithStores(cfg, store.NewRoomStore(cfg.DefaultRoomName), store.NewUserDirectory(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.hub.Shutdown(2 * time.Second)
	})
	return srv, ts
}

func wsURL(t *testing.T, ts *httptest.Server, userID string) string {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws/" + userID
	return u.String()
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// connectUser dials the session endpoint and consumes the welcome notice.
func connectUser(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(t, ts, userID), newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := readEvent(t, conn)
	require.Equal(t, EventSystem, welcome["type"])
	require.Equal(t, welcomeText, welcome["content"])
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return decodeEvent(t, data)
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

func closeWebSocket(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.NoError(t, err)
	_ = conn.Close()
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}
