package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comunidad-segura/realtime-api/internal/auth"
	"github.com/comunidad-segura/realtime-api/internal/hub"
	"github.com/comunidad-segura/realtime-api/internal/logging"
)

// fakeAuth は "Bearer <userId>" をそのままユーザーIDとして扱います
type fakeAuth struct{}

func (fakeAuth) Authenticate(r *http.Request) (string, error) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	switch token {
	case "":
		return "", auth.ErrUnauthenticated
	case "store-down":
		return "", errors.New("redis down")
	}
	return token, nil
}

// echoFrames は受信したフレームをそのまま送り返します
type echoFrames struct {
	reg          *hub.Registry
	mu           sync.Mutex
	disconnected []string
}

func (e *echoFrames) Handle(_ context.Context, conn hub.Conn, data []byte) {
	e.reg.Touch(conn)
	_ = conn.Send(data)
}

func (e *echoFrames) Disconnect(conn hub.Conn) {
	if _, ok := e.reg.Remove(conn); ok {
		e.mu.Lock()
		e.disconnected = append(e.disconnected, conn.ID())
		e.mu.Unlock()
	}
}

func (e *echoFrames) disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disconnected)
}

type wsEnv struct {
	reg    *hub.Registry
	frames *echoFrames
	url    string
}

func setupWebSocket(t *testing.T) *wsEnv {
	t.Helper()
	reg := hub.NewRegistry()
	frames := &echoFrames{reg: reg}
	h := NewWebSocketHandler(fakeAuth{}, reg, frames, logging.Discard(), nil, WebSocketOptions{SendBuffer: 8})

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return &wsEnv{reg: reg, frames: frames, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (e *wsEnv) dial(t *testing.T, userId string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if userId != "" {
		header.Set("Authorization", "Bearer "+userId)
	}
	c, resp, err := websocket.DefaultDialer.Dial(e.url, header)
	if c != nil {
		t.Cleanup(func() { _ = c.Close() })
	}
	return c, resp, err
}

func (e *wsEnv) connections() int {
	_, conns := e.reg.Stats()
	return conns
}

func TestHandleWebSocket_RejectsBeforeUpgrade(t *testing.T) {
	tests := map[string]struct {
		user   string
		status int
	}{
		"no credential": {"", http.StatusUnauthorized},
		"store failure": {"store-down", http.StatusServiceUnavailable},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := setupWebSocket(t)

			_, resp, err := e.dial(t, tt.user)

			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Zero(t, e.connections())
		})
	}
}

func TestHandleWebSocket_RoundTripAndDisconnect(t *testing.T) {
	e := setupWebSocket(t)
	c, _, err := e.dial(t, "U1")
	require.NoError(t, err)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))

	conns := e.reg.All()
	require.Len(t, conns, 1)
	sess, ok := e.reg.Lookup(conns[0])
	require.True(t, ok)
	assert.Equal(t, "U1", sess.UserID)
	assert.Equal(t, hub.StateUnbound, sess.Binding.State)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return e.frames.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, e.connections())
}

func TestHandleWebSocket_SilentConnectionIsEvicted(t *testing.T) {
	e := setupWebSocket(t)
	c, _, err := e.dial(t, "U1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	var evicted []hub.Session
	sup := hub.NewSupervisor(e.reg, time.Minute, logging.Discard(), nil)
	sup.OnEvict = func(s hub.Session) { evicted = append(evicted, s) }

	// クライアントは読み込みを行わないため、pingに応答しない
	assert.Zero(t, sup.Sweep())
	assert.Equal(t, 1, sup.Sweep())

	require.Len(t, evicted, 1)
	assert.Equal(t, "U1", evicted[0].UserID)
	assert.Zero(t, e.connections())
	assert.Empty(t, e.reg.MembersOf("room-1"))

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "server should have closed the socket")
			}
			break
		}
	}
	// 削除済みのため切断時の退出処理は重複しない
	assert.Never(t, func() bool { return e.frames.disconnects() > 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestWSClient_SendIsNonBlocking(t *testing.T) {
	c := &wsClient{id: "c1", send: make(chan []byte, 1), done: make(chan struct{})}

	require.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), hub.ErrSendBufferFull)

	close(c.done)
	assert.ErrorIs(t, c.Send([]byte("c")), hub.ErrConnClosed)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list allows all", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{"https://app.example/"}, "https://app.example", true},
		{"unlisted", []string{"https://app.example"}, "https://evil.example", false},
		{"non-browser client", []string{"https://app.example"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(r))
		})
	}
}
