package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/game/session"
	"github.com/cory-johannsen/plaza/internal/identity"
)

// echoGateway registers sessions and echoes every inbound frame back to its sender.
type echoGateway struct {
	sessions *session.Manager

	mu           sync.Mutex
	connected    map[string]identity.Identity
	disconnected []string
}

func newEchoGateway() *echoGateway {
	return &echoGateway{sessions: session.NewManager(8), connected: make(map[string]identity.Identity)}
}

func (g *echoGateway) Connect(connID string, id identity.Identity) (*session.Session, error) {
	g.mu.Lock()
	g.connected[connID] = id
	g.mu.Unlock()
	return g.sessions.Add(connID, id)
}

func (g *echoGateway) Disconnect(connID string) {
	g.mu.Lock()
	g.disconnected = append(g.disconnected, connID)
	g.mu.Unlock()
	_, _ = g.sessions.Remove(connID)
}

func (g *echoGateway) HandleMessage(_ context.Context, connID string, raw []byte) {
	g.sessions.Push([]string{connID}, raw, nil)
}

func (g *echoGateway) identityOf(connID string) (identity.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.connected[connID]
	return id, ok
}

func (g *echoGateway) disconnectedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.disconnected)
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, token string) (identity.Identity, error) {
	if token == "good" {
		return identity.Identity{UserID: "u-alice", DisplayName: "Alice", Avatar: identity.DefaultAvatar()}, nil
	}
	return identity.Identity{}, identity.ErrInvalidToken
}

func testOptions() Options {
	return Options{
		WebSocket: config.WebSocketConfig{
			ReadLimit:    256,
			WriteTimeout: time.Second,
			PongTimeout:  2 * time.Second,
			PingInterval: 500 * time.Millisecond,
			SendBuffer:   8,
		},
		AllowGuests: true,
	}
}

type wsServer struct {
	handler *Handler
	gateway *echoGateway
	url     string
}

func newServer(t *testing.T, opts Options, resolver Resolver) *wsServer {
	t.Helper()
	gw := newEchoGateway()
	h := NewHandler(opts, gw, resolver, zaptest.NewLogger(t))
	h.newID = func() string { return "conn-abcdef-1" }
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
		srv.Close()
	})
	return &wsServer{handler: h, gateway: gw, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func dial(t *testing.T, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, resp, err := d.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_GuestHandshakeAndEcho(t *testing.T) {
	s := newServer(t, testOptions(), nil)
	conn, _, err := dial(t, s.url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello"}`, string(data))

	id, ok := s.gateway.identityOf("conn-abcdef-1")
	require.True(t, ok)
	assert.True(t, id.Guest)
	assert.Equal(t, "guest-conn-abcdef-1", id.UserID)
	assert.Equal(t, "Guest-conn-a", id.DisplayName)
	assert.Equal(t, 1, s.handler.ConnCount())
}

func TestHandler_TokenFromQueryAndCookie(t *testing.T) {
	s := newServer(t, testOptions(), fakeResolver{})

	_, _, err := dial(t, s.url+"?token=good", nil)
	require.NoError(t, err)
	waitFor(t, func() bool { _, ok := s.gateway.identityOf("conn-abcdef-1"); return ok })
	id, _ := s.gateway.identityOf("conn-abcdef-1")
	assert.Equal(t, "u-alice", id.UserID)
	assert.False(t, id.Guest)

	s2 := newServer(t, testOptions(), fakeResolver{})
	header := http.Header{}
	header.Set("Cookie", TokenCookie+"=good")
	_, _, err = dial(t, s2.url, header)
	require.NoError(t, err)
	waitFor(t, func() bool { _, ok := s2.gateway.identityOf("conn-abcdef-1"); return ok })
	id, _ = s2.gateway.identityOf("conn-abcdef-1")
	assert.Equal(t, "u-alice", id.UserID)
}

func TestHandler_InvalidTokenIsUnauthorized(t *testing.T) {
	s := newServer(t, testOptions(), fakeResolver{})
	_, resp, err := dial(t, s.url+"?token=forged", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, ok := s.gateway.identityOf("conn-abcdef-1")
	assert.False(t, ok)
}

func TestHandler_TokenWithoutResolverIsUnauthorized(t *testing.T) {
	s := newServer(t, testOptions(), nil)
	_, resp, err := dial(t, s.url+"?token=good", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_GuestsDisabled(t *testing.T) {
	opts := testOptions()
	opts.AllowGuests = false
	s := newServer(t, opts, fakeResolver{})
	_, resp, err := dial(t, s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	opts := testOptions()
	opts.AllowedOrigins = []string{"http://localhost:3000"}
	s := newServer(t, opts, nil)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := dial(t, s.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:3000")
	_, _, err = dial(t, s.url, header)
	assert.NoError(t, err)
}

func TestHandler_ClientCloseRunsDisconnect(t *testing.T) {
	s := newServer(t, testOptions(), nil)
	conn, _, err := dial(t, s.url, nil)
	require.NoError(t, err)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return s.gateway.disconnectedCount() == 1 })
	waitFor(t, func() bool { return s.handler.ConnCount() == 0 })
	assert.Equal(t, 0, s.gateway.sessions.Count())
}

func TestHandler_OversizedFrameDropsConnection(t *testing.T) {
	s := newServer(t, testOptions(), nil)
	conn, _, err := dial(t, s.url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 1024))))
	waitFor(t, func() bool { return s.gateway.disconnectedCount() == 1 })
}

func TestHandler_ServerPings(t *testing.T) {
	s := newServer(t, testOptions(), nil)
	conn, _, err := dial(t, s.url, nil)
	require.NoError(t, err)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping within the ping interval")
	}
}

func TestHandler_StopClosesConnections(t *testing.T) {
	s := newServer(t, testOptions(), nil)
	conn, _, err := dial(t, s.url, nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return s.handler.ConnCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.handler.Stop(ctx))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 1, s.gateway.disconnectedCount())

	// Start returns once stopped.
	assert.NoError(t, s.handler.Start())
}

func TestHandshakeToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "from-cookie"})
	assert.Equal(t, "from-query", handshakeToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "a%2Eb"})
	assert.Equal(t, "a.b", handshakeToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, handshakeToken(req))
}
