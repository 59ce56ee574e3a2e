// Package ws carries the room event protocol over websocket connections.
package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/game/session"
	"github.com/cory-johannsen/plaza/internal/identity"
)

// TokenCookie is the cookie consulted when the handshake carries no token parameter.
const TokenCookie = "token"

const resolveTimeout = 5 * time.Second

// Gateway is the room core as seen by a transport.
type Gateway interface {
	Connect(connID string, id identity.Identity) (*session.Session, error)
	Disconnect(connID string)
	HandleMessage(ctx context.Context, connID string, raw []byte)
}

// Resolver turns a handshake token into an authenticated identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

// Options configures a Handler.
type Options struct {
	WebSocket config.WebSocketConfig
	// AllowedOrigins lists accepted Origin header values. Empty accepts any.
	AllowedOrigins []string
	// AllowGuests admits handshakes without a token.
	AllowGuests bool
}

// Handler upgrades HTTP requests to websocket connections and pumps frames
// between each connection and the Gateway.
type Handler struct {
	opts     Options
	gateway  Gateway
	resolver Resolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
	newID    func() string

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	wg      sync.WaitGroup
	quit    chan struct{}
	stopped bool
}

// NewHandler creates a Handler.
//
// Precondition: gateway and logger must be non-nil. resolver may be nil, in
// which case every handshake carrying a token is refused.
// Postcondition: Returns a Handler ready to serve upgrades.
func NewHandler(opts Options, gateway Gateway, resolver Resolver, logger *zap.Logger) *Handler {
	h := &Handler{
		opts:     opts,
		gateway:  gateway,
		resolver: resolver,
		logger:   logger,
		newID:    uuid.NewString,
		conns:    make(map[string]*websocket.Conn),
		quit:     make(chan struct{}),
	}
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			return origins[r.Header.Get("Origin")]
		},
	}
	return h
}

// ServeHTTP resolves the caller's identity, upgrades the connection, and
// starts its read and write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := h.newID()
	id, status, err := h.identify(r, connID)
	if err != nil {
		h.logger.Info("handshake refused",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", status),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	sess, err := h.gateway.Connect(connID, id)
	if err != nil {
		h.logger.Error("registering connection", zap.String("conn_id", connID), zap.Error(err))
		h.closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	if !h.track(connID, conn) {
		h.gateway.Disconnect(connID)
		h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-h.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	go h.writePump(conn, connID, sess.Entity.Events())
	go func() {
		defer cancel()
		h.readPump(ctx, conn, connID)
	}()
}

// identify resolves the handshake token from the "token" query parameter or
// cookie. No token yields a guest identity when guests are allowed.
func (h *Handler) identify(r *http.Request, connID string) (identity.Identity, int, error) {
	token := handshakeToken(r)
	if token == "" {
		if !h.opts.AllowGuests {
			return identity.Identity{}, http.StatusUnauthorized, errors.New("guest connections are disabled")
		}
		return identity.Guest(connID), 0, nil
	}
	if h.resolver == nil {
		return identity.Identity{}, http.StatusUnauthorized, errors.New("token login is disabled")
	}

	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()
	id, err := h.resolver.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrProfileNotFound) {
			return identity.Identity{}, http.StatusUnauthorized, err
		}
		return identity.Identity{}, http.StatusInternalServerError, err
	}
	return id, 0, nil
}

func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	c, err := r.Cookie(TokenCookie)
	if err != nil {
		return ""
	}
	if v, err := url.QueryUnescape(c.Value); err == nil {
		return v
	}
	return c.Value
}

// writePump is the only writer of data frames. It drains events until the
// session closes them, pinging the peer every PingInterval.
func (h *Handler) writePump(conn *websocket.Conn, connID string, events <-chan []byte) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.opts.WebSocket.PingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case msg, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WebSocket.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("write failed", zap.String("conn_id", connID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WebSocket.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("ping failed", zap.String("conn_id", connID), zap.Error(err))
				return
			}
		}
	}
}

// readPump feeds inbound frames to the Gateway one at a time. Any inbound
// traffic, including pongs, extends the read deadline. On exit the
// connection is run through the Gateway's disconnect path.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, connID string) {
	start := time.Now()
	defer h.wg.Done()
	defer h.untrack(connID)
	defer conn.Close()
	defer h.gateway.Disconnect(connID)

	pongTimeout := h.opts.WebSocket.PongTimeout
	conn.SetReadLimit(h.opts.WebSocket.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("connection ended",
					zap.String("conn_id", connID),
					zap.Error(err),
					zap.Duration("duration", time.Since(start)),
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		h.gateway.HandleMessage(ctx, connID, data)
	}
}

// track registers a live connection and reserves its two pump goroutines.
//
// Postcondition: Returns false once Stop has begun.
func (h *Handler) track(connID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.conns[connID] = conn
	h.wg.Add(2)
	return true
}

func (h *Handler) untrack(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(h.opts.WebSocket.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = conn.Close()
}

// ConnCount returns the number of live websocket connections.
func (h *Handler) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Start blocks until Stop is called. It lets the Handler take part in a
// server.Lifecycle alongside the HTTP listener that serves it.
func (h *Handler) Start() error {
	<-h.quit
	return nil
}

// Stop refuses new upgrades, sends a going-away close to every live
// connection, and waits for their pumps to exit or ctx to expire.
//
// Postcondition: Every connection has been through the Gateway's disconnect
// path, unless ctx expired first.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.quit)
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeWith(c, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("websocket connections closed", zap.Int("count", len(conns)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
