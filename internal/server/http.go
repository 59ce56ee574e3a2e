package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// HTTPService runs an http.Server as a lifecycle Service.
type HTTPService struct {
	srv    *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewHTTPService wraps srv.
//
// Precondition: srv must be non-nil with Addr set; logger must be non-nil.
func NewHTTPService(srv *http.Server, logger *zap.Logger) *HTTPService {
	return &HTTPService{srv: srv, logger: logger, ready: make(chan struct{})}
}

// Start listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after a graceful Stop, or the listen/serve error.
func (h *HTTPService) Start() error {
	ln, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()
	close(h.ready)

	h.logger.Info("http listening", zap.String("addr", ln.Addr().String()))
	if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address once Start has begun listening.
// It blocks until then or until ctx is done.
func (h *HTTPService) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listener.Addr(), nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx expires. Hijacked websocket connections are not tracked by the
// server and must be closed by their owner.
func (h *HTTPService) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
