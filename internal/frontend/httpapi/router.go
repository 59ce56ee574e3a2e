// Package httpapi serves the plain HTTP surface of the room server: the
// account API, health and metrics endpoints, and the websocket upgrade route.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Config holds router settings.
type Config struct {
	// AllowedOrigins lists origins granted credentialed CORS access. Empty
	// reflects any origin.
	AllowedOrigins []string
	// TokenTTL is the lifetime of issued tokens and their cookie.
	TokenTTL time.Duration
	// SecureCookies marks the token cookie Secure.
	SecureCookies bool
}

// Deps are the collaborators mounted by the router. Accounts and Tokens may
// both be nil, in which case the account API is not mounted.
type Deps struct {
	Accounts  AccountStore
	Tokens    TokenService
	WebSocket http.Handler
	// Metrics returns named counters for /debug/metrics.
	Metrics func() map[string]int64
	// Health reports backing-store reachability for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter builds the server's HTTP handler.
//
// Precondition: deps.WebSocket and logger must be non-nil.
func NewRouter(cfg Config, deps Deps, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", deps.WebSocket)
	mux.HandleFunc("GET /healthz", healthHandler(deps.Health, logger))
	mux.HandleFunc("GET /debug/metrics", metricsHandler(deps.Metrics))

	if deps.Accounts != nil && deps.Tokens != nil {
		a := &authAPI{
			accounts: deps.Accounts,
			tokens:   deps.Tokens,
			ttl:      cfg.TokenTTL,
			secure:   cfg.SecureCookies,
			logger:   logger,
		}
		mux.HandleFunc("POST /api/auth/register", a.register)
		mux.HandleFunc("POST /api/auth/login", a.login)
		mux.HandleFunc("GET /api/auth/me", a.me)
		mux.HandleFunc("POST /api/auth/logout", a.logout)
	}
	return withCORS(cfg.AllowedOrigins, mux)
}

func healthHandler(check func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}
}

func metricsHandler(snapshot func() map[string]int64) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		counters := map[string]int64{}
		if snapshot != nil {
			counters = snapshot()
		}
		writeJSON(w, http.StatusOK, map[string]any{"metrics": counters})
	}
}

// withCORS grants credentialed cross-origin access to allowed origins and
// answers preflight requests.
func withCORS(allowed []string, next http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(origins) == 0 || origins[origin]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", "))
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
