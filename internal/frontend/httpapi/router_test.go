package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/plaza/internal/identity"
	"github.com/cory-johannsen/plaza/internal/storage/postgres"
)

type memAccount struct {
	acct    postgres.Account
	profile identity.Profile
	pass    string
}

// memAccounts is an in-memory AccountStore and identity.ProfileStore.
type memAccounts struct {
	mu     sync.Mutex
	byID   map[string]*memAccount
	nextID int
	failOn string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*memAccount)}
}

func (m *memAccounts) Create(_ context.Context, email, password, displayName string, avatar map[string]any) (postgres.Account, identity.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "create" {
		return postgres.Account{}, identity.Profile{}, errors.New("db down")
	}
	for _, a := range m.byID {
		if a.acct.Email == email {
			return postgres.Account{}, identity.Profile{}, postgres.ErrAccountExists
		}
		if a.profile.DisplayName == displayName {
			return postgres.Account{}, identity.Profile{}, postgres.ErrDisplayNameTaken
		}
	}
	if avatar == nil {
		avatar = identity.DefaultAvatar()
	}
	m.nextID++
	id := "user-" + string(rune('0'+m.nextID))
	a := &memAccount{
		acct:    postgres.Account{ID: id, Email: email, CreatedAt: time.Now()},
		profile: identity.Profile{UserID: id, DisplayName: displayName, Avatar: avatar},
		pass:    password,
	}
	m.byID[id] = a
	return a.acct, a.profile, nil
}

func (m *memAccounts) Authenticate(_ context.Context, email, password string) (postgres.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.acct.Email == email {
			if a.pass != password {
				return postgres.Account{}, postgres.ErrInvalidCredentials
			}
			return a.acct, nil
		}
	}
	return postgres.Account{}, postgres.ErrAccountNotFound
}

func (m *memAccounts) GetByID(_ context.Context, id string) (postgres.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return postgres.Account{}, postgres.ErrAccountNotFound
	}
	return a.acct, nil
}

func (m *memAccounts) ProfileByUserID(_ context.Context, userID string) (*identity.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[userID]
	if !ok {
		return nil, identity.ErrProfileNotFound
	}
	p := a.profile
	return &p, nil
}

type fixture struct {
	router   http.Handler
	accounts *memAccounts
	tokens   *identity.TokenResolver
}

func newFixture(t *testing.T, health func(context.Context) error) *fixture {
	t.Helper()
	accounts := newMemAccounts()
	tokens := identity.NewTokenResolver("test-secret", accounts)
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router := NewRouter(
		Config{AllowedOrigins: []string{"http://localhost:3000"}, TokenTTL: time.Hour},
		Deps{
			Accounts:  accounts,
			Tokens:    tokens,
			WebSocket: ws,
			Metrics:   func() map[string]int64 { return map[string]int64{"moves": 3} },
			Health:    health,
		},
		zaptest.NewLogger(t),
	)
	return &fixture{router: router, accounts: accounts, tokens: tokens}
}

func (f *fixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func tokenCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == TokenCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", TokenCookie)
	return nil
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestRegisterThenMe(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/auth/register",
		`{"email":"alice@example.com","password":"hunter22","displayName":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Equal(t, "Alice", resp.User.Profile.DisplayName)
	assert.Equal(t, "#4A90E2", resp.User.Profile.AvatarJSON["shirtColor"])

	cookie := tokenCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)

	id, err := f.tokens.Resolve(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, id.UserID, "the cookie token resolves to the new user")

	me := f.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, me.Code)
	var meResp userResponse
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &meResp))
	assert.Equal(t, resp, meResp)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		body string
		want string
	}{
		{`{"email":"a@example.com","password":"hunter22"}`, "Missing required fields"},
		{`{"email":"not-an-email","password":"hunter22","displayName":"A"}`, "Invalid email"},
		{`{"email":"a@example.com","password":"short","displayName":"A"}`, "Password must be at least 6 characters"},
		{`{"email":"a@example.com","password":"` + strings.Repeat("x", 73) + `","displayName":"A"}`, "Password must be at most 72 bytes"},
		{`{"email":"a@example.com","password":"hunter22","displayName":"` + strings.Repeat("n", 33) + `"}`, "Display name must be at most 32 characters"},
		{`not json`, "Invalid request body"},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodPost, "/api/auth/register", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.body)
		assert.Equal(t, tc.want, errorOf(t, rec), tc.body)
	}
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/auth/register",
		`{"email":"a@example.com","password":"hunter22","displayName":"Alice"}`).Code)

	rec := f.do(http.MethodPost, "/api/auth/register",
		`{"email":"a@example.com","password":"hunter22","displayName":"Other"}`)
	assert.Equal(t, "User already exists", errorOf(t, rec))

	rec = f.do(http.MethodPost, "/api/auth/register",
		`{"email":"b@example.com","password":"hunter22","displayName":"Alice"}`)
	assert.Equal(t, "Display name already taken", errorOf(t, rec))
}

func TestRegisterStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, nil)
	f.accounts.failOn = "create"
	rec := f.do(http.MethodPost, "/api/auth/register",
		`{"email":"a@example.com","password":"hunter22","displayName":"Alice"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/auth/register",
		`{"email":"a@example.com","password":"hunter22","displayName":"Alice"}`).Code)

	rec := f.do(http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"wrong!"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", errorOf(t, rec))

	rec = f.do(http.MethodPost, "/api/auth/login", `{"email":"nobody@example.com","password":"hunter22"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/login", `{"email":"a@example.com"}`)
	assert.Equal(t, "Missing email or password", errorOf(t, rec))

	rec = f.do(http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Alice", resp.User.Profile.DisplayName)
	assert.NotEmpty(t, tokenCookie(t, rec).Value)
}

func TestMeRejections(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", errorOf(t, rec))

	rec = f.do(http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: TokenCookie, Value: "garbage"})
	assert.Equal(t, "Invalid token", errorOf(t, rec))

	token, err := f.tokens.Issue("ghost", time.Hour)
	require.NoError(t, err)
	rec = f.do(http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: TokenCookie, Value: token})
	assert.Equal(t, "User not found", errorOf(t, rec))
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c := tokenCookie(t, rec)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	f = newFixture(t, func(context.Context) error { return errors.New("db unreachable") })
	rec = f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/debug/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Metrics map[string]int64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Metrics["moves"])
}

func TestWebSocketRouteIsMounted(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusTeapot, f.do(http.MethodGet, "/ws", "").Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAccountRoutesAbsentWithoutStore(t *testing.T) {
	router := NewRouter(Config{}, Deps{WebSocket: http.NotFoundHandler()}, zaptest.NewLogger(t))
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
