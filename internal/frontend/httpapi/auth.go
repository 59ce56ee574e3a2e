package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/identity"
	"github.com/cory-johannsen/plaza/internal/storage/postgres"
)

// TokenCookie carries the session token; the websocket handshake reads the same cookie.
const TokenCookie = "token"

const (
	minPasswordLength    = 6
	maxPasswordBytes     = 72
	maxDisplayNameLength = 32
	maxBodyBytes         = 4096
)

// AccountStore defines the account persistence operations required by the account API.
type AccountStore interface {
	Create(ctx context.Context, email, password, displayName string, avatar map[string]any) (postgres.Account, identity.Profile, error)
	Authenticate(ctx context.Context, email, password string) (postgres.Account, error)
	GetByID(ctx context.Context, id string) (postgres.Account, error)
	ProfileByUserID(ctx context.Context, userID string) (*identity.Profile, error)
}

// TokenService issues and resolves session tokens.
type TokenService interface {
	Issue(userID string, ttl time.Duration) (string, error)
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

type authAPI struct {
	accounts AccountStore
	tokens   TokenService
	ttl      time.Duration
	secure   bool
	logger   *zap.Logger
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type profileBody struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	AvatarJSON  map[string]any `json:"avatarJson"`
}

type userBody struct {
	ID      string      `json:"id"`
	Email   string      `json:"email"`
	Profile profileBody `json:"profile"`
}

type userResponse struct {
	User userBody `json:"user"`
}

func newUserResponse(acct postgres.Account, displayName string, avatar map[string]any) userResponse {
	return userResponse{User: userBody{
		ID:    acct.ID,
		Email: acct.Email,
		Profile: profileBody{
			ID:          acct.ID,
			DisplayName: displayName,
			AvatarJSON:  avatar,
		},
	}}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&c); err != nil {
		return credentials{}, err
	}
	return c, nil
}

func (a *authAPI) register(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if c.Email == "" || c.Password == "" || c.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email")
		return
	}
	if utf8.RuneCountInString(c.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	if len(c.Password) > maxPasswordBytes {
		writeError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
		return
	}
	if utf8.RuneCountInString(c.DisplayName) > maxDisplayNameLength {
		writeError(w, http.StatusBadRequest, "Display name must be at most 32 characters")
		return
	}

	acct, profile, err := a.accounts.Create(r.Context(), c.Email, c.Password, c.DisplayName, nil)
	switch {
	case errors.Is(err, postgres.ErrAccountExists):
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	case errors.Is(err, postgres.ErrDisplayNameTaken):
		writeError(w, http.StatusBadRequest, "Display name already taken")
		return
	case err != nil:
		a.logger.Error("registering account", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if !a.setToken(w, acct.ID) {
		return
	}
	a.logger.Info("account registered", zap.String("user_id", acct.ID))
	writeJSON(w, http.StatusOK, newUserResponse(acct, profile.DisplayName, profile.Avatar))
}

func (a *authAPI) login(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if c.Email == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing email or password")
		return
	}

	acct, err := a.accounts.Authenticate(r.Context(), c.Email, c.Password)
	if errors.Is(err, postgres.ErrAccountNotFound) || errors.Is(err, postgres.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		a.logger.Error("authenticating account", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	profile, err := a.accounts.ProfileByUserID(r.Context(), acct.ID)
	if err != nil {
		a.logger.Error("loading profile", zap.String("user_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if !a.setToken(w, acct.ID) {
		return
	}
	a.logger.Info("account logged in", zap.String("user_id", acct.ID))
	writeJSON(w, http.StatusOK, newUserResponse(acct, profile.DisplayName, profile.Avatar))
}

func (a *authAPI) me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(TokenCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id, err := a.tokens.Resolve(r.Context(), cookie.Value)
	switch {
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	case errors.Is(err, identity.ErrProfileNotFound):
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	case err != nil:
		a.logger.Error("resolving token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	acct, err := a.accounts.GetByID(r.Context(), id.UserID)
	if errors.Is(err, postgres.ErrAccountNotFound) {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	if err != nil {
		a.logger.Error("loading account", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(acct, id.DisplayName, id.Avatar))
}

func (a *authAPI) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// setToken issues a token for userID and sets it as an HttpOnly cookie.
//
// Postcondition: Returns false after writing an error response if signing failed.
func (a *authAPI) setToken(w http.ResponseWriter, userID string) bool {
	token, err := a.tokens.Issue(userID, a.ttl)
	if err != nil {
		a.logger.Error("issuing token", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.ttl / time.Second),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}
