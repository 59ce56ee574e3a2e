// Package identity resolves who is behind a connection: an authenticated
// user looked up from a signed token, or an anonymous guest.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrProfileNotFound is returned when a verified user has no profile.
	ErrProfileNotFound = errors.New("profile not found")
)

// Identity is what the room core knows about the person behind a connection.
type Identity struct {
	// UserID is the stable identity id used as the participant id.
	UserID string
	// DisplayName is shown to other participants.
	DisplayName string
	// Avatar holds free-form appearance attributes.
	Avatar map[string]any
	// Guest is true for connections without a verified token.
	Guest bool
}

// DefaultAvatar returns the appearance given to guests.
func DefaultAvatar() map[string]any {
	return map[string]any{
		"skinTone":   "default",
		"hairStyle":  "default",
		"shirtColor": "#4A90E2",
		"pantsColor": "#2C3E50",
	}
}

// Guest builds the anonymous identity for a connection.
//
// Precondition: connID must be non-empty.
// Postcondition: UserID is "guest-<connID>" and DisplayName "Guest-" plus the
// first six characters of connID.
func Guest(connID string) Identity {
	short := connID
	if len(short) > 6 {
		short = short[:6]
	}
	return Identity{
		UserID:      "guest-" + connID,
		DisplayName: "Guest-" + short,
		Avatar:      DefaultAvatar(),
		Guest:       true,
	}
}

// Profile is a registered user's public profile.
type Profile struct {
	UserID      string
	DisplayName string
	Avatar      map[string]any
}

// ProfileStore looks up profiles by user id.
type ProfileStore interface {
	// ProfileByUserID returns ErrProfileNotFound when the user or profile is absent.
	ProfileByUserID(ctx context.Context, userID string) (*Profile, error)
}

// Claims are the token claims issued to users.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenResolver verifies HMAC-signed tokens and resolves them to identities.
type TokenResolver struct {
	secret   []byte
	profiles ProfileStore
}

// NewTokenResolver creates a TokenResolver.
//
// Precondition: secret must be non-empty; profiles must be non-nil.
func NewTokenResolver(secret string, profiles ProfileStore) *TokenResolver {
	return &TokenResolver{secret: []byte(secret), profiles: profiles}
}

// Resolve verifies token and loads the matching profile.
//
// Postcondition: Returns an authenticated Identity, or an error wrapping
// ErrInvalidToken or ErrProfileNotFound.
func (r *TokenResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing userId claim", ErrInvalidToken)
	}

	profile, err := r.profiles.ProfileByUserID(ctx, claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("loading profile for %q: %w", claims.UserID, err)
	}
	avatar := profile.Avatar
	if avatar == nil {
		avatar = DefaultAvatar()
	}
	return Identity{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		Avatar:      avatar,
	}, nil
}

// Issue signs a token for userID valid for ttl. A non-positive ttl yields a
// token without expiry.
func (r *TokenResolver) Issue(userID string, ttl time.Duration) (string, error) {
	claims := Claims{UserID: userID}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
