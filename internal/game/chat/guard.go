// Package chat validates, rate-limits, and sanitizes chat messages.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Defaults applied when a Guard is built with zero values.
const (
	DefaultCooldown  = 800 * time.Millisecond
	DefaultMaxLength = 120
)

var (
	// ErrInvalidLength is returned for empty or over-long messages.
	ErrInvalidLength = errors.New("invalid message length")
	// ErrRateLimited is returned when a connection sends within its cooldown.
	ErrRateLimited = errors.New("rate limit exceeded")
)

var htmlEscaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Sanitize escapes the five HTML-significant characters.
func Sanitize(text string) string {
	return htmlEscaper.Replace(text)
}

// Guard enforces message length and a per-connection cooldown.
// All methods are safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	last      map[string]time.Time
	cooldown  time.Duration
	maxLength int
	now       func() time.Time
}

// NewGuard creates a Guard.
//
// Postcondition: Non-positive cooldown or maxLength fall back to the defaults.
func NewGuard(cooldown time.Duration, maxLength int) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Guard{
		last:      make(map[string]time.Time),
		cooldown:  cooldown,
		maxLength: maxLength,
		now:       time.Now,
	}
}

// WithClock replaces the Guard's time source. Intended for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// Accept validates text for connID and, when accepted, records the send time
// and returns the sanitized text with the acceptance time. Length is counted
// in characters of the raw text.
//
// Postcondition: Returns ErrInvalidLength or ErrRateLimited on rejection;
// a rejected message does not restart the cooldown.
func (g *Guard) Accept(connID, text string) (string, time.Time, error) {
	n := utf8.RuneCountInString(text)
	if n < 1 || n > g.maxLength {
		return "", time.Time{}, fmt.Errorf("%d characters, want 1-%d: %w", n, g.maxLength, ErrInvalidLength)
	}

	g.mu.Lock()
	now := g.now()
	if last, ok := g.last[connID]; ok && now.Sub(last) < g.cooldown {
		g.mu.Unlock()
		return "", time.Time{}, ErrRateLimited
	}
	g.last[connID] = now
	g.mu.Unlock()

	return Sanitize(text), now, nil
}

// Forget drops the cooldown entry for connID. Call on disconnect.
func (g *Guard) Forget(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, connID)
}

// Tracked returns the number of connections with a cooldown entry.
func (g *Guard) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
