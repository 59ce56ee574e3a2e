// Package movement schedules the deferred walking-to-standing transition that
// follows an accepted move.
package movement

import (
	"sync"
	"time"
)

// Completion fires a callback once after a duration unless cancelled.
// It is safe for concurrent use.
type Completion struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// start arms the underlying timer. onFire runs on the timer goroutine.
//
// Precondition: start is called exactly once; onFire must not be nil.
func (c *Completion) start(d time.Duration, onFire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = time.AfterFunc(d, func() {
		if !c.Cancelled() {
			onFire()
		}
	})
}

// Cancel prevents the callback from firing. Safe to call multiple times.
//
// Postcondition: Cancelled reports true.
func (c *Completion) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Completion) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
