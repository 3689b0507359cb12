package logging

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle lets one event through per quiet window and counts the rest.
// It is safe for concurrent use.
type Throttle struct {
	mu         sync.Mutex
	window     time.Duration
	limiter    *rate.Limiter
	now        func() time.Time
	suppressed int
}

// NewThrottle creates a throttle with the given quiet window.
// A non-positive window lets every event through.
func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window:  window,
		limiter: newWindowLimiter(window),
		now:     time.Now,
	}
}

func newWindowLimiter(window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(window), 1)
}

// Allow reports whether an event may be logged now. When it may, it also
// returns how many events were suppressed since the last allowed one.
func (t *Throttle) Allow() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.limiter.AllowN(t.now(), 1) {
		t.suppressed++
		return false, 0
	}

	suppressed := t.suppressed
	t.suppressed = 0
	return true, suppressed
}

// Mark starts a new quiet window now without emitting, e.g. right after a
// louder message was logged for the same condition.
func (t *Throttle) Mark() {
	t.mu.Lock()
	t.limiter = newWindowLimiter(t.window)
	t.limiter.AllowN(t.now(), 1)
	t.suppressed = 0
	t.mu.Unlock()
}

// Reset forgets the last event so the next Allow succeeds.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.limiter = newWindowLimiter(t.window)
	t.suppressed = 0
	t.mu.Unlock()
}
