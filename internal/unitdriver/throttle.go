package unitdriver

import (
	"sync"

	"golang.org/x/time/rate"
)

// RestartThrottle bounds restart attempts per app-id to the healthcheck
// burst policy of spec §4.5.1: a burst of at most 5 restarts, refilled
// continuously at burst/window tokens per second (one every 60s with
// the defaults). Reset restores the full burst at once.
type RestartThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	burst    int
	window   float64 // seconds per token refill
}

// NewRestartThrottle constructs a throttle with the given burst size
// and reset window in seconds (spec defaults: burst=5, window=300s).
func NewRestartThrottle(burst int, windowSeconds float64) *RestartThrottle {
	return &RestartThrottle{
		limiters: make(map[string]*rate.Limiter),
		burst:    burst,
		window:   windowSeconds,
	}
}

// Allow reports whether a restart of appID is permitted right now,
// consuming one token if so.
func (t *RestartThrottle) Allow(appID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[appID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(t.burst)/t.window), t.burst)
		t.limiters[appID] = lim
	}
	return lim.Allow()
}

// Reset clears the throttle state for appID, restoring a full burst.
func (t *RestartThrottle) Reset(appID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, appID)
}
