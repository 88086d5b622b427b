package events

import (
	"sync"
	"time"
)

// DefaultEditDebounce is the quiet period between accepted edit events.
const DefaultEditDebounce = time.Second

// Gate admits at most one notification per interval. Notifications arriving
// inside the window are rejected outright rather than deferred.
//
// Gate is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	accepted bool
}

// NewGate creates a gate with the given quiet interval.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// ShouldAccept reports whether a notification at now falls outside the
// window of the last accepted one.
func (g *Gate) ShouldAccept(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shouldAcceptLocked(now)
}

// RecordAccepted opens a new window starting at now.
func (g *Gate) RecordAccepted(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = now
	g.accepted = true
}

// Allow checks and records in one step.
func (g *Gate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.shouldAcceptLocked(now) {
		return false
	}
	g.last = now
	g.accepted = true
	return true
}

func (g *Gate) shouldAcceptLocked(now time.Time) bool {
	return !g.accepted || now.Sub(g.last) >= g.interval
}
