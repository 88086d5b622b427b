package connection

import (
	"sync"
	"time"

	"harmony-agent/internal/clock"
)

// repeater calls fn every interval until stopped. Only one schedule is ever
// pending; Start on a running repeater is a no-op.
type repeater struct {
	clock    clock.Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *clock.Timer
	running bool
	gen     uint64
}

func newRepeater(clk clock.Clock, interval time.Duration, fn func()) *repeater {
	return &repeater{clock: clk, interval: interval, fn: fn}
}

// Start schedules the first tick one interval from now. It reports whether
// the repeater was idle.
func (r *repeater) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}
	r.running = true
	r.gen++
	r.schedule(r.gen)
	return true
}

// Stop cancels the pending tick. A tick already running completes but does
// not reschedule.
func (r *repeater) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *repeater) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// schedule must be called with r.mu held.
func (r *repeater) schedule(gen uint64) {
	r.timer = r.clock.AfterFunc(r.interval, func() { r.tick(gen) })
}

func (r *repeater) tick(gen uint64) {
	r.mu.Lock()
	if !r.running || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.fn()

	r.mu.Lock()
	if r.running && gen == r.gen {
		r.schedule(gen)
	}
	r.mu.Unlock()
}
