// Package clock abstracts the time operations used by the agent's timers so
// that reconnect and keep-alive scheduling can be driven deterministically in
// tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the agent schedules with.
type Clock interface {
	Now() time.Time

	// AfterFunc waits for d, then calls f in its own goroutine (real) or
	// synchronously inside Advance (fake).
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled callback.
type Timer struct {
	stop func() bool
}

// Stop prevents the Timer from firing. It reports whether the call stopped
// the timer before it fired.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

// FakeClock is a Clock whose time only moves when Advance is called.
// Callbacks run synchronously in the goroutine calling Advance, in deadline
// order, with no clock lock held, so they may schedule further timers.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := &waiter{deadline: c.current.Add(d), fn: f}
	c.waiters = append(c.waiters, w)

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// Advance moves the clock forward by d and runs every callback whose deadline
// is reached, including callbacks scheduled by other callbacks during the
// advance. The clock steps through deadlines in order, so a callback observes
// its own deadline as Now.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		w := c.next(target)
		if w == nil {
			break
		}
		w.fn()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// next marks the earliest waiter due by target as fired and moves the clock to
// its deadline. Waiters with equal deadlines fire in registration order.
func (c *FakeClock) next(target time.Time) *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live

	var due *waiter
	for _, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if due == nil || w.deadline.Before(due.deadline) {
			due = w
		}
	}
	if due == nil {
		return nil
	}

	due.fired = true
	if due.deadline.After(c.current) {
		c.current = due.deadline
	}
	return due
}
