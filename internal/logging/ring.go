package logging

import (
	"strings"
	"sync"
)

// DefaultRingCapacity is the number of recent log lines kept in memory.
const DefaultRingCapacity = 500

// Ring is a fixed-capacity circular buffer of log lines. It implements
// io.Writer so it can sit behind a zerolog writer.
type Ring struct {
	mu       sync.RWMutex
	buf      []string
	capacity int
	pos      int // next write position
	full     bool
	partial  string
}

// NewRing creates a ring holding at most capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		buf:      make([]string, capacity),
		capacity: capacity,
	}
}

// Write stores every complete line of p. A trailing fragment without a
// newline is held until the rest of the line arrives.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.partial + string(p)
	lines := strings.Split(data, "\n")
	r.partial = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		r.push(strings.TrimRight(line, "\r"))
	}
	return len(p), nil
}

func (r *Ring) push(line string) {
	r.buf[r.pos] = line
	r.pos = (r.pos + 1) % r.capacity
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns all stored lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		result := make([]string, r.pos)
		copy(result, r.buf[:r.pos])
		return result
	}

	result := make([]string, r.capacity)
	copy(result, r.buf[r.pos:])
	copy(result[r.capacity-r.pos:], r.buf[:r.pos])
	return result
}

// Tail returns up to the n most recent lines, oldest first. n <= 0 returns
// every line.
func (r *Ring) Tail(n int) []string {
	lines := r.Lines()
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}
