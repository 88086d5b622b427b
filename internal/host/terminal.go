package host

import (
	"context"
	"sync"
)

// hostTerminal is the bridge's terminal.Handle. The editor assigns each
// terminal a key; its process id arrives in a later terminal.pid line.
type hostTerminal struct {
	key    string
	name   string
	bridge *Bridge

	resolveOnce sync.Once
	resolved    chan struct{}
	pid         int
	hasPID      bool

	mu       sync.Mutex
	exitCode int
	exited   bool
}

func newHostTerminal(b *Bridge, key, name string) *hostTerminal {
	return &hostTerminal{
		key:      key,
		name:     name,
		bridge:   b,
		resolved: make(chan struct{}),
	}
}

func (t *hostTerminal) Name() string { return t.name }

func (t *hostTerminal) ProcessID(ctx context.Context) (int, bool) {
	select {
	case <-t.resolved:
		return t.pid, t.hasPID
	case <-ctx.Done():
		return 0, false
	}
}

func (t *hostTerminal) ExitStatus() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, t.exited
}

func (t *hostTerminal) SendText(text string, addNewLine bool) error {
	return t.bridge.emit(sendTextLine{
		Kind:       KindSendText,
		Terminal:   t.key,
		Text:       text,
		AddNewLine: addNewLine,
	})
}

// resolve settles the process id. Only the first call has an effect.
func (t *hostTerminal) resolve(pid int, ok bool) {
	t.resolveOnce.Do(func() {
		t.pid, t.hasPID = pid, ok
		close(t.resolved)
	})
}

func (t *hostTerminal) setExit(code int) {
	t.mu.Lock()
	t.exitCode, t.exited = code, true
	t.mu.Unlock()
}

// serial runs queued tasks one at a time in submission order. A goroutine is
// only alive while tasks are pending.
type serial struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (s *serial) do(wg *sync.WaitGroup, fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.running = false
				s.mu.Unlock()
				return
			}
			next := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			next()
		}
	}()
}
