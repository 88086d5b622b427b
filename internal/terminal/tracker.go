package terminal

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"harmony-agent/internal/events"
)

// DefaultResolveTimeout bounds how long a notification waits for a terminal's
// process id before falling back to UnknownID.
const DefaultResolveTimeout = 5 * time.Second

// Tracker keeps one Record per open terminal and emits terminal events.
type Tracker struct {
	mu             sync.RWMutex
	records        map[string]*Record
	sink           events.Sink
	resolveTimeout time.Duration
	log            zerolog.Logger
}

// NewTracker creates an empty tracker. A non-positive resolveTimeout waits
// for process ids as long as the caller's context allows.
func NewTracker(sink events.Sink, resolveTimeout time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		records:        make(map[string]*Record),
		sink:           sink,
		resolveTimeout: resolveTimeout,
		log:            log,
	}
}

// resolveID waits for h's process id. Resolution that fails or outlives the
// timeout yields UnknownID.
func (t *Tracker) resolveID(ctx context.Context, h Handle) string {
	if t.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.resolveTimeout)
		defer cancel()
	}

	pid, ok := h.ProcessID(ctx)
	if !ok {
		t.log.Debug().Str("name", h.Name()).Msg("terminal process id unavailable")
		return UnknownID
	}
	return strconv.Itoa(pid)
}

// Open registers a newly opened terminal, reports it and its shell flavor,
// and types the shell probe into it.
func (t *Tracker) Open(ctx context.Context, h Handle) {
	id := t.resolveID(ctx, h)
	name := h.Name()

	t.mu.Lock()
	if _, exists := t.records[id]; exists {
		t.log.Debug().Str("id", id).Msg("replacing terminal record")
	}
	t.records[id] = &Record{ID: id, Name: name, Kind: KindIntegrated}
	t.mu.Unlock()

	t.log.Trace().Str("id", id).Msg("terminal opened")
	t.sink.Send(ctx, events.Terminal(events.ActionOpen, events.TerminalData{
		ID:   id,
		Name: name,
		Type: KindIntegrated,
	}))

	t.detectShell(ctx, id, name)

	if err := h.SendText(ProbeCommand, true); err != nil {
		t.log.Warn().Err(err).Str("id", id).Msg("shell probe failed")
	}
}

func (t *Tracker) detectShell(ctx context.Context, id, name string) {
	shell := DetectShell(name)

	t.mu.Lock()
	rec, ok := t.records[id]
	if ok {
		rec.ShellType = shell
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	t.log.Trace().Str("id", id).Str("shell", shell).Msg("terminal shell detected")
	t.sink.Send(ctx, events.Terminal(events.ActionShell, events.TerminalData{
		ID:        id,
		ShellType: shell,
	}))
}

// Close reports a terminal's exit and forgets its record.
func (t *Tracker) Close(ctx context.Context, h Handle) {
	id := t.resolveID(ctx, h)

	data := events.TerminalData{ID: id}
	if code, ok := h.ExitStatus(); ok {
		data.ExitCode = &code
	}

	t.log.Trace().Str("id", id).Msg("terminal closed")
	t.sink.Send(ctx, events.Terminal(events.ActionClose, data))

	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
}

// Focus reports that h became the active terminal. A nil handle means no
// terminal is active and is ignored.
func (t *Tracker) Focus(ctx context.Context, h Handle) {
	if h == nil {
		return
	}
	id := t.resolveID(ctx, h)

	t.log.Trace().Str("id", id).Msg("terminal focused")
	t.sink.Send(ctx, events.Terminal(events.ActionFocus, events.TerminalData{
		ID:   id,
		Name: h.Name(),
	}))
}

// StateChanged reports the recorded state of h. Terminals without a record,
// for instance ones already closed, are ignored.
func (t *Tracker) StateChanged(ctx context.Context, h Handle) {
	id := t.resolveID(ctx, h)

	rec, ok := t.Get(id)
	if !ok {
		t.log.Debug().Str("id", id).Msg("state change for untracked terminal")
		return
	}

	t.log.Trace().Str("id", id).Msg("terminal state changed")
	t.sink.Send(ctx, events.Terminal(events.ActionState, events.TerminalData{
		ID:          id,
		Name:        h.Name(),
		ShellType:   rec.ShellType,
		LastCommand: rec.LastCommand,
	}))
}

// CommandSubmitted records text as the last command of the active terminal.
// It does nothing when no terminal is active or the active one is untracked.
func (t *Tracker) CommandSubmitted(ctx context.Context, active Handle, text string) {
	if active == nil {
		return
	}
	id := t.resolveID(ctx, active)
	command := strings.TrimSpace(text)

	t.mu.Lock()
	rec, ok := t.records[id]
	if ok {
		rec.LastCommand = command
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	t.log.Trace().Str("id", id).Str("command", command).Msg("terminal command")
	t.sink.Send(ctx, events.Terminal(events.ActionCommand, events.TerminalData{
		ID:      id,
		Command: command,
	}))
}

// Get returns a copy of the record stored under id.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of tracked terminals.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Clear forgets every record.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.records = make(map[string]*Record)
	t.mu.Unlock()
}
