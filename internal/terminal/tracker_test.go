package terminal

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-agent/internal/events"
)

type fakeHandle struct {
	name     string
	pid      int
	hasPID   bool
	block    bool
	exitCode int
	exited   bool
	sendErr  error

	mu   sync.Mutex
	sent []string
}

func (h *fakeHandle) Name() string { return h.name }

func (h *fakeHandle) ProcessID(ctx context.Context) (int, bool) {
	if h.block {
		<-ctx.Done()
		return 0, false
	}
	return h.pid, h.hasPID
}

func (h *fakeHandle) ExitStatus() (int, bool) { return h.exitCode, h.exited }

func (h *fakeHandle) SendText(text string, addNewLine bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addNewLine {
		text += "\n"
	}
	h.sent = append(h.sent, text)
	return h.sendErr
}

func bash(pid int) *fakeHandle {
	return &fakeHandle{name: "bash", pid: pid, hasPID: true}
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Send(_ context.Context, ev events.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

func newTestTracker(timeout time.Duration) (*Tracker, *captureSink) {
	sink := &captureSink{}
	return NewTracker(sink, timeout, zerolog.New(io.Discard)), sink
}

func TestTracker_Open(t *testing.T) {
	tr, sink := newTestTracker(time.Second)
	h := bash(4242)

	tr.Open(context.Background(), h)

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, events.Terminal(events.ActionOpen, events.TerminalData{
		ID:   "4242",
		Name: "bash",
		Type: KindIntegrated,
	}), got[0])
	assert.Equal(t, events.Terminal(events.ActionShell, events.TerminalData{
		ID:        "4242",
		ShellType: ShellBash,
	}), got[1])

	rec, ok := tr.Get("4242")
	require.True(t, ok)
	assert.Equal(t, Record{ID: "4242", Name: "bash", Kind: KindIntegrated, ShellType: ShellBash}, rec)

	assert.Equal(t, []string{ProbeCommand + "\n"}, h.sent)
}

func TestTracker_OpenProbeFailureIsIgnored(t *testing.T) {
	tr, sink := newTestTracker(time.Second)
	h := bash(7)
	h.sendErr = errors.New("terminal disposed")

	tr.Open(context.Background(), h)

	assert.Len(t, sink.all(), 2)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_UnresolvedPIDFallsBackToUnknown(t *testing.T) {
	tr, sink := newTestTracker(20 * time.Millisecond)
	h := &fakeHandle{name: "zsh", block: true}

	tr.Open(context.Background(), h)

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, UnknownID, got[0].Data.(events.TerminalData).ID)
	_, ok := tr.Get(UnknownID)
	assert.True(t, ok)
}

func TestTracker_UnavailablePID(t *testing.T) {
	tr, sink := newTestTracker(time.Second)

	tr.Focus(context.Background(), &fakeHandle{name: "cmd"})

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, UnknownID, got[0].Data.(events.TerminalData).ID)
}

func TestTracker_Close(t *testing.T) {
	tr, sink := newTestTracker(time.Second)
	ctx := context.Background()
	h := bash(11)

	tr.Open(ctx, h)
	h.exitCode, h.exited = 2, true
	tr.Close(ctx, h)

	got := sink.all()
	require.Len(t, got, 3)
	closed := got[2]
	assert.Equal(t, events.ActionClose, closed.Action)
	data := closed.Data.(events.TerminalData)
	assert.Equal(t, "11", data.ID)
	require.NotNil(t, data.ExitCode)
	assert.Equal(t, 2, *data.ExitCode)

	assert.Equal(t, 0, tr.Len())
}

func TestTracker_CloseWithoutExitStatus(t *testing.T) {
	tr, sink := newTestTracker(time.Second)

	tr.Close(context.Background(), bash(12))

	got := sink.all()
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Data.(events.TerminalData).ExitCode)
}

func TestTracker_Focus(t *testing.T) {
	tr, sink := newTestTracker(time.Second)
	ctx := context.Background()

	tr.Focus(ctx, nil)
	assert.Empty(t, sink.all())

	tr.Focus(ctx, &fakeHandle{name: "pwsh powershell", pid: 9, hasPID: true})
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.Terminal(events.ActionFocus, events.TerminalData{
		ID:   "9",
		Name: "pwsh powershell",
	}), got[0])
}

func TestTracker_StateChanged(t *testing.T) {
	tr, sink := newTestTracker(time.Second)
	ctx := context.Background()
	h := bash(21)

	tr.StateChanged(ctx, h)
	assert.Empty(t, sink.all(), "untracked terminals are ignored")

	tr.Open(ctx, h)
	tr.CommandSubmitted(ctx, h, "  go test ./...\n")
	tr.StateChanged(ctx, h)

	got := sink.all()
	require.Len(t, got, 4)
	assert.Equal(t, events.Terminal(events.ActionState, events.TerminalData{
		ID:          "21",
		Name:        "bash",
		ShellType:   ShellBash,
		LastCommand: "go test ./...",
	}), got[3])
}

func TestTracker_CommandSubmitted(t *testing.T) {
	tr, sink := newTestTracker(time.Second)
	ctx := context.Background()
	h := bash(30)

	tr.CommandSubmitted(ctx, nil, "ls")
	tr.CommandSubmitted(ctx, h, "ls")
	assert.Empty(t, sink.all())

	tr.Open(ctx, h)
	tr.CommandSubmitted(ctx, h, "ls -la\r\n")

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, events.Terminal(events.ActionCommand, events.TerminalData{
		ID:      "30",
		Command: "ls -la",
	}), got[2])

	rec, _ := tr.Get("30")
	assert.Equal(t, "ls -la", rec.LastCommand)
}

func TestTracker_UnknownTerminalsShareRecord(t *testing.T) {
	tr, _ := newTestTracker(time.Second)
	ctx := context.Background()

	tr.Open(ctx, &fakeHandle{name: "bash"})
	tr.Open(ctx, &fakeHandle{name: "zsh"})

	assert.Equal(t, 1, tr.Len())
	rec, ok := tr.Get(UnknownID)
	require.True(t, ok)
	assert.Equal(t, "zsh", rec.Name)
}

func TestTracker_Clear(t *testing.T) {
	tr, _ := newTestTracker(time.Second)
	ctx := context.Background()

	tr.Open(ctx, bash(1))
	tr.Open(ctx, bash(2))
	require.Equal(t, 2, tr.Len())

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}
