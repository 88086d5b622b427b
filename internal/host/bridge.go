// Package host bridges the editor plugin and the agent. The plugin writes
// newline-delimited JSON notifications to the agent's stdin and reads
// requests and notifications from its stdout.
package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"harmony-agent/internal/connection"
	"harmony-agent/internal/events"
	"harmony-agent/internal/logging"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/terminal"
	"harmony-agent/internal/transport"
)

const (
	maxLineSize           = 1024 * 1024
	DefaultCommandTimeout = 10 * time.Second
)

// Terminals receives terminal lifecycle notifications. terminal.Tracker
// implements it.
type Terminals interface {
	Open(ctx context.Context, h terminal.Handle)
	Close(ctx context.Context, h terminal.Handle)
	Focus(ctx context.Context, h terminal.Handle)
	StateChanged(ctx context.Context, h terminal.Handle)
	CommandSubmitted(ctx context.Context, active terminal.Handle, text string)
}

// Editor receives editor and debug notifications. events.Normalizer
// implements it.
type Editor interface {
	EditorFocused(ctx context.Context, editor *events.Editor)
	DocumentChanged(ctx context.Context, file string, changes int)
	DebugStarted(ctx context.Context, name, debugType string)
	DebugStopped(ctx context.Context, name, debugType string)
}

// Controller is the connection surface the commands act on.
// connection.Coordinator implements it.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Probe(ctx context.Context) error
	State() connection.State
	SubscribeState() (string, <-chan connection.State)
	UnsubscribeState(id string)
}

type Options struct {
	In         io.Reader
	Out        io.Writer
	Terminals  Terminals
	Editor     Editor
	Controller Controller
	// Ring backs the showLog command. Nil reports no lines.
	Ring           *logging.Ring
	CommandTimeout time.Duration
}

// Bridge routes host notifications to the agent's components and writes
// their requests back to the host.
type Bridge struct {
	in             io.Reader
	terminals      Terminals
	editor         Editor
	ctrl           Controller
	ring           *logging.Ring
	commandTimeout time.Duration
	log            zerolog.Logger

	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	handles   map[string]*hostTerminal
	queues    map[string]*serial
	active    string
	editorQ   serial
	commandsQ serial
	wg        sync.WaitGroup
}

func New(opts Options, log zerolog.Logger) *Bridge {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Bridge{
		in:             opts.In,
		out:            opts.Out,
		terminals:      opts.Terminals,
		editor:         opts.Editor,
		ctrl:           opts.Controller,
		ring:           opts.Ring,
		commandTimeout: opts.CommandTimeout,
		log:            log.With().Str("component", "host").Logger(),
		handles:        make(map[string]*hostTerminal),
		queues:         make(map[string]*serial),
	}
}

// Run reads host notifications until the input ends or ctx is done, then
// waits for queued work to finish. Connection state changes are forwarded to
// the host as status lines while Run is active.
func (b *Bridge) Run(ctx context.Context) error {
	subID, states := b.ctrl.SubscribeState()
	defer b.ctrl.UnsubscribeState(subID)

	b.status(b.ctrl.State())
	go func() {
		for s := range states {
			b.status(s)
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(b.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.closeInput()
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read host input: %w", err)
					}
				default:
				}
				b.log.Debug().Msg("host input closed")
				return nil
			}
			b.dispatch(ctx, line)
		}
	}
}

// closeInput unblocks the reader goroutine when the input can be closed.
// Otherwise the goroutine stays parked in Scan until the process exits.
func (b *Bridge) closeInput() {
	c, ok := b.in.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		b.log.Debug().Err(err).Msg("close host input")
	}
}

// Received reports an inbound message from the desktop app to the user.
func (b *Bridge) Received(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to encode received message")
		return
	}
	b.notify(LevelInfo, "Received: "+string(data))
}

func (b *Bridge) dispatch(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if !gjson.ValidBytes(line) {
		b.log.Warn().Bytes("line", line).Msg("malformed host line")
		return
	}

	get := func(path string) gjson.Result { return gjson.GetBytes(line, path) }
	kind := get("kind").String()
	b.log.Trace().Str("kind", kind).Msg("host notification")

	switch kind {
	case KindTerminalOpen:
		b.terminalOpened(ctx, get("terminal").String(), get("name").String())
	case KindTerminalPID:
		b.terminalPID(get("terminal").String(), get("pid"))
	case KindTerminalClose:
		b.terminalClosed(ctx, get("terminal").String(), get("exitCode"))
	case KindTerminalActive:
		b.terminalActivated(ctx, get("terminal").String())
	case KindTerminalState:
		b.terminalStateChanged(ctx, get("terminal").String())
	case KindTerminalSendSequence:
		b.sequenceSent(ctx, get("text").String())

	case KindEditorActive:
		var editor *events.Editor
		if file := get("file").String(); file != "" {
			editor = &events.Editor{File: file, LanguageID: get("languageId").String()}
		}
		b.editorQ.do(&b.wg, func() { b.editor.EditorFocused(ctx, editor) })
	case KindDocumentChange:
		file, changes := get("file").String(), int(get("changes").Int())
		b.editorQ.do(&b.wg, func() { b.editor.DocumentChanged(ctx, file, changes) })
	case KindDebugStart:
		name, debugType := get("name").String(), get("type").String()
		b.editorQ.do(&b.wg, func() { b.editor.DebugStarted(ctx, name, debugType) })
	case KindDebugStop:
		name, debugType := get("name").String(), get("type").String()
		b.editorQ.do(&b.wg, func() { b.editor.DebugStopped(ctx, name, debugType) })

	case KindCommand:
		name := get("name").String()
		b.commandsQ.do(&b.wg, func() { b.runCommand(ctx, name) })

	default:
		b.log.Warn().Str("kind", kind).Msg("unknown host notification")
	}
}

func (b *Bridge) terminalOpened(ctx context.Context, key, name string) {
	if key == "" {
		b.log.Warn().Str("name", name).Msg("terminal.open without terminal key")
		return
	}

	t := newHostTerminal(b, key, name)
	b.mu.Lock()
	b.handles[key] = t
	b.mu.Unlock()

	b.enqueue(key, func() { b.terminals.Open(ctx, t) })
}

func (b *Bridge) terminalPID(key string, pid gjson.Result) {
	t := b.handle(key)
	if t == nil {
		b.log.Debug().Str("terminal", key).Msg("pid for unknown terminal")
		return
	}
	n := int(pid.Int())
	t.resolve(n, pid.Exists() && n > 0)
}

func (b *Bridge) terminalClosed(ctx context.Context, key string, exitCode gjson.Result) {
	t := b.handle(key)
	if t == nil {
		b.log.Debug().Str("terminal", key).Msg("close for unknown terminal")
		return
	}

	if exitCode.Exists() && exitCode.Type == gjson.Number {
		t.setExit(int(exitCode.Int()))
	}
	// A pid that has not arrived by now never will.
	t.resolve(0, false)

	b.enqueue(key, func() { b.terminals.Close(ctx, t) })

	b.mu.Lock()
	delete(b.handles, key)
	delete(b.queues, key)
	if b.active == key {
		b.active = ""
	}
	b.mu.Unlock()
}

func (b *Bridge) terminalActivated(ctx context.Context, key string) {
	t := b.handle(key)

	b.mu.Lock()
	if t == nil {
		b.active = ""
	} else {
		b.active = key
	}
	b.mu.Unlock()

	if t == nil {
		return
	}
	b.enqueue(key, func() { b.terminals.Focus(ctx, t) })
}

func (b *Bridge) terminalStateChanged(ctx context.Context, key string) {
	t := b.handle(key)
	if t == nil {
		b.log.Debug().Str("terminal", key).Msg("state change for unknown terminal")
		return
	}
	b.enqueue(key, func() { b.terminals.StateChanged(ctx, t) })
}

func (b *Bridge) sequenceSent(ctx context.Context, text string) {
	b.mu.Lock()
	key := b.active
	t := b.handles[key]
	b.mu.Unlock()

	if t == nil {
		b.log.Trace().Msg("sequence sent with no active terminal")
		return
	}
	b.enqueue(key, func() { b.terminals.CommandSubmitted(ctx, t, text) })
}

func (b *Bridge) handle(key string) *hostTerminal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles[key]
}

// enqueue runs fn after all earlier work for the same terminal.
func (b *Bridge) enqueue(key string, fn func()) {
	b.mu.Lock()
	q, ok := b.queues[key]
	if !ok {
		q = &serial{}
		b.queues[key] = q
	}
	b.mu.Unlock()

	q.do(&b.wg, fn)
}

func (b *Bridge) runCommand(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(ctx, b.commandTimeout)
	defer cancel()

	b.log.Debug().Str("command", name).Msg("running command")

	switch name {
	case CommandConnect:
		switch b.ctrl.State() {
		case transport.StateConnected:
			b.notify(LevelInfo, "Already connected to Harmony")
			return
		case transport.StateConnecting:
			b.notify(LevelInfo, "Already connecting to Harmony")
			return
		}
		if err := b.ctrl.Connect(ctx); err != nil {
			b.notify(LevelError, "Failed to connect: "+err.Error())
			return
		}
		if b.ctrl.State() == transport.StateConnected {
			b.notify(LevelInfo, "Connected to Harmony")
		} else {
			b.notify(LevelInfo, "Connecting to Harmony")
		}

	case CommandDisconnect:
		// Disconnect runs even when no link is up so that pending reconnect
		// attempts stop.
		prior := b.ctrl.State()
		if err := b.ctrl.Disconnect(ctx); err != nil {
			b.notify(LevelError, "Failed to disconnect: "+err.Error())
			return
		}
		if prior == transport.StateConnected || prior == transport.StateConnecting {
			b.notify(LevelInfo, "Disconnected from Harmony")
		} else {
			b.notify(LevelInfo, "Not connected to Harmony")
		}

	case CommandTest:
		if b.ctrl.State() != transport.StateConnected {
			b.notify(LevelError, "Not connected to Harmony")
			return
		}
		if err := b.ctrl.Probe(ctx); err != nil {
			b.notify(LevelError, "Test failed: "+err.Error())
			return
		}
		b.notify(LevelInfo, "Test message acknowledged")

	case CommandShowLog:
		lines := []string{}
		if b.ring != nil {
			lines = b.ring.Lines()
		}
		if err := b.emit(logLine{Kind: KindLog, Lines: lines}); err != nil {
			b.log.Warn().Err(err).Msg("failed to write log lines")
		}

	default:
		b.notify(LevelWarning, fmt.Sprintf("Unknown command %q", name))
	}
}

func (b *Bridge) notify(level, message string) {
	if err := b.emit(notifyLine{Kind: KindNotify, Level: level, Message: message}); err != nil {
		b.log.Warn().Err(err).Str("message", message).Msg("failed to notify host")
	}
}

func (b *Bridge) status(s connection.State) {
	if err := b.emit(statusLine{Kind: KindStatus, State: string(s)}); err != nil {
		b.log.Warn().Err(err).Msg("failed to write status")
	}
}

// emit writes v as one JSON line.
func (b *Bridge) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	b.outMu.Lock()
	defer b.outMu.Unlock()

	_, err = b.out.Write(data)
	return err
}
