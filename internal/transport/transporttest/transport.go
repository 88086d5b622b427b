// Package transporttest provides an in-memory transport and a websocket peer
// that stands in for the desktop app.
package transporttest

import (
	"context"
	"sync"

	"harmony-agent/internal/protocol"
	"harmony-agent/internal/transport"
)

// Transport is an in-memory transport.Transport. Notifications are delivered
// synchronously on the goroutine that triggers them.
type Transport struct {
	Opts transport.Options

	mu          sync.Mutex
	handlers    map[int]transport.Handler
	nextID      int
	connectErr  error
	sendErr     error
	autoConnect bool
	sent        []*protocol.Message
	connects    int
	disconnects int
}

// New returns a Transport that reports connected as soon as Connect is called.
func New(opts transport.Options) *Transport {
	return &Transport{
		Opts:        opts,
		handlers:    make(map[int]transport.Handler),
		autoConnect: true,
	}
}

// FailConnect makes subsequent Connect calls return err.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// FailSend makes subsequent Send calls return err.
func (t *Transport) FailSend(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// ManualState stops Connect from emitting the connected state itself.
func (t *Transport) ManualState() {
	t.mu.Lock()
	t.autoConnect = false
	t.mu.Unlock()
}

func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	t.connects++
	err := t.connectErr
	auto := t.autoConnect
	t.mu.Unlock()

	if err != nil {
		return err
	}
	t.Emit(transport.Notification{Kind: transport.KindState, State: transport.StateConnecting})
	if auto {
		t.Emit(transport.Notification{Kind: transport.KindState, State: transport.StateConnected})
	}
	return nil
}

func (t *Transport) Disconnect(_ context.Context) error {
	t.mu.Lock()
	t.disconnects++
	t.mu.Unlock()

	t.Emit(transport.Notification{Kind: transport.KindState, State: transport.StateDisconnected})
	return nil
}

func (t *Transport) Send(_ context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *Transport) Subscribe(h transport.Handler) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}
}

// Emit delivers n to every current subscriber.
func (t *Transport) Emit(n transport.Notification) {
	t.mu.Lock()
	handlers := make([]transport.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}

// Sent returns the messages accepted by Send.
func (t *Transport) Sent() []*protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*protocol.Message(nil), t.sent...)
}

// SentOfType returns the sent messages with the given type.
func (t *Transport) SentOfType(msgType string) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range t.Sent() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// Subscribers reports how many handlers are registered.
func (t *Transport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Factory records every Transport it builds.
type Factory struct {
	// Configure, when set, runs on each new instance before it is returned.
	Configure func(*Transport)

	mu        sync.Mutex
	instances []*Transport
}

// Build implements transport.Factory.
func (f *Factory) Build(opts transport.Options) transport.Transport {
	t := New(opts)
	if f.Configure != nil {
		f.Configure(t)
	}
	f.mu.Lock()
	f.instances = append(f.instances, t)
	f.mu.Unlock()
	return t
}

// Instances returns the transports built so far, oldest first.
func (f *Factory) Instances() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.instances...)
}

// Last returns the most recently built transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}
