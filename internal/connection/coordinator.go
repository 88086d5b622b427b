// Package connection drives the lifecycle of the channel to the desktop app:
// connect, keep-alive, reconnect and teardown.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"harmony-agent/internal/clock"
	"harmony-agent/internal/codec"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/transport"
)

const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultPingInterval      = 5 * time.Second

	stateSubscriberBufCap = 16
)

var (
	ErrNotConnected         = errors.New("not connected")
	ErrEndpointInaccessible = errors.New("endpoint inaccessible")
	ErrShutdown             = errors.New("connection coordinator shut down")
)

// State is the published connection state.
type State = transport.State

// Options configure a Coordinator. Factory and SocketPath are required.
type Options struct {
	SocketPath string
	SenderID   string
	Codec      codec.Codec
	Factory    transport.Factory
	Clock      clock.Clock

	ReconnectInterval time.Duration
	PingInterval      time.Duration

	// OnMessage receives every inbound message other than test responses.
	OnMessage func(*protocol.Message)

	// CheckAccess verifies the endpoint can be read and written. Defaults to
	// an access(2) check.
	CheckAccess func(path string) error
}

// Coordinator owns the single live transport.
type Coordinator struct {
	opts      Options
	log       zerolog.Logger
	reconnect *repeater
	ping      *repeater

	mu          sync.Mutex
	current     transport.Transport
	unsubscribe func()
	state       State
	closed      bool
	probes      map[string]chan struct{}
	subs        map[string]chan State
}

// New creates a disconnected Coordinator.
func New(opts Options, log zerolog.Logger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON{}
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.CheckAccess == nil {
		opts.CheckAccess = checkAccess
	}

	c := &Coordinator{
		opts:   opts,
		log:    log.With().Str("component", "connection").Logger(),
		state:  transport.StateDisconnected,
		probes: make(map[string]chan struct{}),
		subs:   make(map[string]chan State),
	}
	c.reconnect = newRepeater(opts.Clock, opts.ReconnectInterval, c.retry)
	c.ping = newRepeater(opts.Clock, opts.PingInterval, c.sendPing)
	return c
}

func checkAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}

// Connect builds and connects a transport unless one is already live. A
// failure is returned to the caller and also schedules reconnect attempts.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}

	if err := c.opts.CheckAccess(c.opts.SocketPath); err != nil {
		c.mu.Unlock()
		c.setState(transport.StateError)
		c.startReconnect()
		return fmt.Errorf("%w: %s: %v", ErrEndpointInaccessible, c.opts.SocketPath, err)
	}

	t := c.opts.Factory(transport.Options{
		ID:         c.opts.SenderID,
		SocketPath: c.opts.SocketPath,
		IsServer:   false,
		Codec:      c.opts.Codec,
	})
	c.current = t
	// Subscribe only registers the handler; nothing is delivered before Connect.
	c.unsubscribe = t.Subscribe(func(n transport.Notification) { c.handle(t, n) })
	c.mu.Unlock()

	c.log.Debug().Str("socket", c.opts.SocketPath).Msg("connecting")

	if err := t.Connect(ctx); err != nil {
		if c.release(t) {
			c.setState(transport.StateError)
		}
		c.startReconnect()
		return fmt.Errorf("connect %s: %w", c.opts.SocketPath, err)
	}
	return nil
}

// Disconnect stops both timers and closes the live transport, if any.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.reconnect.Stop()
	c.ping.Stop()

	c.mu.Lock()
	t, unsub := c.current, c.unsubscribe
	c.current, c.unsubscribe = nil, nil
	c.mu.Unlock()

	c.setState(transport.StateDisconnected)

	if t == nil {
		return nil
	}
	if unsub != nil {
		unsub()
	}

	c.log.Debug().Msg("disconnecting")
	if err := t.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Shutdown disconnects and refuses every later Connect. The disconnect is
// best effort and bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.Disconnect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("disconnect during shutdown failed")
	}

	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
}

// Send forwards msg over the live transport.
func (c *Coordinator) Send(ctx context.Context, msg *protocol.Message) error {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	return t.Send(ctx, msg)
}

// Probe sends a test message and waits for its acknowledgement.
func (c *Coordinator) Probe(ctx context.Context) error {
	msg := protocol.NewTestMessage(c.opts.SenderID)
	ack := make(chan struct{})

	c.mu.Lock()
	c.probes[msg.CorrelationID] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.probes, msg.CorrelationID)
		c.mu.Unlock()
	}()

	if err := c.Send(ctx, msg); err != nil {
		return fmt.Errorf("send test probe: %w", err)
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await test response: %w", ctx.Err())
	}
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeState returns a channel that receives every state change. Slow
// subscribers miss changes rather than blocking the coordinator.
func (c *Coordinator) SubscribeState() (string, <-chan State) {
	id := uuid.NewString()
	ch := make(chan State, stateSubscriberBufCap)

	c.mu.Lock()
	if c.closed {
		close(ch)
	} else {
		c.subs[id] = ch
	}
	c.mu.Unlock()

	return id, ch
}

// UnsubscribeState removes a subscription and closes its channel.
func (c *Coordinator) UnsubscribeState(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == s {
		return
	}
	c.log.Info().Str("from", string(c.state)).Str("to", string(s)).Msg("connection state changed")
	c.state = s

	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (c *Coordinator) handle(t transport.Transport, n transport.Notification) {
	c.mu.Lock()
	current := c.current == t
	c.mu.Unlock()

	if !current {
		c.log.Trace().Str("kind", string(n.Kind)).Msg("ignoring notification from stale transport")
		return
	}

	switch n.Kind {
	case transport.KindMessage:
		c.handleMessage(n.Message)
	case transport.KindState:
		c.handleState(t, n.State)
	case transport.KindError:
		c.log.Error().Err(n.Err).Msg("transport error")
		c.lost(t, transport.StateError)
	default:
		c.log.Warn().Str("kind", string(n.Kind)).Msg("unknown notification kind")
	}
}

func (c *Coordinator) handleState(t transport.Transport, s State) {
	switch s {
	case transport.StateConnected:
		c.setState(s)
		c.reconnect.Stop()
		c.ping.Start()
	case transport.StateDisconnected, transport.StateError:
		c.lost(t, s)
	default:
		c.setState(s)
	}
}

func (c *Coordinator) handleMessage(msg *protocol.Message) {
	if msg == nil {
		return
	}

	if msg.Type == protocol.TypeTestResponse {
		id := protocol.AckCorrelation(msg)

		c.mu.Lock()
		ack, ok := c.probes[id]
		if ok {
			delete(c.probes, id)
		}
		c.mu.Unlock()

		if ok {
			close(ack)
		}
		c.log.Info().Str("correlation_id", id).Bool("pending", ok).Msg("test message acknowledged")
		return
	}

	c.log.Debug().Str("type", msg.Type).Str("correlation_id", msg.CorrelationID).Msg("message received")
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

// lost handles the end of transport t: keep-alive stops, t is released and
// reconnect attempts begin.
func (c *Coordinator) lost(t transport.Transport, s State) {
	if !c.release(t) {
		return
	}
	c.ping.Stop()
	c.setState(s)
	c.startReconnect()
}

// release clears t if it is still the live transport and reports whether it
// was.
func (c *Coordinator) release(t transport.Transport) bool {
	c.mu.Lock()
	if c.current != t {
		c.mu.Unlock()
		return false
	}
	unsub := c.unsubscribe
	c.current, c.unsubscribe = nil, nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	return true
}

func (c *Coordinator) startReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.reconnect.Start() {
		c.log.Debug().Dur("interval", c.opts.ReconnectInterval).Msg("reconnect scheduled")
	}
}

func (c *Coordinator) retry() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReconnectInterval)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		c.log.Debug().Err(err).Msg("reconnect attempt failed")
	}
}

func (c *Coordinator) sendPing() {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()

	if t == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PingInterval)
	defer cancel()

	if err := t.Send(ctx, protocol.NewPingMessage(c.opts.SenderID, c.opts.Clock.Now())); err != nil {
		c.log.Warn().Err(err).Msg("ping failed")
		c.lost(t, transport.StateDisconnected)
	}
}
