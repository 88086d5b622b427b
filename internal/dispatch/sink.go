// Package dispatch wraps normalized events in message envelopes and hands
// them to the connection. Delivery failures never reach the caller.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"harmony-agent/internal/clock"
	"harmony-agent/internal/events"
	"harmony-agent/internal/protocol"
)

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 5 * time.Second

// Sender delivers one message to the desktop app.
type Sender interface {
	Send(ctx context.Context, msg *protocol.Message) error
}

// Result describes the outcome of one delivery attempt.
type Result struct {
	CorrelationID string
	Type          events.Type
	Action        events.Action
	Duration      time.Duration
	Err           error
	Stack         []byte
}

// OK reports whether the delivery succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Sink implements events.Sink on top of a Sender.
type Sink struct {
	sender   Sender
	senderID string
	timeout  time.Duration
	clock    clock.Clock
	log      zerolog.Logger
}

var _ events.Sink = (*Sink)(nil)

// NewSink creates a Sink that stamps messages with senderID. A non-positive
// timeout leaves the caller's context as the only bound.
func NewSink(sender Sender, senderID string, timeout time.Duration, clk clock.Clock, log zerolog.Logger) *Sink {
	return &Sink{
		sender:   sender,
		senderID: senderID,
		timeout:  timeout,
		clock:    clk,
		log:      log,
	}
}

// Send delivers ev and waits for the attempt to finish. It never fails and
// never panics; failures are logged.
func (s *Sink) Send(ctx context.Context, ev events.Event) {
	res := s.deliver(ctx, ev)
	if res.OK() {
		s.log.Trace().
			Str("type", string(res.Type)).
			Str("action", string(res.Action)).
			Str("correlation_id", res.CorrelationID).
			Dur("duration", res.Duration).
			Msg("event sent")
		return
	}

	l := s.log.Error().
		Err(res.Err).
		Str("type", string(res.Type)).
		Str("action", string(res.Action)).
		Str("correlation_id", res.CorrelationID).
		Dur("duration", res.Duration)
	if len(res.Stack) > 0 {
		l = l.Bytes("stack", res.Stack)
	}
	l.Msg("failed to send event")
}

func (s *Sink) deliver(ctx context.Context, ev events.Event) (res Result) {
	start := s.clock.Now()
	msg := protocol.NewEventMessage(string(ev.Type), string(ev.Action), ev.Data, s.senderID, start)

	res = Result{
		CorrelationID: msg.CorrelationID,
		Type:          ev.Type,
		Action:        ev.Action,
	}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("sender panicked: %v", r)
			res.Stack = debug.Stack()
		}
		res.Duration = s.clock.Now().Sub(start)
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		res.Err = fmt.Errorf("send %s/%s: %w", ev.Type, ev.Action, err)
	}
	return res
}
