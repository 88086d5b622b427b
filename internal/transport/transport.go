// Package transport defines the contract of the local channel to the desktop
// app and a websocket-over-unix-socket implementation of it.
package transport

import (
	"context"

	"harmony-agent/internal/codec"
	"harmony-agent/internal/protocol"
)

// State is the health of a transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Kind distinguishes the notifications a transport delivers.
type Kind string

const (
	KindMessage Kind = "message"
	KindState   Kind = "state"
	KindError   Kind = "error"
)

// Notification is one item of a transport's subscription stream. Exactly one
// of Message, State or Err is meaningful, selected by Kind.
type Notification struct {
	Kind    Kind
	Message *protocol.Message
	State   State
	Err     error
}

// Handler receives notifications. A transport never calls a handler
// concurrently with itself and preserves emission order.
type Handler func(Notification)

// Transport is a single connection to the desktop app.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, msg *protocol.Message) error
	Subscribe(h Handler) (unsubscribe func())
}

// Options are the construction parameters of a transport.
type Options struct {
	ID         string
	SocketPath string
	IsServer   bool
	Codec      codec.Codec
}

// Factory builds a fresh transport instance.
type Factory func(Options) Transport
