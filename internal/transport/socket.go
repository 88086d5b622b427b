package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"harmony-agent/internal/codec"
	"harmony-agent/internal/protocol"
)

const (
	writeDeadline    = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second

	// SenderHeader names the agent instance during the handshake.
	SenderHeader = "X-Harmony-Sender"
	// Endpoint is the URL requested over the unix socket; only the path is
	// meaningful.
	Endpoint = "ws://harmony/ipc"
)

var (
	ErrClosed     = errors.New("transport closed")
	ErrServerRole = errors.New("socket transport only supports the client role")
)

// Socket is a websocket connection to the desktop app dialed over a unix
// domain socket. A Socket is single-use: once it reports disconnected or
// error it stays finished and a new instance must be built.
type Socket struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	started  bool
	closing  bool
	finished bool
	handlers map[uint64]Handler
	nextID   uint64
	readDone chan struct{}

	writeMu sync.Mutex
	queue   *notifyQueue
}

// NewSocket builds an unconnected Socket.
func NewSocket(opts Options, log zerolog.Logger) *Socket {
	if opts.Codec == nil {
		opts.Codec = codec.JSON{}
	}
	return &Socket{
		opts:     opts,
		log:      log.With().Str("component", "transport").Str("socket", opts.SocketPath).Logger(),
		handlers: make(map[uint64]Handler),
		readDone: make(chan struct{}),
	}
}

// SocketFactory adapts NewSocket to a Factory.
func SocketFactory(log zerolog.Logger) Factory {
	return func(opts Options) Transport {
		return NewSocket(opts, log)
	}
}

// Subscribe registers h for every subsequent notification.
func (s *Socket) Subscribe(h Handler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Connect dials the socket and performs the websocket handshake.
func (s *Socket) Connect(ctx context.Context) error {
	if s.opts.IsServer {
		return ErrServerRole
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil || s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.queue = newNotifyQueue(s.deliver)
	s.mu.Unlock()

	s.emit(Notification{Kind: KindState, State: StateConnecting})

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", s.opts.SocketPath)
		},
		HandshakeTimeout: handshakeTimeout,
	}

	header := http.Header{}
	header.Set(SenderHeader, s.opts.ID)

	conn, _, err := dialer.DialContext(ctx, Endpoint, header)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", s.opts.SocketPath, err)
		s.finish(StateError, err)
		close(s.readDone)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.log.Debug().Str("id", s.opts.ID).Msg("connected")
	s.emit(Notification{Kind: KindState, State: StateConnected})

	go s.readPump(conn)
	return nil
}

// Send writes msg as a single frame.
func (s *Socket) Send(ctx context.Context, msg *protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	data, err := s.opts.Codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	deadline := time.Now().Add(writeDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(s.opts.Codec.FrameType(), data); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}

// Disconnect closes the connection and waits, bounded by ctx, for the read
// pump to observe it.
func (s *Socket) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.closing = true
	started := s.started
	s.mu.Unlock()

	if !started {
		s.finish(StateDisconnected, nil)
		return nil
	}
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	s.writeMu.Unlock()

	err := conn.Close()

	select {
	case <-s.readDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close socket: %w", err)
	}
	return nil
}

// readPump reads frames until the connection fails or is closed.
func (s *Socket) readPump(conn *websocket.Conn) {
	defer close(s.readDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.conn = nil
			s.mu.Unlock()
			_ = conn.Close()

			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.finish(StateDisconnected, nil)
				return
			}
			s.log.Debug().Err(err).Msg("read failed")
			s.finish(StateError, fmt.Errorf("read: %w", err))
			return
		}

		msg, err := protocol.DecodeInbound(s.opts.Codec, data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping invalid frame")
			continue
		}
		s.emit(Notification{Kind: KindMessage, Message: msg})
	}
}

// finish emits the terminal notifications and retires the instance.
func (s *Socket) finish(state State, err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	q := s.queue
	s.mu.Unlock()

	if q == nil {
		return
	}
	if err != nil {
		q.push(Notification{Kind: KindError, Err: err})
	}
	q.push(Notification{Kind: KindState, State: state})
	q.close()
}

func (s *Socket) emit(n Notification) {
	s.mu.Lock()
	q := s.queue
	finished := s.finished
	s.mu.Unlock()

	if q != nil && !finished {
		q.push(n)
	}
}

func (s *Socket) deliver(n Notification) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}

// notifyQueue delivers notifications in order from a single goroutine.
// Pushing never blocks, so emitters are never held up by slow handlers.
type notifyQueue struct {
	mu      sync.Mutex
	items   []Notification
	closed  bool
	signal  chan struct{}
	deliver func(Notification)
}

func newNotifyQueue(deliver func(Notification)) *notifyQueue {
	q := &notifyQueue{
		signal:  make(chan struct{}, 1),
		deliver: deliver,
	}
	go q.run()
	return q
}

func (q *notifyQueue) push(n Notification) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, n)
	q.mu.Unlock()
	q.wake()
}

func (q *notifyQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *notifyQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *notifyQueue) run() {
	for range q.signal {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, n := range items {
			q.deliver(n)
		}
		if closed {
			q.mu.Lock()
			empty := len(q.items) == 0
			q.mu.Unlock()
			if empty {
				return
			}
		}
	}
}
