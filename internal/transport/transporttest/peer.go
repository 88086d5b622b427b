package transporttest

import (
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"harmony-agent/internal/codec"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Unix socket peers have no origin.
	},
}

// Peer plays the desktop app: it accepts websocket connections on a unix
// socket, records every message it receives and answers test probes with a
// test_response carrying the probe's correlation id.
type Peer struct {
	Path string

	codec    codec.Codec
	listener net.Listener
	server   *http.Server

	mu       sync.Mutex
	received []*protocol.Message
	senders  []string
	conns    map[*websocket.Conn]bool
	silent   bool
}

// NewPeer listens on a fresh socket under t.TempDir and stops on cleanup.
func NewPeer(t testing.TB, c codec.Codec) *Peer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "harmony.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on %s: %v", path, err)
	}

	p := &Peer{
		Path:     path,
		codec:    c,
		listener: ln,
		conns:    make(map[*websocket.Conn]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ipc", p.handleWebSocket)
	p.server = &http.Server{Handler: mux}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("peer serve: %v", err)
		}
	}()
	t.Cleanup(p.Close)
	return p
}

// Silence stops the peer from answering probes.
func (p *Peer) Silence() {
	p.mu.Lock()
	p.silent = true
	p.mu.Unlock()
}

func (p *Peer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.conns[conn] = true
	p.senders = append(p.senders, r.Header.Get(transport.SenderHeader))
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg protocol.Message
		if err := p.codec.Unmarshal(data, &msg); err != nil {
			continue
		}

		p.mu.Lock()
		p.received = append(p.received, &msg)
		silent := p.silent
		p.mu.Unlock()

		if msg.Type == protocol.TypeTest && !silent {
			ack := protocol.NewMessage(protocol.TypeTestResponse,
				map[string]any{"correlationId": msg.CorrelationID}, "harmony-desktop")
			out, err := p.codec.Marshal(ack)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(p.codec.FrameType(), out); err != nil {
				return
			}
		}
	}
}

// Received returns the messages received so far.
func (p *Peer) Received() []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*protocol.Message(nil), p.received...)
}

// ReceivedOfType filters Received by message type.
func (p *Peer) ReceivedOfType(msgType string) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range p.Received() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// Senders returns the sender ids announced during handshakes.
func (p *Peer) Senders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.senders...)
}

// Connections returns the number of open connections.
func (p *Peer) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// DropConnections closes every connection without a close handshake.
func (p *Peer) DropConnections() {
	p.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.NetConn().Close()
	}
}

// Close stops the server and closes all connections.
func (p *Peer) Close() {
	p.DropConnections()
	_ = p.server.Close()
}
