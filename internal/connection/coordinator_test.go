package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-agent/internal/clock"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/transport"
	"harmony-agent/internal/transport/transporttest"
)

const testSocket = "/tmp/harmony-test.sock"

type harness struct {
	coord   *Coordinator
	clock   *clock.FakeClock
	factory *transporttest.Factory

	mu       sync.Mutex
	accessOK bool
	checks   int
	messages []*protocol.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    clock.Fake(time.Unix(1_700_000_000, 0)),
		factory:  &transporttest.Factory{},
		accessOK: true,
	}
	h.coord = New(Options{
		SocketPath: testSocket,
		SenderID:   "harmony-vscode-test",
		Factory:    h.factory.Build,
		Clock:      h.clock,
		OnMessage: func(m *protocol.Message) {
			h.mu.Lock()
			h.messages = append(h.messages, m)
			h.mu.Unlock()
		},
		CheckAccess: func(string) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.checks++
			if !h.accessOK {
				return errors.New("permission denied")
			}
			return nil
		},
	}, zerolog.Nop())
	return h
}

func (h *harness) setAccess(ok bool) {
	h.mu.Lock()
	h.accessOK = ok
	h.mu.Unlock()
}

func (h *harness) connected(t *testing.T) *transporttest.Transport {
	t.Helper()
	require.NoError(t, h.coord.Connect(context.Background()))
	require.Equal(t, transport.StateConnected, h.coord.State())
	return h.factory.Last()
}

func TestCoordinator_ConnectBuildsClientTransport(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	assert.Equal(t, transport.Options{
		ID:         "harmony-vscode-test",
		SocketPath: testSocket,
		IsServer:   false,
		Codec:      tr.Opts.Codec,
	}, tr.Opts)
	assert.NotNil(t, tr.Opts.Codec)
	assert.Equal(t, 1, tr.Subscribers())
	assert.True(t, h.coord.ping.Running())
	assert.False(t, h.coord.reconnect.Running())
}

func TestCoordinator_ConnectTwiceKeepsOneTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.coord.Connect(ctx))
	require.NoError(t, h.coord.Connect(ctx))

	assert.Len(t, h.factory.Instances(), 1)
	assert.Equal(t, 1, h.factory.Last().Connects())
	assert.Equal(t, 1, h.factory.Last().Subscribers())
}

func TestCoordinator_InaccessibleEndpointRetriesUntilAvailable(t *testing.T) {
	h := newHarness(t)
	h.setAccess(false)

	err := h.coord.Connect(context.Background())
	require.ErrorIs(t, err, ErrEndpointInaccessible)
	assert.Contains(t, err.Error(), testSocket)
	assert.Empty(t, h.factory.Instances())
	assert.True(t, h.coord.reconnect.Running())

	// Still inaccessible on the first two retries.
	h.clock.Advance(DefaultReconnectInterval)
	h.clock.Advance(DefaultReconnectInterval)
	assert.Empty(t, h.factory.Instances())
	assert.Equal(t, 3, h.checks)

	h.setAccess(true)
	h.clock.Advance(DefaultReconnectInterval)

	require.Len(t, h.factory.Instances(), 1)
	assert.Equal(t, transport.StateConnected, h.coord.State())
	assert.False(t, h.coord.reconnect.Running())

	// No further attempts once connected.
	h.clock.Advance(10 * DefaultReconnectInterval)
	assert.Len(t, h.factory.Instances(), 1)
	assert.Equal(t, 4, h.checks)
}

func TestCoordinator_ConnectFailureSchedulesReconnect(t *testing.T) {
	h := newHarness(t)
	connectErr := errors.New("connection refused")
	fail := true
	h.factory.Configure = func(tr *transporttest.Transport) {
		if fail {
			tr.FailConnect(connectErr)
		}
	}

	err := h.coord.Connect(context.Background())
	require.ErrorIs(t, err, connectErr)
	assert.Equal(t, transport.StateError, h.coord.State())
	assert.True(t, h.coord.reconnect.Running())
	assert.Equal(t, 0, h.factory.Last().Subscribers(), "failed transport is released")

	fail = false
	h.clock.Advance(DefaultReconnectInterval)

	assert.Len(t, h.factory.Instances(), 2)
	assert.Equal(t, transport.StateConnected, h.coord.State())
	assert.False(t, h.coord.reconnect.Running())
}

func TestCoordinator_ErrorStateStopsPingAndReconnects(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	tr.Emit(transport.Notification{Kind: transport.KindState, State: transport.StateError})

	assert.Equal(t, transport.StateError, h.coord.State())
	assert.False(t, h.coord.ping.Running())
	assert.True(t, h.coord.reconnect.Running())
	assert.Equal(t, 0, tr.Subscribers())
	assert.ErrorIs(t, h.coord.Send(context.Background(), protocol.NewTestMessage("x")), ErrNotConnected)

	// The reconnect fires within one interval and builds a fresh transport.
	h.clock.Advance(DefaultReconnectInterval)
	require.Len(t, h.factory.Instances(), 2)
	assert.NotSame(t, tr, h.factory.Last())
	assert.Equal(t, transport.StateConnected, h.coord.State())
}

func TestCoordinator_ErrorNotificationHandledAsLoss(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	tr.Emit(transport.Notification{Kind: transport.KindError, Err: errors.New("broken pipe")})

	assert.Equal(t, transport.StateError, h.coord.State())
	assert.False(t, h.coord.ping.Running())
	assert.True(t, h.coord.reconnect.Running())
}

func TestCoordinator_StaleTransportIgnored(t *testing.T) {
	h := newHarness(t)
	old := h.connected(t)

	old.Emit(transport.Notification{Kind: transport.KindState, State: transport.StateDisconnected})
	h.clock.Advance(DefaultReconnectInterval)
	require.Len(t, h.factory.Instances(), 2)

	// Subscribers were removed, so emit through the handler path directly.
	h.coord.handle(old, transport.Notification{Kind: transport.KindState, State: transport.StateError})

	assert.Equal(t, transport.StateConnected, h.coord.State())
	assert.True(t, h.coord.ping.Running())
}

func TestCoordinator_PingsWhileConnected(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	h.clock.Advance(3 * DefaultPingInterval)

	pings := tr.SentOfType(protocol.TypePing)
	require.Len(t, pings, 3)
	assert.Equal(t, "harmony-vscode-test", pings[0].SenderID)
	assert.NotEqual(t, pings[0].CorrelationID, pings[1].CorrelationID)
}

func TestCoordinator_PingFailureIsDisconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)
	tr.FailSend(errors.New("write: broken pipe"))

	h.clock.Advance(DefaultPingInterval)

	assert.Equal(t, transport.StateDisconnected, h.coord.State())
	assert.False(t, h.coord.ping.Running())
	assert.True(t, h.coord.reconnect.Running())

	h.clock.Advance(DefaultReconnectInterval)
	assert.Len(t, h.factory.Instances(), 2)
	assert.Equal(t, transport.StateConnected, h.coord.State())
}

func TestCoordinator_Disconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)
	ctx := context.Background()

	require.NoError(t, h.coord.Disconnect(ctx))

	assert.Equal(t, transport.StateDisconnected, h.coord.State())
	assert.Equal(t, 1, tr.Disconnects())
	assert.False(t, h.coord.ping.Running())
	assert.False(t, h.coord.reconnect.Running())

	// Idempotent.
	require.NoError(t, h.coord.Disconnect(ctx))
	assert.Equal(t, 1, tr.Disconnects())

	// No reconnect after an explicit disconnect.
	h.clock.Advance(10 * DefaultReconnectInterval)
	assert.Len(t, h.factory.Instances(), 1)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestCoordinator_DisconnectCancelsReconnect(t *testing.T) {
	h := newHarness(t)
	h.setAccess(false)

	require.Error(t, h.coord.Connect(context.Background()))
	require.True(t, h.coord.reconnect.Running())

	require.NoError(t, h.coord.Disconnect(context.Background()))
	h.setAccess(true)
	h.clock.Advance(10 * DefaultReconnectInterval)

	assert.Empty(t, h.factory.Instances())
	assert.Equal(t, transport.StateDisconnected, h.coord.State())
}

func TestCoordinator_Shutdown(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)
	_, states := h.coord.SubscribeState()

	h.coord.Shutdown(context.Background())

	assert.Equal(t, 1, tr.Disconnects())
	assert.Equal(t, 0, h.clock.Pending())
	assert.ErrorIs(t, h.coord.Connect(context.Background()), ErrShutdown)

	var got []State
	for s := range states {
		got = append(got, s)
	}
	assert.Equal(t, []State{transport.StateDisconnected}, got)
}

func TestCoordinator_StateSubscription(t *testing.T) {
	h := newHarness(t)
	id, states := h.coord.SubscribeState()

	tr := h.connected(t)
	tr.Emit(transport.Notification{Kind: transport.KindState, State: transport.StateDisconnected})

	assert.Equal(t, transport.StateConnecting, <-states)
	assert.Equal(t, transport.StateConnected, <-states)
	assert.Equal(t, transport.StateDisconnected, <-states)

	h.coord.UnsubscribeState(id)
	_, open := <-states
	assert.False(t, open)
	h.coord.UnsubscribeState(id)
}

func TestCoordinator_SendRequiresTransport(t *testing.T) {
	h := newHarness(t)
	msg := protocol.NewEventMessage("file", "create", nil, "harmony-vscode-test", h.clock.Now())

	assert.ErrorIs(t, h.coord.Send(context.Background(), msg), ErrNotConnected)

	tr := h.connected(t)
	require.NoError(t, h.coord.Send(context.Background(), msg))
	assert.Equal(t, []*protocol.Message{msg}, tr.Sent())
}

func TestCoordinator_ProbeAcknowledged(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- h.coord.Probe(ctx)
	}()

	var probe *protocol.Message
	require.Eventually(t, func() bool {
		sent := tr.SentOfType(protocol.TypeTest)
		if len(sent) == 0 {
			return false
		}
		probe = sent[0]
		return true
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, protocol.TestPayload{Value: "test"}, probe.Payload)

	tr.Emit(transport.Notification{Kind: transport.KindMessage, Message: &protocol.Message{
		Type:    protocol.TypeTestResponse,
		Payload: map[string]any{"correlationId": probe.CorrelationID},
	}})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("probe was not acknowledged")
	}
	assert.Empty(t, h.messages, "test responses are not forwarded")
}

func TestCoordinator_ProbeTimesOut(t *testing.T) {
	h := newHarness(t)
	h.connected(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.coord.Probe(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.coord.probes)
}

func TestCoordinator_ProbeNotConnected(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.coord.Probe(context.Background()), ErrNotConnected)
}

func TestCoordinator_ForwardsOtherMessages(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	msg := &protocol.Message{Type: "notice", Payload: "hello"}
	tr.Emit(transport.Notification{Kind: transport.KindMessage, Message: msg})

	assert.Equal(t, []*protocol.Message{msg}, h.messages)
}
