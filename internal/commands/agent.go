package commands

import (
	"github.com/rs/zerolog"

	"harmony-agent/internal/clock"
	"harmony-agent/internal/codec"
	"harmony-agent/internal/config"
	"harmony-agent/internal/connection"
	"harmony-agent/internal/dispatch"
	"harmony-agent/internal/events"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/terminal"
	"harmony-agent/internal/transport"
)

// agent holds the components shared by every command that talks to the
// desktop app.
type agent struct {
	coord      *connection.Coordinator
	normalizer *events.Normalizer
	tracker    *terminal.Tracker
}

type agentDeps struct {
	factory   transport.Factory
	clock     clock.Clock
	onMessage func(*protocol.Message)
}

func newAgent(cfg *config.Config, log zerolog.Logger, deps agentDeps) (*agent, error) {
	cdc, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if deps.clock == nil {
		deps.clock = clock.Real()
	}
	if deps.factory == nil {
		deps.factory = transport.SocketFactory(log)
	}

	coord := connection.New(connection.Options{
		SocketPath:        cfg.SocketPath,
		SenderID:          cfg.SenderID(),
		Codec:             cdc,
		Factory:           deps.factory,
		Clock:             deps.clock,
		ReconnectInterval: cfg.ReconnectInterval,
		PingInterval:      cfg.PingInterval,
		OnMessage:         deps.onMessage,
	}, log)

	sink := dispatch.NewSink(coord, cfg.SenderID(), cfg.SendTimeout, deps.clock,
		log.With().Str("component", "dispatch").Logger())

	return &agent{
		coord: coord,
		normalizer: events.NewNormalizer(sink, events.NewGate(cfg.EditDebounce), deps.clock,
			log.With().Str("component", "events").Logger()),
		tracker: terminal.NewTracker(sink, cfg.ResolveTimeout,
			log.With().Str("component", "terminal").Logger()),
	}, nil
}
