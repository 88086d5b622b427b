package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"harmony-agent/internal/connection"
	"harmony-agent/internal/transport"
)

type ProbeCmd struct {
	flags   *Flags
	timeout time.Duration

	deps agentDeps
}

// NewProbeCmd creates a new probe command
func NewProbeCmd(flags *Flags) *ProbeCmd {
	return &ProbeCmd{flags: flags}
}

// Register adds the probe command to the application
func (cmd *ProbeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "probe",
		Usage:       "Send a test message to the desktop app",
		UsageText:   "harmony-agent probe [options]",
		Description: "Connects to the desktop app, sends a test message and waits for its acknowledgement.",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long to wait for the connection and the acknowledgement",
				Value:       10 * time.Second,
				Destination: &cmd.timeout,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ProbeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg, err := cmd.flags.LoadedConfig()
	if err != nil {
		return err
	}

	a, err := newAgent(cfg, cmd.flags.Logger, cmd.deps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()

	subID, states := a.coord.SubscribeState()
	defer a.coord.UnsubscribeState(subID)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.coord.Shutdown(shutdownCtx)
	}()

	if err := a.coord.Connect(ctx); err != nil {
		return err
	}
	if err := awaitConnected(ctx, a.coord, states); err != nil {
		return err
	}

	start := time.Now()
	if err := a.coord.Probe(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "test message acknowledged by %s in %s\n",
		cfg.SocketPath, time.Since(start).Round(time.Millisecond))
	return nil
}

func awaitConnected(ctx context.Context, coord *connection.Coordinator, states <-chan connection.State) error {
	if coord.State() == transport.StateConnected {
		return nil
	}
	for {
		select {
		case s, ok := <-states:
			if !ok {
				return connection.ErrShutdown
			}
			if s == transport.StateConnected {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("await connection: %w", ctx.Err())
		}
	}
}
