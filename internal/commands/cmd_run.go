package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"harmony-agent/internal/host"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/watcher"
)

const shutdownTimeout = 2 * time.Second

type RunCmd struct {
	flags     *Flags
	workspace string

	// stdin and stdout carry the host protocol. Tests replace them.
	stdin  io.Reader
	stdout io.Writer
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags, stdin: os.Stdin, stdout: os.Stdout}
}

// Flags are shared with the root command, which runs the agent by default.
func (cmd *RunCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "workspace",
			Aliases:     []string{"w"},
			Usage:       "workspace directory to watch (overrides watch.root)",
			Sources:     cli.EnvVars("HARMONY_WORKSPACE"),
			Destination: &cmd.workspace,
		},
	}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run the agent for an editor session",
		UsageText: "harmony-agent run [options]",
		Description: `Captures editor activity reported on stdin and forwards it to the Harmony
desktop app. Requests for the editor are written to stdout as JSON lines.`,
		Flags:  cmd.Flags(),
		Action: cmd.Run,
	})

	return app
}

func (cmd *RunCmd) Run(ctx context.Context, c *cli.Command) error {
	cfg, err := cmd.flags.LoadedConfig()
	if err != nil {
		return err
	}
	log := cmd.flags.Logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bridge *host.Bridge
	a, err := newAgent(cfg, log, agentDeps{
		onMessage: func(msg *protocol.Message) { bridge.Received(msg) },
	})
	if err != nil {
		return err
	}

	bridge = host.New(host.Options{
		In:         cmd.stdin,
		Out:        cmd.stdout,
		Terminals:  a.tracker,
		Editor:     a.normalizer,
		Controller: a.coord,
		Ring:       cmd.flags.Ring,
	}, log)

	root := cfg.Watch.Root
	if cmd.workspace != "" {
		root = cmd.workspace
	}
	if root != "" {
		w := watcher.New(root, cfg.Watch.Exclude, a.normalizer, log)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		defer func() { _ = w.Close() }()
	}

	log.Info().
		Str("sender", cfg.SenderID()).
		Str("socket", cfg.SocketPath).
		Str("codec", cfg.Codec).
		Msg("harmony agent running")

	if cfg.AutoConnect {
		if err := a.coord.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("initial connect failed, retrying in background")
		}
	}

	runErr := bridge.Run(ctx)

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.coord.Shutdown(shutdownCtx)

	return runErr
}
