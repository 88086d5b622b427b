package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"harmony-agent/internal/commands"
	"harmony-agent/internal/config"
	"harmony-agent/internal/logging"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	if _, _, err := logging.Setup(logging.Options{Level: "info"}); err != nil {
		panic(err)
	}

	var (
		ctx      = context.Background()
		flags    = &commands.Flags{Ring: logging.NewRing(logging.DefaultRingCapacity)}
		closeLog = func() error { return nil }
	)

	app := &cli.Command{
		Name:      "harmony-agent",
		Usage:     "Forward editor activity to the Harmony desktop app",
		UsageText: "harmony-agent [global options] command [command options]",
		Description: `harmony-agent observes terminals, files, editors and debug sessions of an
editor session and forwards them as events to the Harmony desktop app over a
local socket, reconnecting whenever the app goes away.

Run 'harmony-agent' with no arguments to start the agent on stdio.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error); overrides log.level",
				Sources:     cli.EnvVars("HARMONY_LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to the diagnostic log file; overrides log.file",
				Sources:     cli.EnvVars("HARMONY_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("HARMONY_CONFIG"),
				Value:       config.DefaultPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "session-id",
				Usage:       "editor session id used to derive the sender id",
				Sources:     cli.EnvVars(config.EnvSessionID),
				Destination: &flags.SessionID,
			},
			&cli.StringFlag{
				Name:        "socket",
				Usage:       "path of the desktop app's socket",
				Sources:     cli.EnvVars(config.EnvHarmonySocketPath, config.EnvSocketPath),
				Destination: &flags.SocketPath,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				flags.ConfigErr = err
				defaults := config.DefaultConfig()
				cfg = &defaults
			}
			if flags.SessionID != "" {
				cfg.SessionID = flags.SessionID
			}
			if flags.SocketPath != "" {
				cfg.SocketPath = flags.SocketPath
			}
			flags.Config = cfg

			level := cfg.Log.Level
			if flags.LogLevel != "" {
				level = flags.LogLevel
			}
			if flags.LogFile == "" {
				flags.LogFile = cfg.Log.File
			}
			if flags.LogFile == "" {
				if flags.LogFile, err = logging.DefaultFile(); err != nil {
					return ctx, err
				}
			}

			logger, closeFn, err := logging.Setup(logging.Options{
				Level: level,
				File:  flags.LogFile,
				Ring:  flags.Ring,
			})
			if err != nil {
				return ctx, err
			}
			flags.Logger = logger
			closeLog = closeFn

			return ctx, nil
		},
	}

	runCmd := commands.NewRunCmd(flags)

	app = runCmd.Register(app)
	app = commands.NewProbeCmd(flags).Register(app)
	app = commands.NewLogCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	// Register run flags on root command
	app.Flags = append(app.Flags, runCmd.Flags()...)

	// Run the agent when no subcommand is provided
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'harmony-agent --help' for usage", c.Args().First())
		}
		return runCmd.Run(ctx, c)
	}

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("harmony-agent failed")
		exitCode = 1
	}

	if err := closeLog(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	os.Exit(exitCode)
}
