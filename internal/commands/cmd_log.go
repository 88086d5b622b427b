package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"harmony-agent/internal/logging"
)

type LogCmd struct {
	flags *Flags
	lines int
}

// NewLogCmd creates a new log command
func NewLogCmd(flags *Flags) *LogCmd {
	return &LogCmd{flags: flags}
}

// Register adds the log command to the application
func (cmd *LogCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "log",
		Usage:       "Show the diagnostic log",
		UsageText:   "harmony-agent log [--lines N]",
		Description: "Prints the most recent lines of the agent's diagnostic log file.",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "lines",
				Aliases:     []string{"n"},
				Usage:       "number of lines to show",
				Value:       50,
				Destination: &cmd.lines,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LogCmd) run(_ context.Context, c *cli.Command) error {
	if cmd.flags.LogFile == "" {
		return fmt.Errorf("no log file configured")
	}

	lines, err := logging.TailFile(cmd.flags.LogFile, cmd.lines)
	if err != nil {
		return err
	}

	out := c.Root().Writer
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
