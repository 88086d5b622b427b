package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"
)

type ConfigValidateCmd struct {
	flags *Flags
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "harmony-agent config validate",
				Description: "Loads the configuration file with environment overrides and reports every invalid field.",
				Action:      cmd.run,
			},
		},
	})

	return app
}

func (cmd *ConfigValidateCmd) run(_ context.Context, c *cli.Command) error {
	out := c.Root().Writer

	if cmd.flags.ConfigErr == nil {
		_, _ = fmt.Fprintf(out, "%s: ok\n", cmd.flags.ConfigPath)
		return nil
	}

	_, _ = fmt.Fprintln(out, "Errors")
	for _, fe := range extractFieldErrors(cmd.flags.ConfigErr) {
		if fe.Field != "" {
			_, _ = fmt.Fprintf(out, "  x %s: %s\n", fe.Field, fe.Err.Error())
		} else {
			_, _ = fmt.Fprintf(out, "  x %s\n", fe.Err.Error())
		}
	}
	return fmt.Errorf("configuration is invalid")
}

// extractFieldErrors extracts field errors from a validation error.
func extractFieldErrors(err error) criterio.FieldErrors {
	if err == nil {
		return nil
	}
	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return criterio.FieldErrors{{Err: err}}
}
