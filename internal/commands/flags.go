package commands

import (
	"github.com/rs/zerolog"

	"harmony-agent/internal/config"
	"harmony-agent/internal/logging"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	SessionID  string
	SocketPath string

	// Config is loaded in the Before hook. ConfigErr holds the load failure
	// so that config validate can report it; other commands refuse to run.
	Config    *config.Config
	ConfigErr error

	// Ring keeps recent log lines for the showLog command.
	Ring   *logging.Ring
	Logger zerolog.Logger
}

// LoadedConfig returns the configuration or the error that prevented loading
// it.
func (f *Flags) LoadedConfig() (*config.Config, error) {
	if f.ConfigErr != nil {
		return nil, f.ConfigErr
	}
	return f.Config, nil
}
