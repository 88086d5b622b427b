package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"harmony-agent/internal/codec"
)

// Validate checks that the configuration is usable. All problems are reported
// together as criterio.FieldErrors.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	switch {
	case c.SocketPath == "":
		errs = errs.Append("socket_path", fmt.Errorf("cannot be empty"))
	case !filepath.IsAbs(c.SocketPath):
		errs = errs.Append("socket_path", fmt.Errorf("must be absolute, got %q", c.SocketPath))
	}

	if c.SenderPrefix == "" {
		errs = errs.Append("sender_prefix", fmt.Errorf("cannot be empty"))
	}

	if _, err := codec.ByName(c.Codec); err != nil {
		errs = errs.Append("codec", err)
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"reconnect_interval", c.ReconnectInterval},
		{"ping_interval", c.PingInterval},
		{"edit_debounce", c.EditDebounce},
		{"resolve_timeout", c.ResolveTimeout},
		{"send_timeout", c.SendTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = errs.Append(d.field, fmt.Errorf("must be positive, got %s", d.value))
		}
	}

	for i, pattern := range c.Watch.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("watch.exclude[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = errs.Append("log.level", err)
	}

	return errs.ToError()
}
