// Package logging configures the agent's zerolog output: the console, the
// diagnostic log file and an in-memory ring of recent lines.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"harmony-agent/internal/events"
)

const fileName = "agent.log"

// Options select where log output goes.
type Options struct {
	Level string
	// File is the diagnostic log path. Empty disables file output.
	File string
	// Console receives human-readable output. Nil means stderr; stdout is
	// reserved for the host bridge.
	Console io.Writer
	// Ring, when set, receives a plain-text copy of every line.
	Ring *Ring
}

// Setup builds the root logger, installs it as the global zerolog logger and
// returns a function that closes the log file.
func Setup(opts Options) (zerolog.Logger, func() error, error) {
	parsedLevel, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console}}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closeFn = file.Close
	}

	if opts.Ring != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Ring, NoColor: true})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).
		Level(parsedLevel).
		With().Timestamp().Logger()
	log.Logger = logger

	return logger, closeFn, nil
}

// StateDir returns the directory the agent keeps runtime state in:
// $XDG_STATE_HOME/harmony, falling back to ~/.local/state/harmony.
func StateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "harmony"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "harmony"), nil
}

// DefaultFile returns the diagnostic log path. It always contains the
// diagnostic marker so the agent never reports changes to its own log.
func DefaultFile() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, events.DiagnosticMarker, fileName), nil
}

// TailFile returns the last n lines of the file at path.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := NewRing(n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring.push(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return ring.Lines(), nil
}
