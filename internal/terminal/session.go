// Package terminal tracks the terminal sessions open in the editor and
// reports their lifecycle as normalized events.
package terminal

import "context"

// UnknownID is the record key of terminals whose process id could not be
// resolved. Several unresolved terminals share it.
const UnknownID = "unknown"

// KindIntegrated is the only terminal kind reported today.
const KindIntegrated = "integrated"

// ProbeCommand is typed into new terminals so the shell reports itself in the
// terminal's own output.
const ProbeCommand = "echo $SHELL"

// Handle is the editor's reference to one terminal. Its process id is
// resolved separately and may never resolve.
type Handle interface {
	Name() string

	// ProcessID blocks until the terminal's shell process id is known or ctx
	// is done. ok is false when the id is unavailable.
	ProcessID(ctx context.Context) (pid int, ok bool)

	// ExitStatus returns the exit code once the terminal has exited.
	ExitStatus() (code int, ok bool)

	// SendText types text into the terminal, optionally followed by Enter.
	SendText(text string, addNewLine bool) error
}

// Record is the tracked state of one open terminal.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"type"`
	ShellType   string `json:"shellType,omitempty"`
	LastCommand string `json:"lastCommand,omitempty"`
}
