package terminal

import "strings"

// Shell flavors reported by DetectShell.
const (
	ShellBash       = "bash"
	ShellZsh        = "zsh"
	ShellPowerShell = "powershell"
	ShellCmd        = "cmd"
	ShellUnknown    = "unknown"
)

// shellOrder is checked in sequence; the first substring match wins.
var shellOrder = []string{ShellBash, ShellZsh, ShellPowerShell, ShellCmd}

// DetectShell guesses the shell flavor from a terminal's display name.
func DetectShell(name string) string {
	lower := strings.ToLower(name)
	for _, shell := range shellOrder {
		if strings.Contains(lower, shell) {
			return shell
		}
	}
	return ShellUnknown
}
