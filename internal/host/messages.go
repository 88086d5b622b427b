package host

// Inbound notification kinds sent by the editor plugin.
const (
	KindTerminalOpen         = "terminal.open"
	KindTerminalPID          = "terminal.pid"
	KindTerminalClose        = "terminal.close"
	KindTerminalActive       = "terminal.active"
	KindTerminalState        = "terminal.state"
	KindTerminalSendSequence = "terminal.sendSequence"
	KindEditorActive         = "editor.active"
	KindDocumentChange       = "document.change"
	KindDebugStart           = "debug.start"
	KindDebugStop            = "debug.stop"
	KindCommand              = "command"
)

// Outbound kinds written for the editor plugin.
const (
	KindSendText = "terminal.sendText"
	KindNotify   = "notify"
	KindStatus   = "status"
	KindLog      = "log"
)

// Commands accepted in a command notification.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandTest       = "test"
	CommandShowLog    = "showLog"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

type sendTextLine struct {
	Kind       string `json:"kind"`
	Terminal   string `json:"terminal"`
	Text       string `json:"text"`
	AddNewLine bool   `json:"addNewLine"`
}

type notifyLine struct {
	Kind    string `json:"kind"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type statusLine struct {
	Kind  string `json:"kind"`
	State string `json:"state"`
}

type logLine struct {
	Kind  string   `json:"kind"`
	Lines []string `json:"lines"`
}
