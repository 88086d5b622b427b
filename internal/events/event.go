// Package events turns raw editor notifications into normalized events.
package events

import "context"

// Type is the category of a normalized event.
type Type string

const (
	TypeTerminal Type = "terminal"
	TypeFile     Type = "file"
	TypeEditor   Type = "editor"
	TypeDebug    Type = "debug"
)

// Action is the category-specific verb of an event.
type Action string

// Terminal actions.
const (
	ActionOpen    Action = "open"
	ActionClose   Action = "close"
	ActionFocus   Action = "focus"
	ActionState   Action = "state"
	ActionShell   Action = "shell"
	ActionCommand Action = "command"
)

// File actions.
const (
	ActionCreate Action = "create"
	ActionChange Action = "change"
	ActionDelete Action = "delete"
)

// Editor actions. ActionFocus is shared with terminals.
const (
	ActionEdit Action = "edit"
)

// Debug actions.
const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Event is a normalized event. Data is one of TerminalData, FileData,
// EditorData or DebugData, matching Type; use the constructors below to keep
// the two consistent.
type Event struct {
	Type   Type
	Action Action
	Data   any
}

// TerminalData is the payload of terminal events.
type TerminalData struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	ExitCode    *int   `json:"exitCode,omitempty"`
	ShellType   string `json:"shellType,omitempty"`
	LastCommand string `json:"lastCommand,omitempty"`
	Command     string `json:"command,omitempty"`
}

// FileData is the payload of file events.
type FileData struct {
	Path string `json:"path"`
}

// EditorData is the payload of editor events.
type EditorData struct {
	File       string `json:"file"`
	LanguageID string `json:"languageId,omitempty"`
	Changes    *int   `json:"changes,omitempty"`
}

// DebugData is the payload of debug events.
type DebugData struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func Terminal(action Action, data TerminalData) Event {
	return Event{Type: TypeTerminal, Action: action, Data: data}
}

func File(action Action, path string) Event {
	return Event{Type: TypeFile, Action: action, Data: FileData{Path: path}}
}

func EditorFocus(file, languageID string) Event {
	return Event{Type: TypeEditor, Action: ActionFocus, Data: EditorData{File: file, LanguageID: languageID}}
}

func EditorEdit(file string, changes int) Event {
	return Event{Type: TypeEditor, Action: ActionEdit, Data: EditorData{File: file, Changes: &changes}}
}

func Debug(action Action, name, debugType string) Event {
	return Event{Type: TypeDebug, Action: action, Data: DebugData{Name: name, Type: debugType}}
}

// Sink accepts normalized events. Send never fails from the caller's point of
// view; delivery problems are the sink's to absorb.
type Sink interface {
	Send(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Send(ctx context.Context, ev Event) { f(ctx, ev) }
