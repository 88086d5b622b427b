package events

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"harmony-agent/internal/clock"
)

// DiagnosticMarker appears in every path the agent writes its own diagnostic
// output to. Paths containing it are never reported.
const DiagnosticMarker = "extension-output-harmony"

// IsDiagnosticPath reports whether path belongs to the agent's own output.
func IsDiagnosticPath(path string) bool {
	return strings.Contains(path, DiagnosticMarker)
}

// Editor describes the active text editor.
type Editor struct {
	File       string
	LanguageID string
}

// Normalizer converts file, editor and debug notifications into events and
// forwards them to a Sink.
type Normalizer struct {
	sink  Sink
	gate  *Gate
	clock clock.Clock
	log   zerolog.Logger
}

// NewNormalizer creates a Normalizer that debounces edits through gate.
func NewNormalizer(sink Sink, gate *Gate, clk clock.Clock, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		sink:  sink,
		gate:  gate,
		clock: clk,
		log:   log,
	}
}

func (n *Normalizer) FileCreated(ctx context.Context, path string) {
	n.file(ctx, ActionCreate, path)
}

func (n *Normalizer) FileChanged(ctx context.Context, path string) {
	n.file(ctx, ActionChange, path)
}

func (n *Normalizer) FileDeleted(ctx context.Context, path string) {
	n.file(ctx, ActionDelete, path)
}

func (n *Normalizer) file(ctx context.Context, action Action, path string) {
	if IsDiagnosticPath(path) {
		return
	}
	n.sink.Send(ctx, File(action, path))
}

// EditorFocused reports a change of active editor. A nil editor means focus
// moved away from all editors and is ignored.
func (n *Normalizer) EditorFocused(ctx context.Context, editor *Editor) {
	if editor == nil || IsDiagnosticPath(editor.File) {
		return
	}
	n.sink.Send(ctx, EditorFocus(editor.File, editor.LanguageID))
}

// DocumentChanged reports an edit of file made of changes discrete content
// changes. Edits are gated globally, not per file.
func (n *Normalizer) DocumentChanged(ctx context.Context, file string, changes int) {
	if IsDiagnosticPath(file) {
		return
	}
	if !n.gate.Allow(n.clock.Now()) {
		n.log.Trace().Str("file", file).Msg("edit suppressed by debounce")
		return
	}
	n.sink.Send(ctx, EditorEdit(file, changes))
}

func (n *Normalizer) DebugStarted(ctx context.Context, name, debugType string) {
	n.sink.Send(ctx, Debug(ActionStart, name, debugType))
}

func (n *Normalizer) DebugStopped(ctx context.Context, name, debugType string) {
	n.sink.Send(ctx, Debug(ActionStop, name, debugType))
}
