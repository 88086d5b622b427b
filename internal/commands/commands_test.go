package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"harmony-agent/internal/codec"
	"harmony-agent/internal/config"
	"harmony-agent/internal/logging"
	"harmony-agent/internal/protocol"
	"harmony-agent/internal/transport/transporttest"
)

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func testConfig(socketPath string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SocketPath = socketPath
	cfg.SessionID = "cli-test"
	return &cfg
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{Name: "harmony-agent", Writer: out}
}

func TestConfigValidate_Valid(t *testing.T) {
	var out bytes.Buffer
	flags := &Flags{ConfigPath: "/etc/harmony/agent.yaml", Config: testConfig("/tmp/harmony.sock")}
	app := NewConfigValidateCmd(flags).Register(newApp(&out))

	require.NoError(t, app.Run(context.Background(), []string{"harmony-agent", "config", "validate"}))
	assert.Contains(t, out.String(), "/etc/harmony/agent.yaml: ok")
}

func TestConfigValidate_ReportsFields(t *testing.T) {
	var out bytes.Buffer
	var errs criterio.FieldErrorsBuilder
	errs = errs.Append("socket_path", fmt.Errorf("cannot be empty"))
	errs = errs.Append("codec", fmt.Errorf("unknown codec %q", "xml"))

	flags := &Flags{ConfigErr: fmt.Errorf("invalid config: %w", errs.ToError())}
	app := NewConfigValidateCmd(flags).Register(newApp(&out))

	err := app.Run(context.Background(), []string{"harmony-agent", "config", "validate"})
	require.Error(t, err)
	assert.Contains(t, out.String(), "socket_path: cannot be empty")
	assert.Contains(t, out.String(), `codec: unknown codec "xml"`)
}

func TestExtractFieldErrors_PlainError(t *testing.T) {
	fieldErrs := extractFieldErrors(fmt.Errorf("parse config file: boom"))
	require.Len(t, fieldErrs, 1)
	assert.Empty(t, fieldErrs[0].Field)
	assert.Nil(t, extractFieldErrors(nil))
}

func TestLog_PrintsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	var out bytes.Buffer
	app := NewLogCmd(&Flags{LogFile: path}).Register(newApp(&out))

	require.NoError(t, app.Run(context.Background(), []string{"harmony-agent", "log", "--lines", "2"}))
	assert.Equal(t, "two\nthree\n", out.String())
}

func TestRun_RefusesInvalidConfig(t *testing.T) {
	flags := &Flags{ConfigErr: fmt.Errorf("invalid config")}
	cmd := NewRunCmd(flags)

	err := cmd.Run(context.Background(), newApp(io.Discard))
	assert.EqualError(t, err, "invalid config")
}

func TestProbe_AgainstPeer(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON{}, codec.CBOR{}} {
		t.Run(c.Name(), func(t *testing.T) {
			peer := transporttest.NewPeer(t, c)
			cfg := testConfig(peer.Path)
			cfg.Codec = c.Name()

			var out bytes.Buffer
			app := NewProbeCmd(&Flags{Config: cfg, Logger: zerolog.Nop()}).Register(newApp(&out))

			require.NoError(t, app.Run(context.Background(), []string{"harmony-agent", "probe", "--timeout", "5s"}))
			assert.Contains(t, out.String(), "test message acknowledged by "+peer.Path)
			assert.Len(t, peer.ReceivedOfType(protocol.TypeTest), 1)
			assert.Equal(t, []string{"harmony-vscode-cli-test"}, peer.Senders())
		})
	}
}

func TestProbe_NoListener(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "absent.sock"))
	app := NewProbeCmd(&Flags{Config: cfg, Logger: zerolog.Nop()}).Register(newApp(io.Discard))

	err := app.Run(context.Background(), []string{"harmony-agent", "probe", "--timeout", "1s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint inaccessible")
}

func TestRun_ForwardsHostActivity(t *testing.T) {
	peer := transporttest.NewPeer(t, codec.JSON{})
	workspace := t.TempDir()

	cfg := testConfig(peer.Path)
	flags := &Flags{Config: cfg, Logger: zerolog.Nop(), Ring: logging.NewRing(10)}

	stdin, hostWriter := io.Pipe()
	var stdout syncWriter
	cmd := NewRunCmd(flags)
	cmd.stdin, cmd.stdout = stdin, &stdout
	cmd.workspace = workspace

	done := make(chan error, 1)
	go func() { done <- cmd.Run(context.Background(), newApp(io.Discard)) }()

	require.Eventually(t, func() bool { return peer.Connections() == 1 }, 5*time.Second, 10*time.Millisecond)

	lines := []string{
		`{"kind":"terminal.open","terminal":"t1","name":"zsh"}`,
		`{"kind":"terminal.pid","terminal":"t1","pid":777}`,
		`{"kind":"debug.start","name":"Launch","type":"go"}`,
	}
	_, err := io.WriteString(hostWriter, strings.Join(lines, "\n")+"\n")
	require.NoError(t, err)

	file := filepath.Join(workspace, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n"), 0o644))

	require.Eventually(t, func() bool {
		return len(peer.ReceivedOfType("terminal")) == 2 &&
			len(peer.ReceivedOfType("debug")) == 1 &&
			len(peer.ReceivedOfType("file")) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), `"text":"echo $SHELL"`)
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), `"state":"connected"`)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hostWriter.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after host input closed")
	}
}
