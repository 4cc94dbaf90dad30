package commands_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/xnail/cmd/xnail/commands"
	"go.trai.ch/xnail/internal/app"
	"go.trai.ch/xnail/internal/build"
	"go.trai.ch/xnail/internal/core/domain"
)

type mockApp struct {
	transformFunc func(ctx context.Context, opts app.TransformOptions) error
	serveFunc     func(ctx context.Context, configPath string, o app.Overrides) error

	statusCalled bool
	stopCalled   bool
	rendered     app.Overrides
}

func (m *mockApp) Transform(ctx context.Context, opts app.TransformOptions) error {
	if m.transformFunc != nil {
		return m.transformFunc(ctx, opts)
	}
	return nil
}

func (m *mockApp) Serve(ctx context.Context, configPath string, o app.Overrides) error {
	if m.serveFunc != nil {
		return m.serveFunc(ctx, configPath, o)
	}
	return nil
}

func (m *mockApp) DaemonStatus(context.Context, string, app.Overrides) error {
	m.statusCalled = true
	return nil
}

func (m *mockApp) StopDaemon(context.Context, string, app.Overrides) error {
	m.stopCalled = true
	return nil
}

func (m *mockApp) RenderConfig(_ string, o app.Overrides, w io.Writer) error {
	m.rendered = o
	_, err := io.WriteString(w, "log:\n  level: info\n")
	return err
}

func TestCommands_Transform(t *testing.T) {
	t.Run("wires flags and arguments", func(t *testing.T) {
		var captured app.TransformOptions
		mock := &mockApp{
			transformFunc: func(_ context.Context, opts app.TransformOptions) error {
				captured = opts
				return nil
			},
		}

		cli := commands.New(mock)
		cli.SetArgs([]string{
			"transform", "--config", "x.yaml", "--log-level", "debug",
			"-p", "a=1", "--parameter", "a=2", "--system-identifier", "",
			"sheet.go", "in.xml",
		})
		require.NoError(t, cli.Execute(context.Background()))

		assert.Equal(t, "x.yaml", captured.ConfigPath)
		require.NotNil(t, captured.Overrides.LogLevel)
		assert.Equal(t, "debug", *captured.Overrides.LogLevel)
		assert.Nil(t, captured.Overrides.Address)
		assert.Equal(t, "sheet.go", captured.Program)
		assert.Equal(t, "in.xml", captured.Input)
		assert.True(t, captured.HasInput)
		assert.True(t, captured.HasSystemID)
		assert.Empty(t, captured.SystemID)
		assert.Equal(t, []string{"a=1", "a=2"}, captured.Parameters)
		assert.False(t, captured.Local)
	})

	t.Run("program only reads stdin", func(t *testing.T) {
		var captured app.TransformOptions
		mock := &mockApp{
			transformFunc: func(_ context.Context, opts app.TransformOptions) error {
				captured = opts
				data, err := io.ReadAll(opts.Stdin)
				require.NoError(t, err)
				_, err = opts.Stdout.Write(bytes.ToUpper(data))
				return err
			},
		}

		cli := commands.New(mock)
		out := new(bytes.Buffer)
		cli.SetOutput(out, io.Discard)
		cli.SetInput(strings.NewReader("doc"))
		cli.SetArgs([]string{"transform", "--local", "--", "sheet.go"})
		require.NoError(t, cli.Execute(context.Background()))

		assert.False(t, captured.HasInput)
		assert.False(t, captured.HasSystemID)
		assert.True(t, captured.Local)
		assert.Equal(t, "DOC", out.String())
	})

	t.Run("wrong argument count is a user error with usage", func(t *testing.T) {
		mock := &mockApp{
			transformFunc: func(context.Context, app.TransformOptions) error {
				panic("should not be called")
			},
		}

		for _, args := range [][]string{{"transform"}, {"transform", "a", "b", "c"}} {
			cli := commands.New(mock)
			cli.SetOutput(io.Discard, io.Discard)
			cli.SetArgs(args)

			err := cli.Execute(context.Background())
			require.Error(t, err)
			assert.Equal(t, domain.ExitUserError, domain.ExitStatusOf(err))
			assert.Contains(t, err.Error(), "Usage:")
		}
	})

	t.Run("unknown flag is a user error", func(t *testing.T) {
		cli := commands.New(&mockApp{})
		cli.SetOutput(io.Discard, io.Discard)
		cli.SetArgs([]string{"transform", "--bogus", "sheet.go"})

		err := cli.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.ExitUserError, domain.ExitStatusOf(err))
	})

	t.Run("returns error on transform failure", func(t *testing.T) {
		mock := &mockApp{
			transformFunc: func(context.Context, app.TransformOptions) error {
				return errors.New("simulated error")
			},
		}

		cli := commands.New(mock)
		cli.SetOutput(new(bytes.Buffer), new(bytes.Buffer))
		cli.SetArgs([]string{"transform", "sheet.go"})

		err := cli.Execute(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "simulated error")
	})
}

func TestCommands_Serve(t *testing.T) {
	var captured app.Overrides
	mock := &mockApp{
		serveFunc: func(_ context.Context, _ string, o app.Overrides) error {
			captured = o
			return nil
		},
	}

	cli := commands.New(mock)
	cli.SetArgs([]string{
		"serve", "--address", "/tmp/x.sock", "--address-type", "local",
		"--require-pid", "77", "--idle-timeout", "30s", "--metrics-address", "127.0.0.1:9464",
	})
	require.NoError(t, cli.Execute(context.Background()))

	require.NotNil(t, captured.Address)
	assert.Equal(t, "/tmp/x.sock", *captured.Address)
	require.NotNil(t, captured.AddressType)
	assert.Equal(t, "local", *captured.AddressType)
	require.NotNil(t, captured.RequirePID)
	assert.Equal(t, 77, *captured.RequirePID)
	require.NotNil(t, captured.IdleTimeout)
	assert.Equal(t, 30*time.Second, *captured.IdleTimeout)
	require.NotNil(t, captured.MetricsAddress)
	assert.Equal(t, "127.0.0.1:9464", *captured.MetricsAddress)
	assert.Nil(t, captured.LogLevel)
}

func TestCommands_Daemon(t *testing.T) {
	mock := &mockApp{}

	cli := commands.New(mock)
	cli.SetArgs([]string{"daemon", "status"})
	require.NoError(t, cli.Execute(context.Background()))
	assert.True(t, mock.statusCalled)

	cli = commands.New(mock)
	cli.SetArgs([]string{"daemon", "stop"})
	require.NoError(t, cli.Execute(context.Background()))
	assert.True(t, mock.stopCalled)
}

func TestCommands_Config(t *testing.T) {
	mock := &mockApp{}
	cli := commands.New(mock)

	buf := new(bytes.Buffer)
	cli.SetOutput(buf, buf)
	cli.SetArgs([]string{"config", "--address", "127.0.0.1:7300"})
	require.NoError(t, cli.Execute(context.Background()))

	assert.Contains(t, buf.String(), "level: info")
	require.NotNil(t, mock.rendered.Address)
	assert.Equal(t, "127.0.0.1:7300", *mock.rendered.Address)
}

func TestCommands_Version(t *testing.T) {
	mock := &mockApp{}
	cli := commands.New(mock)

	buf := new(bytes.Buffer)
	cli.SetOutput(buf, buf)
	cli.SetArgs([]string{"version"})

	err := cli.Execute(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "xnail version "+build.Version)
}
