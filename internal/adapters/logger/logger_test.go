package logger_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/xnail/internal/adapters/logger"
	"go.trai.ch/zerr"
)

// newTestLogger creates a logger with an injected bytes.Buffer for isolated testing.
// It also sets NO_COLOR=1 to ensure deterministic output without ANSI escape codes.
func newTestLogger(t *testing.T) (*logger.Logger, *bytes.Buffer) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")

	buf := &bytes.Buffer{}
	lg := logger.New().(*logger.Logger)
	lg.SetOutput(buf)
	return lg, buf
}

func TestLogger_Levels(t *testing.T) {
	lg, buf := newTestLogger(t)

	lg.Debug("hidden at info level")
	lg.Info("some message")
	lg.Warn("some warning")

	g := goldie.New(t)
	g.Assert(t, "levels_info", buf.Bytes())
}

func TestLogger_SetLevel(t *testing.T) {
	lg, buf := newTestLogger(t)

	require.NoError(t, lg.SetLevel("debug"))
	lg.Debug("cache miss")
	assert.Equal(t, "● cache miss\n", buf.String())

	buf.Reset()
	require.NoError(t, lg.SetLevel("error"))
	lg.Info("dropped")
	lg.Warn("dropped")
	assert.Empty(t, buf.String())

	require.Error(t, lg.SetLevel("verbose"))
}

func TestLogger_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		goldenName string
	}{
		{
			name:       "simple error",
			err:        os.ErrPermission,
			goldenName: "error_simple",
		},
		{
			name:       "multiline error",
			err:        errors.New("yaml: unmarshal errors:\n  line 30: cannot unmarshal"),
			goldenName: "error_multiline",
		},
		{
			name: "three level chain",
			err: zerr.Wrap(
				zerr.Wrap(
					errors.New("database connection failed"),
					"failed to load user data",
				),
				"failed to process request",
			),
			goldenName: "error_chain_zerr_three",
		},
		{
			name: "stdlib chain is not split",
			err: fmt.Errorf("failed to initialize service: %w",
				fmt.Errorf("failed to connect to database: %w", errors.New("connection refused"))),
			goldenName: "error_chain_stdlib",
		},
		{
			name: "partial metadata in chain",
			err: func() error {
				inner := zerr.With(zerr.New("database timeout"), "timeout_ms", 5000)
				middle := zerr.Wrap(inner, "failed to fetch user")
				return zerr.With(middle, "user_id", "12345")
			}(),
			goldenName: "error_metadata_partial",
		},
		{
			name:       "metadata on a standard error",
			err:        zerr.With(errors.New("connection refused"), "socket", "/run/xnail.sock"),
			goldenName: "error_metadata_stdlib",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg, buf := newTestLogger(t)
			lg.Error(tt.err)

			g := goldie.New(t)
			g.Assert(t, tt.goldenName, buf.Bytes())
		})
	}
}

func TestLogger_Error_Nil(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.Error(nil)

	assert.Empty(t, buf.String(), "Expected no output for nil error")
}

func TestLogger_SetJSON_WithErrorChain(t *testing.T) {
	innerErr := errors.New("database connection failed")
	middleErr := zerr.Wrap(innerErr, "failed to load user data")
	outerErr := zerr.With(middleErr, "user_id", "12345")

	lg, buf := newTestLogger(t)
	lg.SetJSON(true)
	lg.Error(outerErr)

	output := buf.String()
	assert.Contains(t, output, `"level":"ERROR"`)
	assert.Contains(t, output, "failed to load user data")
	assert.Contains(t, output, "user_id")
	assert.NotContains(t, output, "✗", "JSON format should not have pretty markers")
}

func TestLogger_SetFormat(t *testing.T) {
	lg, buf := newTestLogger(t)

	require.NoError(t, lg.SetFormat(logger.FormatJSON))
	lg.Info("as json")
	assert.Contains(t, buf.String(), `"msg":"as json"`)

	buf.Reset()
	require.NoError(t, lg.SetFormat(logger.FormatPretty))
	lg.Info("as text")
	assert.Equal(t, "as text\n", buf.String())

	// A buffer is not a terminal.
	buf.Reset()
	require.NoError(t, lg.SetFormat(logger.FormatAuto))
	lg.Info("auto")
	assert.Contains(t, buf.String(), `"msg":"auto"`)

	require.Error(t, lg.SetFormat("xml"))
}

func TestLogger_LevelSurvivesFormatSwitch(t *testing.T) {
	lg, buf := newTestLogger(t)
	require.NoError(t, lg.SetLevel("warn"))

	lg.SetJSON(true)
	lg.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestLogger_SetOutput_NilDefaultsToStderr(t *testing.T) {
	lg := logger.New().(*logger.Logger)
	require.NotPanics(t, func() { lg.SetOutput(nil) })
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	lg, _ := newTestLogger(t)

	var wg sync.WaitGroup
	wg.Go(func() { lg.Info("concurrent info") })
	wg.Go(func() { lg.Warn("concurrent warn") })
	wg.Go(func() { lg.Error(errors.New("concurrent error")) })
	wg.Go(func() { lg.SetJSON(true) })
	wg.Go(func() { lg.SetJSON(false) })
	wg.Go(func() { _ = lg.SetLevel("debug") })
	wg.Go(func() { lg.SetOutput(&bytes.Buffer{}) })
	wg.Wait()
}
