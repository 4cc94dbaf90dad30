// Package logger implements a logging adapter using log/slog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/term"
)

// Output formats accepted by SetFormat.
const (
	FormatAuto   = "auto"
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

// Logger implements ports.Logger using log/slog.
type Logger struct {
	logger   *slog.Logger
	level    *slog.LevelVar
	mu       sync.RWMutex
	jsonMode bool
	output   io.Writer
}

var _ ports.Logger = (*Logger)(nil)

// New creates a new Logger writing pretty output to stderr at info level.
func New() ports.Logger {
	l := &Logger{
		level:  &slog.LevelVar{},
		output: os.Stderr,
	}
	l.rebuild()
	return l
}

// SetOutput updates the logger's output destination.
// If w is nil, os.Stderr is used as the default.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	l.output = w
	l.rebuild()
}

// SetJSON switches between JSON and pretty logging.
func (l *Logger) SetJSON(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.jsonMode = enable
	l.rebuild()
}

// SetFormat selects pretty or JSON output. The auto format uses pretty
// output when the destination is a terminal and JSON otherwise.
func (l *Logger) SetFormat(format string) error {
	switch format {
	case FormatPretty:
		l.SetJSON(false)
	case FormatJSON:
		l.SetJSON(true)
	case FormatAuto, "":
		l.mu.RLock()
		f, ok := l.output.(*os.File)
		l.mu.RUnlock()
		l.SetJSON(!ok || !term.IsTerminal(int(f.Fd()))) //nolint:gosec // fd fits in int
	default:
		return zerr.With(zerr.New("unknown log format"), "format", format)
	}
	return nil
}

// SetLevel sets the minimum level: debug, info, warn or error.
func (l *Logger) SetLevel(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zerr.With(zerr.Wrap(err, "unknown log level"), "level", level)
	}
	l.level.Set(lvl)
	return nil
}

// Slog returns the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// rebuild must be called with mu held for writing, or before l is shared.
func (l *Logger) rebuild() {
	opts := &slog.HandlerOptions{Level: l.level}
	var handler slog.Handler
	if l.jsonMode {
		handler = slog.NewJSONHandler(l.output, opts)
	} else {
		handler = NewPrettyHandler(l.output, opts)
	}
	l.logger = slog.New(handler)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Debug(msg)
}

// Info logs an informational message.
func (l *Logger) Info(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Info(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Warn(msg)
}

// Error logs an error with its cause chain and metadata.
func (l *Logger) Error(err error) {
	if err == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.jsonMode {
		l.logger.Error("operation failed", "error", err)
		return
	}
	l.logger.Error(formatErrorEntries(collectErrorEntries(err)))
}

// ErrorEntry is one link of an error chain.
type ErrorEntry struct {
	Message  string
	Metadata map[string]any
}

// collectErrorEntries walks the chain of err. zerr links contribute their own
// message and metadata; the first standard error ends the walk with its full text.
// Metadata of zerr links without a message is merged into the next entry.
func collectErrorEntries(err error) []ErrorEntry {
	var entries []ErrorEntry
	var pending map[string]any

	for current := err; current != nil; {
		z, ok := current.(*zerr.Error)
		if !ok {
			entries = append(entries, ErrorEntry{Message: current.Error(), Metadata: pending})
			break
		}

		meta := z.Metadata()
		if z.Message() == "" && z.Unwrap() != nil {
			if pending == nil {
				pending = map[string]any{}
			}
			maps.Copy(pending, meta)
			current = z.Unwrap()
			continue
		}
		if pending != nil {
			maps.Copy(meta, pending)
			pending = nil
		}
		entries = append(entries, ErrorEntry{Message: z.Message(), Metadata: meta})
		current = z.Unwrap()
	}
	return entries
}

// formatErrorEntries renders entries as an "Error:" line followed by a
// "Caused by:" list, with metadata keys in sorted order below each entry.
func formatErrorEntries(entries []ErrorEntry) string {
	var lines []string

	for i, entry := range entries {
		msgLines := strings.Split(entry.Message, "\n")

		head, cont := "Error: ", "       "
		if i > 0 {
			if i == 1 {
				lines = append(lines, "", "  Caused by:")
			}
			head, cont = "    → ", "      "
		}

		lines = append(lines, head+msgLines[0])
		for _, line := range msgLines[1:] {
			lines = append(lines, cont+line)
		}
		for _, key := range slices.Sorted(maps.Keys(entry.Metadata)) {
			lines = append(lines, fmt.Sprintf("%s%s: %v", cont, key, entry.Metadata[key]))
		}
	}

	return strings.Join(lines, "\n")
}
