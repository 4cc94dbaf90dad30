package domain

import (
	"bytes"
	"strings"
	"sync"
)

// Diagnostics collects the diagnostic text of a single compile or execute call.
// Each call gets its own instance; instances are never shared between operations.
type Diagnostics struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewDiagnostics returns an empty diagnostics sink.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Write implements io.Writer.
func (d *Diagnostics) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

// Report appends one diagnostic line.
func (d *Diagnostics) Report(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.WriteString(strings.TrimRight(line, "\n"))
	d.buf.WriteByte('\n')
}

// Empty reports whether nothing has been written.
func (d *Diagnostics) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Len() == 0
}

// String returns the collected text without trailing newlines.
func (d *Diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimRight(d.buf.String(), "\n")
}
