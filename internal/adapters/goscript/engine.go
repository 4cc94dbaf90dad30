// Package goscript runs transform programs written in Go, interpreted with yaegi.
//
// A program is a single Go source file that defines
//
//	func Transform(systemID string, in io.Reader, out io.Writer, params map[string][]string) error
//
// Imports are limited to an allowlist of standard library packages.
package goscript

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

// EntryPoint is the name of the function every program must define.
const EntryPoint = "Transform"

// TransformFunc is the signature of a program's entry point.
type TransformFunc = func(systemID string, in io.Reader, out io.Writer, params map[string][]string) error

// DefaultAllowedImports lists the packages a program may import unless
// configured otherwise. Packages reaching the filesystem, network or other
// processes are not included.
var DefaultAllowedImports = []string{
	"bufio",
	"bytes",
	"encoding/base64",
	"encoding/csv",
	"encoding/hex",
	"encoding/json",
	"encoding/xml",
	"errors",
	"fmt",
	"html",
	"html/template",
	"io",
	"maps",
	"math",
	"path",
	"regexp",
	"slices",
	"sort",
	"strconv",
	"strings",
	"text/template",
	"time",
	"unicode",
	"unicode/utf8",
}

// Option configures an Engine.
type Option func(*Engine)

// WithAllowedImports replaces the import allowlist.
func WithAllowedImports(imports ...string) Option {
	return func(e *Engine) {
		e.allowed = make(map[string]struct{}, len(imports))
		for _, imp := range imports {
			e.allowed[imp] = struct{}{}
		}
	}
}

// Engine implements ports.Engine with the yaegi interpreter.
// Each compiled program gets its own interpreter.
type Engine struct {
	allowed map[string]struct{}
}

var _ ports.Engine = (*Engine)(nil)

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	WithAllowedImports(DefaultAllowedImports...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// program is the artifact produced by Compile.
type program struct {
	sourceID  string
	transform TransformFunc
}

// Compile parses and checks the program, evaluates it in a fresh interpreter
// and resolves its entry point.
func (e *Engine) Compile(
	ctx context.Context,
	source []byte,
	sourceID string,
	diag *domain.Diagnostics,
) (artifact ports.Artifact, err error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, sourceID, source, parser.AllErrors)
	if err != nil {
		reportParseError(diag, err)
		return nil, zerr.Wrap(domain.ErrCompilationFailed, "syntax error")
	}

	if forbidden := e.forbiddenImports(file.Imports); len(forbidden) > 0 {
		diag.Report(fmt.Sprintf("%s: forbidden imports %s (allowed: %s)",
			sourceID, strings.Join(forbidden, ", "), strings.Join(e.allowedImports(), ", ")))
		return nil, zerr.Wrap(domain.ErrCompilationFailed, "forbidden imports")
	}

	defer zerr.Defer(func(perr error) {
		diag.Report(fmt.Sprintf("%s: %s", sourceID, perr.Error()))
		artifact, err = nil, zerr.Wrap(domain.ErrCompilationFailed, "interpreter panicked")
	})

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, zerr.Wrap(err, "failed to load interpreter symbols")
	}

	if _, err := i.EvalWithContext(ctx, string(source)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, zerr.Wrap(ctxErr, "compilation interrupted")
		}
		diag.Report(prefixed(sourceID, err.Error()))
		return nil, zerr.Wrap(domain.ErrCompilationFailed, "evaluation failed")
	}

	entry, err := i.Eval(file.Name.Name + "." + EntryPoint)
	if err != nil {
		diag.Report(fmt.Sprintf("%s: program does not define func %s", sourceID, EntryPoint))
		return nil, zerr.Wrap(domain.ErrCompilationFailed, "missing entry point")
	}
	fn, ok := entry.Interface().(TransformFunc)
	if !ok {
		diag.Report(fmt.Sprintf("%s: %s has type %s, want %T", sourceID, EntryPoint, entry.Type(), TransformFunc(nil)))
		return nil, zerr.Wrap(domain.ErrCompilationFailed, "entry point has wrong signature")
	}

	return &program{sourceID: sourceID, transform: fn}, nil
}

// Execute runs a compiled program. An error returned by the program or a panic
// inside it is an execution failure; its text goes to diag.
//
// The interpreted call cannot be interrupted. When ctx is cancelled Execute
// returns immediately and later writes from the program are discarded.
func (e *Engine) Execute(
	ctx context.Context,
	artifact ports.Artifact,
	input ports.Source,
	params domain.Parameters,
	out io.Writer,
	diag *domain.Diagnostics,
) error {
	prog, ok := artifact.(*program)
	if !ok || prog == nil {
		return zerr.With(zerr.New("artifact was not produced by this engine"), "type", fmt.Sprintf("%T", artifact))
	}

	in := input.Reader
	if in == nil {
		in = strings.NewReader("")
	}

	fenced := &fencedWriter{w: out}
	done := make(chan error, 1)
	go func() {
		done <- prog.run(input.SystemID, in, fenced, cloneParameters(params))
	}()

	select {
	case err := <-done:
		fenced.close()
		if err != nil {
			diag.Report(err.Error())
			return zerr.Wrap(domain.ErrExecutionFailed, prog.sourceID)
		}
		return nil
	case <-ctx.Done():
		fenced.close()
		return zerr.Wrap(ctx.Err(), "execution interrupted")
	}
}

func (p *program) run(systemID string, in io.Reader, out io.Writer, params map[string][]string) (err error) {
	defer zerr.Defer(func(perr error) {
		err = fmt.Errorf("%s: %w", p.sourceID, perr)
	})
	return p.transform(systemID, in, out, params)
}

func (e *Engine) forbiddenImports(specs []*ast.ImportSpec) []string {
	var forbidden []string
	for _, spec := range specs {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			path = spec.Path.Value
		}
		if _, ok := e.allowed[path]; !ok {
			forbidden = append(forbidden, path)
		}
	}
	return forbidden
}

func (e *Engine) allowedImports() []string {
	return slices.Sorted(maps.Keys(e.allowed))
}

func reportParseError(diag *domain.Diagnostics, err error) {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		for _, item := range list {
			diag.Report(item.Error())
		}
		return
	}
	diag.Report(err.Error())
}

func prefixed(sourceID, msg string) string {
	if strings.HasPrefix(msg, sourceID) {
		return msg
	}
	return sourceID + ": " + msg
}

func cloneParameters(params domain.Parameters) map[string][]string {
	out := make(map[string][]string, len(params))
	for name, values := range params {
		out[name] = slices.Clone(values)
	}
	return out
}

// fencedWriter stops forwarding writes once closed, so a program that outlives
// its Execute call cannot touch the caller's writer.
type fencedWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func (f *fencedWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.w.Write(p)
}

func (f *fencedWriter) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
