// Package ports defines the core interfaces for the application.
package ports

import (
	"context"
	"io"

	"go.trai.ch/xnail/internal/core/domain"
)

// Artifact is the compiled, directly executable form of a program.
// Its concrete type belongs to the Engine that produced it.
type Artifact any

// Source is the input a compiled program runs against.
type Source struct {
	// SystemID identifies the input to the program, e.g. for resolving relative references.
	SystemID string
	// Reader supplies the input bytes. It is nil for an identifier-only source.
	Reader io.Reader
}

// Engine compiles and executes programs.
//
// Failures caused by the program or its input are returned wrapping
// domain.ErrCompilationFailed or domain.ErrExecutionFailed, with the user-facing
// explanation written to diag. Any other error is an internal fault.
//
//go:generate mockgen -source=engine.go -destination=mocks/mock_engine.go -package=mocks
type Engine interface {
	// Compile turns program source into an artifact.
	Compile(ctx context.Context, source []byte, sourceID string, diag *domain.Diagnostics) (Artifact, error)

	// Execute runs artifact against input, writing the result to out.
	Execute(
		ctx context.Context,
		artifact Artifact,
		input Source,
		params domain.Parameters,
		out io.Writer,
		diag *domain.Diagnostics,
	) error
}
