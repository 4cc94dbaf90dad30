// Package main is the entry point for the xnail transform client and daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindlemire/graft"
	"go.trai.ch/xnail/cmd/xnail/commands"
	"go.trai.ch/xnail/internal/app"
	"go.trai.ch/xnail/internal/core/domain"
	_ "go.trai.ch/xnail/internal/wiring"
)

// ComponentProvider is a function that returns the application components.
type ComponentProvider func(context.Context) (*app.Components, func(), error)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr, func(ctx context.Context) (*app.Components, func(), error) {
		c, _, err := graft.ExecuteFor[*app.Components](ctx)
		return c, func() {}, err
	}))
}

func run(
	ctx context.Context,
	args []string,
	stderr io.Writer,
	provider ComponentProvider,
	opts ...func(*app.App),
) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, cleanup, err := provider(ctx)
	if err != nil {
		// No logger yet.
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return domain.ExitInternalError
	}
	defer cleanup()

	for _, opt := range opts {
		opt(components.App)
	}

	cli := commands.New(components.App)
	cli.SetArgs(args)
	cli.SetOutput(os.Stdout, stderr)

	err = cli.Execute(ctx)
	var exitErr *domain.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		// Already reported by whoever produced the status.
	case domain.IsUserError(err):
		_, _ = fmt.Fprintln(stderr, err.Error())
	default:
		components.Logger.Error(err)
	}
	return domain.ExitStatusOf(err)
}
