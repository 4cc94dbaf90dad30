package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/engine/service"
	"go.trai.ch/zerr"
)

// TransformOptions holds the arguments of a transform command.
type TransformOptions struct {
	ConfigPath string
	Overrides  Overrides
	Program    string
	Input      string
	HasInput   bool
	SystemID   string
	// HasSystemID distinguishes an explicitly empty identifier from none.
	HasSystemID bool
	Parameters  []string
	// Local runs the transform in-process instead of on the daemon.
	Local bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Transform runs one transform and returns an *domain.ExitError when it
// finished with a non-zero status after reporting its failure on Stderr.
func (a *App) Transform(ctx context.Context, opts TransformOptions) error {
	cfg, err := a.Config(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return err
	}

	params := domain.Parameters{}
	for _, p := range opts.Parameters {
		name, value, err := domain.ParseParameter(p)
		if err != nil {
			return domain.NewUserError(err.Error())
		}
		params.Add(name, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return zerr.Wrap(err, "failed to determine working directory")
	}

	req := ports.TransformRequest{
		Program:     opts.Program,
		Input:       opts.Input,
		HasInput:    opts.HasInput,
		SystemID:    opts.SystemID,
		HasSystemID: opts.HasSystemID,
		Parameters:  params,
		Cwd:         cwd,
		Stdin:       opts.Stdin,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
	}

	var status int
	if opts.Local {
		status, err = a.transformLocal(ctx, cfg, req)
	} else {
		status, err = a.transformRemote(ctx, cfg, opts.ConfigPath, req)
	}
	if err != nil {
		return err
	}
	if status != domain.ExitSuccess {
		return &domain.ExitError{Status: status}
	}
	return nil
}

func (a *App) transformRemote(ctx context.Context, cfg domain.Config, configPath string, req ports.TransformRequest) (int, error) {
	addr, err := address(cfg)
	if err != nil {
		return 0, err
	}

	// A spawned daemon runs from the filesystem root.
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}

	client, err := a.connector.Connect(ctx, addr, ports.SpawnOptions{
		IdleTimeout: cfg.Daemon.SpawnIdleTimeout,
		ConfigPath:  configPath,
		LogLevel:    cfg.Log.Level,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Close() }()

	return client.Transform(ctx, req)
}

// transformLocal runs req on a service owned by this process. Failures are
// reported on req.Stderr the same way the daemon reports them.
func (a *App) transformLocal(ctx context.Context, cfg domain.Config, req ports.TransformRequest) (int, error) {
	svc, err := service.New(service.OptionsFromConfig(cfg), a.engine, a.logger, a.metrics, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = svc.Close() }()

	op, err := localOperation(req)
	if err == nil {
		err = svc.Transform(ctx, op, req.Stdin, req.Stdout)
	}
	if err != nil {
		text := err.Error()
		if !domain.IsUserError(err) {
			text = "internal error: " + text
		}
		_, _ = fmt.Fprintln(req.Stderr, text)
	}
	return domain.ExitStatusOf(err), nil
}

func localOperation(req ports.TransformRequest) (domain.TransformOperation, error) {
	program, err := domain.NewSourceIdentity(req.Cwd, req.Program)
	if err != nil {
		return domain.TransformOperation{}, domain.NewUserError(fmt.Sprintf("Invalid program path %q: %v", req.Program, err))
	}
	input := req.Input
	if req.HasInput && input != domain.StdinPath && !filepath.IsAbs(input) {
		input = filepath.Join(req.Cwd, input)
	}
	return domain.TransformOperation{
		Program:     program,
		Input:       input,
		HasInput:    req.HasInput,
		SystemID:    req.SystemID,
		HasSystemID: req.HasSystemID,
		Parameters:  req.Parameters,
	}, nil
}

// DaemonStatus prints the status of the daemon at the configured address.
func (a *App) DaemonStatus(ctx context.Context, configPath string, overrides Overrides) error {
	cfg, err := a.Config(configPath, overrides)
	if err != nil {
		return err
	}
	addr, err := address(cfg)
	if err != nil {
		return err
	}

	client, err := a.connector.Dial(ctx, addr)
	if err != nil {
		_, _ = fmt.Fprintf(a.stdout, "xnail daemon is not running on %s\n", addr)
		return nil
	}
	defer func() { _ = client.Close() }()

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(a.stdout, "Address:         %s\n", addr)
	_, _ = fmt.Fprintf(a.stdout, "PID:             %d\n", status.PID)
	_, _ = fmt.Fprintf(a.stdout, "Version:         %s\n", status.Version)
	_, _ = fmt.Fprintf(a.stdout, "Uptime:          %s\n", status.Uptime.Round(time.Second))
	_, _ = fmt.Fprintf(a.stdout, "Last activity:   %s\n", status.LastActivity.Format(time.RFC3339))
	if cfg.Daemon.IdleTimeout > 0 || status.IdleRemaining > 0 {
		_, _ = fmt.Fprintf(a.stdout, "Idle remaining:  %s\n", status.IdleRemaining.Round(time.Second))
	}
	_, _ = fmt.Fprintf(a.stdout, "Cached programs: %d\n", status.CachedPrograms)
	return nil
}

// StopDaemon asks the daemon at the configured address to shut down.
func (a *App) StopDaemon(ctx context.Context, configPath string, overrides Overrides) error {
	cfg, err := a.Config(configPath, overrides)
	if err != nil {
		return err
	}
	addr, err := address(cfg)
	if err != nil {
		return err
	}

	client, err := a.connector.Dial(ctx, addr)
	if err != nil {
		_, _ = fmt.Fprintf(a.stdout, "xnail daemon is not running on %s\n", addr)
		return nil
	}
	defer func() { _ = client.Close() }()

	if err := client.Shutdown(ctx); err != nil {
		return zerr.Wrap(err, "failed to stop daemon")
	}
	_, _ = fmt.Fprintln(a.stdout, "xnail daemon stopped")
	return nil
}
