package daemon

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	pollInterval    = 100 * time.Millisecond
	maxPollDuration = 5 * time.Second
)

// Connector implements ports.DaemonConnector.
type Connector struct {
	executablePath string
}

var _ ports.DaemonConnector = (*Connector)(nil)

// NewConnector creates a new daemon connector that spawns the running executable.
func NewConnector() (*Connector, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to determine executable path")
	}
	return &Connector{executablePath: exe}, nil
}

// Dial returns a client to a daemon that is already answering on addr.
func (c *Connector) Dial(ctx context.Context, addr domain.Address) (ports.DaemonClient, error) {
	client, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, zerr.With(zerr.Wrap(domain.ErrDaemonUnavailable, err.Error()), "address", addr.String())
	}
	return client, nil
}

// Connect returns a client, spawning the daemon if necessary.
func (c *Connector) Connect(ctx context.Context, addr domain.Address, opts ports.SpawnOptions) (ports.DaemonClient, error) {
	if client, err := c.Dial(ctx, addr); err == nil {
		return client, nil
	}

	if err := c.Spawn(ctx, addr, opts); err != nil {
		return nil, err
	}

	client, err := c.Dial(ctx, addr)
	if err != nil {
		return nil, zerr.Wrap(err, "daemon started but is not responsive")
	}
	return client, nil
}

// IsRunning checks if the daemon is running and responsive.
func (c *Connector) IsRunning(addr domain.Address) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.isRunningWithCtx(ctx, addr)
}

func (c *Connector) isRunningWithCtx(ctx context.Context, addr domain.Address) bool {
	client, err := c.Dial(ctx, addr)
	if err != nil {
		return false
	}
	_ = client.Close()
	return true
}

// Spawn starts the daemon process in the background and waits until it answers.
func (c *Connector) Spawn(ctx context.Context, addr domain.Address, opts ports.SpawnOptions) error {
	logPath := addr.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), domain.DirPerm); err != nil {
		return zerr.Wrap(err, "failed to create daemon directory")
	}

	//nolint:gosec // G304: logPath is derived from the daemon address
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, domain.PrivateFilePerm)
	if err != nil {
		return zerr.Wrap(err, "failed to open daemon log")
	}

	//nolint:gosec // G204: executablePath is controlled, args are built from parsed values
	cmd := exec.Command(c.executablePath, serveArgs(addr, opts)...)
	cmd.Dir = "/"
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return zerr.With(zerr.Wrap(domain.ErrDaemonSpawnFailed, err.Error()), "executable", c.executablePath)
	}

	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
	}()

	return c.waitForDaemonStartup(ctx, addr)
}

func serveArgs(addr domain.Address, opts ports.SpawnOptions) []string {
	addressType := domain.AddressTypeLocal
	if !addr.IsLocal() {
		addressType = domain.AddressTypeNetwork
	}
	args := []string{
		"serve",
		"--address", addr.Addr,
		"--address-type", addressType,
		"--idle-timeout", opts.IdleTimeout.String(),
	}
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}
	if opts.LogLevel != "" {
		args = append(args, "--log-level", opts.LogLevel)
	}
	return args
}

// waitForDaemonStartup waits for the daemon to become responsive.
func (c *Connector) waitForDaemonStartup(ctx context.Context, addr domain.Address) error {
	start := time.Now()
	for time.Since(start) < maxPollDuration {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if c.isRunningWithCtx(ctx, addr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return zerr.With(zerr.Wrap(domain.ErrDaemonSpawnFailed, "daemon failed to start within timeout"), "log", addr.LogPath())
}
