package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.trai.ch/xnail/internal/adapters/daemon"
	"go.trai.ch/xnail/internal/adapters/telemetry"
	"go.trai.ch/xnail/internal/build"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/engine/service"
	"go.trai.ch/xnail/internal/engine/shutdown"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Serve runs the daemon until ctx is cancelled, a client requests shutdown,
// or an automatic shutdown condition fires. Cancelling ctx and shutdown
// requests run the graceful shutdown; automatic shutdown ends the process
// with domain.ExitAutomaticShutdown.
func (a *App) Serve(ctx context.Context, configPath string, overrides Overrides) error {
	cfg, err := a.Config(configPath, overrides)
	if err != nil {
		return err
	}
	addr, err := address(cfg)
	if err != nil {
		return err
	}

	stopTracing := telemetry.InstallTracing(a.logger)
	defer func() { _ = stopTracing(context.Background()) }()

	opts := service.OptionsFromConfig(cfg)
	newService := func() (*service.Service, error) {
		return service.New(opts, a.engine, a.logger, a.metrics, a.watchers)
	}

	lifecycle := daemon.NewLifecycle(cfg.Daemon.IdleTimeout)
	server := daemon.NewServer(addr, lifecycle, a.registry, newService, a.logger, build.Version)

	manager, err := shutdown.NewManager(server, a.logger,
		shutdown.WithGracePeriod(cfg.Shutdown.GracePeriod),
		shutdown.WithPollInterval(cfg.Shutdown.PollInterval),
	)
	if err != nil {
		return err
	}

	var metricsListener net.Listener
	if cfg.Metrics.Address != "" {
		metricsListener, err = net.Listen("tcp", cfg.Metrics.Address)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to listen for metrics"), "address", cfg.Metrics.Address)
		}
	}

	// Serving is not tied to ctx: cancellation goes through the shutdown manager.
	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServing()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	if metricsListener != nil {
		g.Go(func() error {
			return a.metrics.Serve(gctx, metricsListener)
		})
	}

	select {
	case <-server.Ready():
	case <-gctx.Done():
		stopServing()
		return g.Wait()
	}
	_, _ = fmt.Fprintf(a.stdout, "xnail server started on %s\n", addr)

	automatic := shutdown.NewAutomatic(manager, a.logger,
		shutdown.WithBuffer(cfg.Shutdown.Buffer),
		shutdown.WithExitFunc(a.exit),
	)
	watchCtx, stopWatching := context.WithCancel(serveCtx)
	defer stopWatching()
	automatic.Start(watchCtx, a.conditions(cfg, lifecycle)...)

	var shutdownErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
		shutdownErr = manager.Shutdown(context.Background())
	case <-lifecycle.ShutdownChan():
		shutdownErr = manager.Shutdown(context.Background())
	case <-automatic.Done():
		stopServing()
		_ = g.Wait()
		return &domain.ExitError{Status: domain.ExitAutomaticShutdown}
	case <-gctx.Done():
	}

	stopWatching()
	stopServing()
	if shutdownErr != nil {
		return shutdownErr
	}
	return g.Wait()
}

func (a *App) conditions(cfg domain.Config, lifecycle *daemon.Lifecycle) []shutdown.Condition {
	var conditions []shutdown.Condition
	if pid := cfg.Daemon.RequirePID; pid > 0 {
		conditions = append(conditions, shutdown.ProcessExit(pid, domain.DefaultRequiredProcessInterval))
	}
	if idle := cfg.Daemon.IdleTimeout; idle > 0 {
		conditions = append(conditions, shutdown.Closed(
			fmt.Sprintf("Server was idle for %s", idle.Round(time.Second)),
			lifecycle.IdleChan(),
		))
	}
	return conditions
}
