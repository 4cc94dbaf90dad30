// Package app implements the application layer for xnail.
package app

import (
	"io"
	"os"
	"time"

	"go.trai.ch/xnail/internal/adapters/config"
	"go.trai.ch/xnail/internal/adapters/daemon"
	"go.trai.ch/xnail/internal/adapters/telemetry"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/engine/service"
)

// App represents the main application logic.
type App struct {
	configLoader ports.ConfigLoader
	logger       ports.Logger
	connector    ports.DaemonConnector
	engine       ports.Engine
	metrics      *telemetry.Prometheus
	watchers     ports.WatcherFactory
	registry     *service.Registry[daemon.Server]

	stdout io.Writer
	exit   func(int)
}

// New creates a new App instance.
func New(
	loader ports.ConfigLoader,
	log ports.Logger,
	connector ports.DaemonConnector,
	engine ports.Engine,
	metrics *telemetry.Prometheus,
	watchers ports.WatcherFactory,
) *App {
	return &App{
		configLoader: loader,
		logger:       log,
		connector:    connector,
		engine:       engine,
		metrics:      metrics,
		watchers:     watchers,
		registry:     service.NewRegistry[daemon.Server](),
		stdout:       os.Stdout,
		exit:         os.Exit,
	}
}

// WithStdout redirects informational command output.
func (a *App) WithStdout(w io.Writer) *App {
	a.stdout = w
	return a
}

// WithExitFunc replaces the function that terminates the process after an
// automatic shutdown. This is primarily used for testing.
func (a *App) WithExitFunc(exit func(int)) *App {
	a.exit = exit
	return a
}

// Overrides are command-line values that take precedence over the
// configuration file and environment. Nil fields are not applied.
type Overrides struct {
	Address        *string
	AddressType    *string
	LogLevel       *string
	IdleTimeout    *time.Duration
	RequirePID     *int
	MetricsAddress *string
}

func (o Overrides) apply(cfg *domain.Config) {
	if o.Address != nil {
		cfg.Address = *o.Address
	}
	if o.AddressType != nil {
		cfg.AddressType = *o.AddressType
	}
	if o.LogLevel != nil {
		cfg.Log.Level = *o.LogLevel
	}
	if o.IdleTimeout != nil {
		cfg.Daemon.IdleTimeout = *o.IdleTimeout
	}
	if o.RequirePID != nil {
		cfg.Daemon.RequirePID = *o.RequirePID
	}
	if o.MetricsAddress != nil {
		cfg.Metrics.Address = *o.MetricsAddress
	}
}

// Config loads the configuration at path, applies overrides and configures
// the logger from the result.
func (a *App) Config(path string, overrides Overrides) (domain.Config, error) {
	cfg, err := a.configLoader.Load(path)
	if err != nil {
		return domain.Config{}, err
	}
	overrides.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, err
	}

	if l, ok := a.logger.(configurableLogger); ok {
		if err := l.SetLevel(cfg.Log.Level); err != nil {
			return domain.Config{}, err
		}
		if err := l.SetFormat(cfg.Log.Format); err != nil {
			return domain.Config{}, err
		}
	}
	return cfg, nil
}

// RenderConfig writes the effective configuration as YAML.
func (a *App) RenderConfig(path string, overrides Overrides, w io.Writer) error {
	cfg, err := a.Config(path, overrides)
	if err != nil {
		return err
	}
	out, err := config.Render(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

type configurableLogger interface {
	SetLevel(level string) error
	SetFormat(format string) error
}

func address(cfg domain.Config) (domain.Address, error) {
	addr, err := domain.ParseAddress(cfg.Address, cfg.AddressType)
	if err != nil {
		return domain.Address{}, domain.NewUserError(err.Error())
	}
	return addr, nil
}
