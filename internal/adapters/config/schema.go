package config

import (
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Document is the YAML form of the configuration file. Durations are
// written in time.ParseDuration syntax.
type Document struct {
	Address     string      `yaml:"address,omitempty"`
	AddressType string      `yaml:"address_type,omitempty"`
	Log         LogDTO      `yaml:"log"`
	Cache       CacheDTO    `yaml:"cache"`
	Pools       PoolsDTO    `yaml:"pools"`
	Shutdown    ShutdownDTO `yaml:"shutdown"`
	Daemon      DaemonDTO   `yaml:"daemon"`
	Metrics     MetricsDTO  `yaml:"metrics"`
}

// LogDTO is the log section of a Document.
type LogDTO struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheDTO is the cache section of a Document.
type CacheDTO struct {
	MaxEntries         int    `yaml:"max_entries"`
	RevalidateInterval string `yaml:"revalidate_interval"`
	Watch              bool   `yaml:"watch"`
}

// PoolsDTO is the pools section of a Document.
type PoolsDTO struct {
	CompileWorkers int    `yaml:"compile_workers"`
	EvalWorkers    int    `yaml:"eval_workers"`
	QueueSize      int    `yaml:"queue_size"`
	DrainTimeout   string `yaml:"drain_timeout"`
}

// ShutdownDTO is the shutdown section of a Document.
type ShutdownDTO struct {
	GracePeriod  string `yaml:"grace_period"`
	Buffer       string `yaml:"buffer"`
	PollInterval string `yaml:"poll_interval"`
}

// DaemonDTO is the daemon section of a Document.
type DaemonDTO struct {
	IdleTimeout      string `yaml:"idle_timeout"`
	SpawnIdleTimeout string `yaml:"spawn_idle_timeout"`
	RequirePID       int    `yaml:"require_pid,omitempty"`
}

// MetricsDTO is the metrics section of a Document.
type MetricsDTO struct {
	Address string `yaml:"address,omitempty"`
}

// NewDocument converts cfg to its file form.
func NewDocument(cfg domain.Config) Document {
	return Document{
		Address:     cfg.Address,
		AddressType: cfg.AddressType,
		Log:         LogDTO{Level: cfg.Log.Level, Format: cfg.Log.Format},
		Cache: CacheDTO{
			MaxEntries:         cfg.Cache.MaxEntries,
			RevalidateInterval: duration(cfg.Cache.RevalidateInterval),
			Watch:              cfg.Cache.Watch,
		},
		Pools: PoolsDTO{
			CompileWorkers: cfg.Pools.CompileWorkers,
			EvalWorkers:    cfg.Pools.EvalWorkers,
			QueueSize:      cfg.Pools.QueueSize,
			DrainTimeout:   duration(cfg.Pools.DrainTimeout),
		},
		Shutdown: ShutdownDTO{
			GracePeriod:  duration(cfg.Shutdown.GracePeriod),
			Buffer:       duration(cfg.Shutdown.Buffer),
			PollInterval: duration(cfg.Shutdown.PollInterval),
		},
		Daemon: DaemonDTO{
			IdleTimeout:      duration(cfg.Daemon.IdleTimeout),
			SpawnIdleTimeout: duration(cfg.Daemon.SpawnIdleTimeout),
			RequirePID:       cfg.Daemon.RequirePID,
		},
		Metrics: MetricsDTO{Address: cfg.Metrics.Address},
	}
}

// Render returns cfg as a YAML configuration file the loader accepts.
func Render(cfg domain.Config) ([]byte, error) {
	out, err := yaml.Marshal(NewDocument(cfg))
	if err != nil {
		return nil, zerr.Wrap(err, "failed to render configuration")
	}
	return out, nil
}

func duration(d time.Duration) string {
	return d.String()
}
