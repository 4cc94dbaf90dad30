package domain

import (
	"runtime"
	"time"

	"go.trai.ch/zerr"
)

// Defaults for the daemon configuration.
const (
	DefaultCacheMaxEntries         = 100
	DefaultRevalidateInterval      = 60 * time.Second
	DefaultDrainTimeout            = 60 * time.Second
	DefaultShutdownGracePeriod     = 5 * time.Second
	DefaultShutdownBuffer          = 5 * time.Second
	DefaultShutdownPollInterval    = 100 * time.Millisecond
	DefaultSpawnIdleTimeout        = 10 * time.Minute
	DefaultWorkersPerCPU           = 2
	DefaultQueueSlotsPerWorker     = 4
	DefaultWatchDebounceWindow     = 100 * time.Millisecond
	DefaultRequiredProcessInterval = time.Second
)

// Config is the effective daemon configuration.
type Config struct {
	Address     string         `koanf:"address"`
	AddressType string         `koanf:"address_type"`
	Log         LogConfig      `koanf:"log"`
	Cache       CacheConfig    `koanf:"cache"`
	Pools       PoolConfig     `koanf:"pools"`
	Shutdown    ShutdownConfig `koanf:"shutdown"`
	Daemon      DaemonConfig   `koanf:"daemon"`
	Metrics     MetricsConfig  `koanf:"metrics"`
}

// LogConfig controls diagnostics verbosity and format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig controls the compiled-artifact cache.
type CacheConfig struct {
	MaxEntries         int           `koanf:"max_entries"`
	RevalidateInterval time.Duration `koanf:"revalidate_interval"`
	Watch              bool          `koanf:"watch"`
}

// PoolConfig controls the compilation and evaluation pools.
// Zero worker and queue counts select sizes relative to the number of CPUs.
type PoolConfig struct {
	CompileWorkers int           `koanf:"compile_workers"`
	EvalWorkers    int           `koanf:"eval_workers"`
	QueueSize      int           `koanf:"queue_size"`
	DrainTimeout   time.Duration `koanf:"drain_timeout"`
}

// ShutdownConfig controls the shutdown managers.
type ShutdownConfig struct {
	GracePeriod  time.Duration `koanf:"grace_period"`
	Buffer       time.Duration `koanf:"buffer"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// DaemonConfig controls the daemon's own lifetime.
type DaemonConfig struct {
	IdleTimeout      time.Duration `koanf:"idle_timeout"`
	SpawnIdleTimeout time.Duration `koanf:"spawn_idle_timeout"`
	RequirePID       int           `koanf:"require_pid"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Address string `koanf:"address"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Cache: CacheConfig{
			MaxEntries:         DefaultCacheMaxEntries,
			RevalidateInterval: DefaultRevalidateInterval,
		},
		Pools: PoolConfig{
			DrainTimeout: DefaultDrainTimeout,
		},
		Shutdown: ShutdownConfig{
			GracePeriod:  DefaultShutdownGracePeriod,
			Buffer:       DefaultShutdownBuffer,
			PollInterval: DefaultShutdownPollInterval,
		},
		Daemon: DaemonConfig{
			SpawnIdleTimeout: DefaultSpawnIdleTimeout,
		},
	}
}

// EffectiveCompileWorkers returns the effective compilation pool size.
func (p PoolConfig) EffectiveCompileWorkers() int {
	return workersOrDefault(p.CompileWorkers)
}

// EffectiveEvalWorkers returns the effective evaluation pool size.
func (p PoolConfig) EffectiveEvalWorkers() int {
	return workersOrDefault(p.EvalWorkers)
}

// EffectiveQueueSize returns the queue bound for a pool of the given size.
func (p PoolConfig) EffectiveQueueSize(workers int) int {
	if p.QueueSize > 0 {
		return p.QueueSize
	}
	return workers * DefaultQueueSlotsPerWorker
}

func workersOrDefault(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU() * DefaultWorkersPerCPU
}

// Validate rejects negative sizes and durations and unknown enumerations.
func (c Config) Validate() error {
	checks := []struct {
		key string
		bad bool
	}{
		{"cache.max_entries", c.Cache.MaxEntries <= 0},
		{"cache.revalidate_interval", c.Cache.RevalidateInterval < 0},
		{"pools.compile_workers", c.Pools.CompileWorkers < 0},
		{"pools.eval_workers", c.Pools.EvalWorkers < 0},
		{"pools.queue_size", c.Pools.QueueSize < 0},
		{"pools.drain_timeout", c.Pools.DrainTimeout < 0},
		{"shutdown.grace_period", c.Shutdown.GracePeriod < 0},
		{"shutdown.buffer", c.Shutdown.Buffer < 0},
		{"shutdown.poll_interval", c.Shutdown.PollInterval <= 0},
		{"daemon.idle_timeout", c.Daemon.IdleTimeout < 0},
		{"daemon.spawn_idle_timeout", c.Daemon.SpawnIdleTimeout < 0},
		{"daemon.require_pid", c.Daemon.RequirePID < 0},
	}
	for _, check := range checks {
		if check.bad {
			return zerr.With(zerr.Wrap(ErrInvalidConfig, "value out of range"), "key", check.key)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return zerr.With(zerr.Wrap(ErrInvalidConfig, "unknown log level"), "key", "log.level")
	}
	switch c.Log.Format {
	case "auto", "pretty", "json":
	default:
		return zerr.With(zerr.Wrap(ErrInvalidConfig, "unknown log format"), "key", "log.format")
	}
	switch c.AddressType {
	case "", AddressTypeLocal, AddressTypeNetwork:
	default:
		return zerr.With(zerr.Wrap(ErrInvalidConfig, "unknown address type"), "key", "address_type")
	}
	return nil
}
