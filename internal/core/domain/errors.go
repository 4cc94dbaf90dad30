package domain

import "go.trai.ch/zerr"

var (
	// ErrCompilationFailed is returned by an engine when a program does not compile.
	// The user-facing explanation is written to the operation's Diagnostics.
	ErrCompilationFailed = zerr.New("compilation failed")

	// ErrExecutionFailed is returned by an engine when a compiled program fails while running.
	// The user-facing explanation is written to the operation's Diagnostics.
	ErrExecutionFailed = zerr.New("execution failed")

	// ErrInvalidCacheEntry is returned when the cache loader produces an entry that cannot be used.
	ErrInvalidCacheEntry = zerr.New("invalid cache entry")

	// ErrSourceReadFailed is returned when a program file exists but cannot be read.
	ErrSourceReadFailed = zerr.New("failed to read program file")

	// ErrSourceStatFailed is returned when a program file cannot be stat'ed for a reason other than absence.
	ErrSourceStatFailed = zerr.New("failed to stat program file")

	// ErrPoolClosed is returned when work is submitted to a pool that is shutting down.
	ErrPoolClosed = zerr.New("worker pool is closed")

	// ErrPoolCancelled is returned for work that was force-cancelled during pool shutdown.
	ErrPoolCancelled = zerr.New("work cancelled by pool shutdown")

	// ErrServiceClosed is returned when a transform is requested from a closed service instance.
	ErrServiceClosed = zerr.New("service instance is closed")

	// ErrShutdownTimeout is returned when the serving loop does not stop within the grace period.
	ErrShutdownTimeout = zerr.New("server failed to shut down cleanly")

	// ErrNegativeGracePeriod is returned when a shutdown manager is configured with a negative grace period.
	ErrNegativeGracePeriod = zerr.New("grace period must not be negative")

	// ErrInvalidAddress is returned when a daemon address cannot be parsed.
	ErrInvalidAddress = zerr.New("invalid address")

	// ErrInvalidParameter is returned when a NAME=VALUE parameter is malformed.
	ErrInvalidParameter = zerr.New("invalid parameter")

	// ErrDaemonSpawnFailed is returned when the background daemon cannot be started.
	ErrDaemonSpawnFailed = zerr.New("failed to spawn daemon")

	// ErrDaemonUnavailable is returned when no daemon answers on the configured address.
	ErrDaemonUnavailable = zerr.New("daemon is not running")

	// ErrProtocolViolation is returned when a peer sends messages out of the expected order.
	ErrProtocolViolation = zerr.New("protocol violation")

	// ErrConfigReadFailed is returned when the config file cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the config file cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = zerr.New("invalid configuration")
)
