package ports

import (
	"context"
	"io"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
)

//go:generate mockgen -source=daemon.go -destination=mocks/mock_daemon.go -package=mocks

// DaemonStatus represents the current state of the daemon.
type DaemonStatus struct {
	Running        bool
	PID            int
	Uptime         time.Duration
	LastActivity   time.Time
	IdleRemaining  time.Duration
	CachedPrograms int
	Version        string
}

// TransformRequest is a transform as seen by a client of the daemon.
// Relative Program and Input paths are resolved against Cwd by the daemon.
type TransformRequest struct {
	Program     string
	Input       string
	HasInput    bool
	SystemID    string
	HasSystemID bool
	Parameters  domain.Parameters
	Cwd         string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// SpawnOptions configures a daemon started in the background.
type SpawnOptions struct {
	IdleTimeout time.Duration
	ConfigPath  string
	LogLevel    string
}

// DaemonClient defines the interface for communicating with the daemon.
type DaemonClient interface {
	// Ping checks if the daemon is alive and resets the inactivity timer.
	Ping(ctx context.Context) error

	// Status returns the current daemon status.
	Status(ctx context.Context) (*DaemonStatus, error)

	// Shutdown requests a graceful daemon shutdown.
	Shutdown(ctx context.Context) error

	// Transform runs a transform on the daemon, streaming req.Stdin to it and its
	// output to req.Stdout and req.Stderr. It returns the remote exit status.
	Transform(ctx context.Context, req TransformRequest) (int, error)

	// Close releases client resources.
	Close() error
}

// DaemonConnector manages daemon lifecycle from the CLI perspective.
type DaemonConnector interface {
	// Dial returns a client to an already running daemon.
	Dial(ctx context.Context, addr domain.Address) (DaemonClient, error)

	// Connect returns a client to the daemon, spawning it if necessary.
	Connect(ctx context.Context, addr domain.Address, opts SpawnOptions) (DaemonClient, error)

	// IsRunning checks if a daemon is answering on addr.
	IsRunning(addr domain.Address) bool

	// Spawn starts a new daemon process in the background.
	Spawn(ctx context.Context, addr domain.Address, opts SpawnOptions) error
}
