// Package shutdown stops the request-accepting loop within a grace period, either
// on request or automatically when a watched condition settles.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

// Stoppable is a request-accepting loop.
type Stoppable interface {
	// Stop asks the loop to stop accepting requests and wind down.
	Stop()
	// IsRunning reports whether the loop is still serving.
	IsRunning() bool
}

// State is the progress of a Manager.
type State int32

// Manager states. Stopped and TimedOut are terminal.
const (
	Running State = iota
	ShuttingDown
	Stopped
	TimedOut
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithGracePeriod sets how long Shutdown waits for the loop to stop.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithPollInterval sets how often Shutdown checks whether the loop stopped.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.poll = d
		}
	}
}

// Manager drives one orderly stop of a Stoppable.
type Manager struct {
	loop   Stoppable
	logger ports.Logger
	grace  time.Duration
	poll   time.Duration

	state atomic.Int32
	once  sync.Once
	done  chan struct{}
	err   error
}

// NewManager creates a manager for loop. The grace period defaults to
// domain.DefaultShutdownGracePeriod and must not be negative.
func NewManager(loop Stoppable, logger ports.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		loop:   loop,
		logger: logger,
		grace:  domain.DefaultShutdownGracePeriod,
		poll:   domain.DefaultShutdownPollInterval,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.grace < 0 {
		return nil, zerr.With(zerr.Wrap(domain.ErrNegativeGracePeriod, "invalid shutdown manager"), "grace_period", m.grace.String())
	}
	return m, nil
}

// GracePeriod returns the configured grace period.
func (m *Manager) GracePeriod() time.Duration {
	return m.grace
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Done is closed once the shutdown attempt finished, successfully or not.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Shutdown stops the loop and waits until it reports stopped. It fails with an
// error wrapping domain.ErrShutdownTimeout when the grace period elapses first.
//
// Only the first call starts an attempt; later and concurrent calls wait for
// the same attempt. Cancelling ctx stops the wait, not the attempt.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.state.Store(int32(ShuttingDown))
		go m.run()
	})

	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)

	// Stop may block until in-flight requests finish; the deadline still applies.
	go m.loop.Stop()

	deadline := time.NewTimer(m.grace)
	defer deadline.Stop()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		if !m.loop.IsRunning() {
			m.state.Store(int32(Stopped))
			m.logger.Debug("server stopped")
			return
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			if !m.loop.IsRunning() {
				m.state.Store(int32(Stopped))
				return
			}
			m.state.Store(int32(TimedOut))
			m.err = zerr.With(
				zerr.Wrap(domain.ErrShutdownTimeout, fmt.Sprintf("server failed to shut down cleanly within %s grace period", m.grace)),
				"grace_period", m.grace.String(),
			)
			return
		}
	}
}
