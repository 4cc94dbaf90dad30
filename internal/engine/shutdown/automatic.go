package shutdown

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

// Shutdowner is the orderly shutdown an Automatic delegates to.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
	GracePeriod() time.Duration
}

// AutomaticState is the progress of an Automatic.
type AutomaticState int32

// Automatic states. Terminated is terminal.
const (
	Watching AutomaticState = iota
	ConditionMet
	DelegatedShutdownInFlight
	Terminated
)

func (s AutomaticState) String() string {
	switch s {
	case Watching:
		return "watching"
	case ConditionMet:
		return "condition met"
	case DelegatedShutdownInFlight:
		return "shutdown in flight"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("AutomaticState(%d)", int32(s))
	}
}

// AutomaticOption configures an Automatic.
type AutomaticOption func(*Automatic)

// WithBuffer sets the time allowed on top of the delegate's grace period
// before the process is terminated anyway.
func WithBuffer(d time.Duration) AutomaticOption {
	return func(a *Automatic) {
		if d >= 0 {
			a.buffer = d
		}
	}
}

// WithExitStatus sets the status the process exits with.
func WithExitStatus(status int) AutomaticOption {
	return func(a *Automatic) {
		a.exitStatus = status
	}
}

// WithExitFunc replaces os.Exit.
func WithExitFunc(exit func(int)) AutomaticOption {
	return func(a *Automatic) {
		a.exit = exit
	}
}

// Automatic shuts the process down when a watched condition settles, and
// terminates it even if the orderly shutdown fails or hangs.
type Automatic struct {
	shutdowner Shutdowner
	logger     ports.Logger
	buffer     time.Duration
	exitStatus int
	exit       func(int)

	state     atomic.Int32
	startOnce sync.Once
	fired     atomic.Bool
	done      chan struct{}
}

// NewAutomatic creates an automatic shutdown around shutdowner.
func NewAutomatic(shutdowner Shutdowner, logger ports.Logger, opts ...AutomaticOption) *Automatic {
	a := &Automatic{
		shutdowner: shutdowner,
		logger:     logger,
		buffer:     domain.DefaultShutdownBuffer,
		exitStatus: domain.ExitAutomaticShutdown,
		exit:       os.Exit,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current state.
func (a *Automatic) State() AutomaticState {
	return AutomaticState(a.state.Load())
}

// Done is closed after the exit function was called.
func (a *Automatic) Done() <-chan struct{} {
	return a.done
}

// Start watches conditions in the background. The first condition to settle,
// successfully or with an error, triggers the shutdown. Cancelling ctx stops
// watching without shutting down. Only the first call has an effect.
func (a *Automatic) Start(ctx context.Context, conditions ...Condition) {
	a.startOnce.Do(func() {
		if len(conditions) == 0 {
			return
		}
		watchCtx, cancel := context.WithCancel(ctx)
		for _, cond := range conditions {
			go func() {
				err := cond.Wait(watchCtx)
				if ctx.Err() != nil {
					return
				}
				if !a.fired.CompareAndSwap(false, true) {
					return
				}
				cancel()
				a.trigger(cond, err)
			}()
		}
	})
}

func (a *Automatic) trigger(cond Condition, condErr error) {
	defer close(a.done)

	a.state.Store(int32(ConditionMet))
	a.logger.Warn("Automatic shutdown started: " + cond.Description)
	if condErr != nil {
		a.logger.Error(zerr.Wrap(condErr, "shutdown condition failed"))
	}

	a.state.Store(int32(DelegatedShutdownInFlight))
	limit := a.shutdowner.GracePeriod() + a.buffer
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	// The delegate may ignore ctx, so the limit is enforced here as well.
	result := make(chan error, 1)
	go func() { result <- a.shutdowner.Shutdown(ctx) }()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	var err error
	select {
	case err = <-result:
	case <-timer.C:
		err = context.DeadlineExceeded
	}
	if err != nil {
		a.logger.Warn(fmt.Sprintf("Automatic shutdown did not complete within %s: %v", limit, err))
	}

	a.state.Store(int32(Terminated))
	a.logger.Warn(fmt.Sprintf("Exiting with status %d", a.exitStatus))
	a.exit(a.exitStatus)
}
