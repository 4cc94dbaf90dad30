package shutdown

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"go.trai.ch/zerr"
)

// Condition is an asynchronous event that ends the process.
type Condition struct {
	// Description is logged when the condition fires.
	Description string
	// Wait blocks until the condition settles or ctx is done.
	Wait func(ctx context.Context) error
}

// Func wraps a wait function.
func Func(description string, wait func(ctx context.Context) error) Condition {
	return Condition{Description: description, Wait: wait}
}

// Closed settles when ch is closed.
func Closed(description string, ch <-chan struct{}) Condition {
	return Func(description, func(ctx context.Context) error {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// ProcessExit settles when the process pid no longer exists, checked every interval.
func ProcessExit(pid int, interval time.Duration) Condition {
	return Func(fmt.Sprintf("Required process (PID %d) is no longer running", pid), func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			alive, err := processAlive(pid)
			if err != nil {
				return zerr.With(zerr.Wrap(err, "cannot check required process"), "pid", pid)
			}
			if !alive {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func processAlive(pid int) (bool, error) {
	err := syscall.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, syscall.EPERM):
		return true, nil
	case errors.Is(err, syscall.ESRCH):
		return false, nil
	default:
		return false, err
	}
}
