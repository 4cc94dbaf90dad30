package daemon

import (
	"sync"
	"time"
)

// Lifecycle tracks daemon activity. It signals idleness after the configured
// inactivity timeout and explicit shutdown requests on separate channels.
type Lifecycle struct {
	mu           sync.Mutex
	timer        *time.Timer
	startTime    time.Time
	lastActivity time.Time
	timeout      time.Duration
	// active counts requests in flight. The daemon is never idle while it is positive.
	active  int
	stopped bool

	idleChan     chan struct{}
	idleOnce     sync.Once
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycle creates a lifecycle with the given inactivity timeout.
// A zero timeout disables idle detection.
func NewLifecycle(timeout time.Duration) *Lifecycle {
	now := time.Now()
	l := &Lifecycle{
		startTime:    now,
		lastActivity: now,
		timeout:      timeout,
		idleChan:     make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}
	if timeout > 0 {
		l.timer = time.AfterFunc(timeout, l.triggerIdle)
	}
	return l
}

// ResetTimer records activity and restarts the inactivity timer.
func (l *Lifecycle) ResetTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActivity = time.Now()
	if l.timer != nil && l.active == 0 && !l.stopped {
		l.timer.Reset(l.timeout)
	}
}

// Begin records the start of a request. The inactivity timer is held until
// every begun request has ended.
func (l *Lifecycle) Begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActivity = time.Now()
	l.active++
	if l.timer != nil {
		l.timer.Stop()
	}
}

// End records the end of a request started with Begin.
func (l *Lifecycle) End() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActivity = time.Now()
	if l.active > 0 {
		l.active--
	}
	if l.timer != nil && l.active == 0 && !l.stopped {
		l.timer.Reset(l.timeout)
	}
}

// IdleTimeout returns the configured inactivity timeout.
func (l *Lifecycle) IdleTimeout() time.Duration {
	return l.timeout
}

// IdleRemaining returns the duration until the daemon counts as idle.
// It is zero when idle detection is disabled.
func (l *Lifecycle) IdleRemaining() time.Duration {
	if l.timeout <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		return l.timeout
	}
	remaining := l.timeout - time.Since(l.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Uptime returns how long the daemon has been running.
func (l *Lifecycle) Uptime() time.Duration {
	return time.Since(l.startTime)
}

// LastActivity returns the timestamp of the last activity.
func (l *Lifecycle) LastActivity() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastActivity
}

// IdleChan is closed once the daemon was inactive for the timeout.
func (l *Lifecycle) IdleChan() <-chan struct{} {
	return l.idleChan
}

// ShutdownChan is closed when shutdown was requested.
func (l *Lifecycle) ShutdownChan() <-chan struct{} {
	return l.shutdownChan
}

func (l *Lifecycle) triggerIdle() {
	l.mu.Lock()
	// The timer may fire concurrently with Begin or a reset.
	busy := l.active > 0 || time.Since(l.lastActivity) < l.timeout
	l.mu.Unlock()
	if busy {
		return
	}
	l.idleOnce.Do(func() {
		close(l.idleChan)
	})
}

// Shutdown stops the inactivity timer and requests shutdown. It is idempotent.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()
	l.shutdownOnce.Do(func() {
		close(l.shutdownChan)
	})
}
