package shutdown_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports/mocks"
	"go.trai.ch/xnail/internal/engine/shutdown"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLoop stops stopDelay after Stop is called. A negative delay never stops.
type fakeLoop struct {
	stopDelay time.Duration
	running   atomic.Bool
	stops     atomic.Int32
}

func newFakeLoop(stopDelay time.Duration) *fakeLoop {
	l := &fakeLoop{stopDelay: stopDelay}
	l.running.Store(true)
	return l
}

func (l *fakeLoop) Stop() {
	l.stops.Add(1)
	if l.stopDelay < 0 {
		return
	}
	time.AfterFunc(l.stopDelay, func() { l.running.Store(false) })
}

func (l *fakeLoop) IsRunning() bool {
	return l.running.Load()
}

func quietLogger(t *testing.T) *mocks.MockLogger {
	t.Helper()
	logger := mocks.NewMockLogger(gomock.NewController(t))
	logger.EXPECT().Debug(gomock.Any()).AnyTimes()
	return logger
}

func TestManager_StopsWithinGracePeriod(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		loop := newFakeLoop(250 * time.Millisecond)
		m, err := shutdown.NewManager(loop, quietLogger(t), shutdown.WithGracePeriod(time.Second))
		require.NoError(t, err)
		assert.Equal(t, shutdown.Running, m.State())

		start := time.Now()
		require.NoError(t, m.Shutdown(context.Background()))

		// The stop is observed at the first poll after it happened.
		assert.Equal(t, 300*time.Millisecond, time.Since(start))
		assert.Equal(t, shutdown.Stopped, m.State())
		assert.Equal(t, int32(1), loop.stops.Load())
	})
}

func TestManager_TimesOut(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		loop := newFakeLoop(-1)
		m, err := shutdown.NewManager(loop, quietLogger(t), shutdown.WithGracePeriod(2*time.Second))
		require.NoError(t, err)

		start := time.Now()
		err = m.Shutdown(context.Background())
		assert.Equal(t, 2*time.Second, time.Since(start))
		require.ErrorIs(t, err, domain.ErrShutdownTimeout)
		assert.Contains(t, err.Error(), "server failed to shut down cleanly within 2s grace period")
		assert.Equal(t, shutdown.TimedOut, m.State())
	})
}

func TestManager_ConcurrentCallsShareOneAttempt(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		loop := newFakeLoop(time.Second)
		m, err := shutdown.NewManager(loop, quietLogger(t), shutdown.WithGracePeriod(5*time.Second))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 3)
		for i := range errs {
			wg.Go(func() {
				errs[i] = m.Shutdown(context.Background())
			})
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), loop.stops.Load())

		// Calls after completion return the same outcome without a new attempt.
		require.NoError(t, m.Shutdown(context.Background()))
		assert.Equal(t, int32(1), loop.stops.Load())
	})
}

func TestManager_CallerContextOnlyStopsWaiting(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		loop := newFakeLoop(time.Second)
		m, err := shutdown.NewManager(loop, quietLogger(t))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
		assert.Equal(t, shutdown.ShuttingDown, m.State())

		<-m.Done()
		assert.Equal(t, shutdown.Stopped, m.State())
	})
}

func TestManager_AlreadyStoppedLoop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		loop := newFakeLoop(0)
		loop.running.Store(false)
		m, err := shutdown.NewManager(loop, quietLogger(t), shutdown.WithGracePeriod(0))
		require.NoError(t, err)
		require.NoError(t, m.Shutdown(context.Background()))
		assert.Equal(t, shutdown.Stopped, m.State())
	})
}

func TestNewManager_RejectsNegativeGracePeriod(t *testing.T) {
	_, err := shutdown.NewManager(newFakeLoop(0), nil, shutdown.WithGracePeriod(-time.Second))
	assert.ErrorIs(t, err, domain.ErrNegativeGracePeriod)
}

func TestManager_Defaults(t *testing.T) {
	m, err := shutdown.NewManager(newFakeLoop(0), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultShutdownGracePeriod, m.GracePeriod())
}

// fakeShutdowner records calls and blocks for delay (or until ctx is done).
type fakeShutdowner struct {
	grace time.Duration
	delay time.Duration
	err   error
	calls atomic.Int32
}

func (f *fakeShutdowner) GracePeriod() time.Duration { return f.grace }

func (f *fakeShutdowner) Shutdown(ctx context.Context) error {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type exitRecorder struct {
	mu       sync.Mutex
	statuses []int
}

func (r *exitRecorder) exit(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *exitRecorder) Statuses() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.statuses...)
}

func TestAutomatic_ShutsDownAndExitsWhenConditionFires(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctrl := gomock.NewController(t)
		logger := mocks.NewMockLogger(ctrl)
		logger.EXPECT().Warn("Automatic shutdown started: companion gone")
		logger.EXPECT().Warn("Exiting with status 3")

		sd := &fakeShutdowner{grace: time.Second, delay: 200 * time.Millisecond}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, logger, shutdown.WithExitFunc(rec.exit))
		assert.Equal(t, shutdown.Watching, a.State())

		trigger := make(chan struct{})
		a.Start(context.Background(), shutdown.Closed("companion gone", trigger))

		synctest.Wait()
		assert.Equal(t, shutdown.Watching, a.State())

		close(trigger)
		<-a.Done()

		assert.Equal(t, shutdown.Terminated, a.State())
		assert.Equal(t, []int{domain.ExitAutomaticShutdown}, rec.Statuses())
		assert.Equal(t, int32(1), sd.calls.Load())
	})
}

func TestAutomatic_ForcesExitWhenShutdownHangs(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctrl := gomock.NewController(t)
		logger := mocks.NewMockLogger(ctrl)
		logger.EXPECT().Warn(gomock.Any()).Times(3)

		sd := &fakeShutdowner{grace: 2 * time.Second, delay: time.Hour}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, logger,
			shutdown.WithBuffer(3*time.Second),
			shutdown.WithExitStatus(42),
			shutdown.WithExitFunc(rec.exit),
		)

		start := time.Now()
		a.Start(context.Background(), shutdown.Func("now", func(context.Context) error { return nil }))
		<-a.Done()

		assert.Equal(t, 5*time.Second, time.Since(start))
		assert.Equal(t, []int{42}, rec.Statuses())
	})
}

// stuckShutdowner ignores its context and returns only once released.
type stuckShutdowner struct {
	grace   time.Duration
	release chan struct{}
}

func (s *stuckShutdowner) GracePeriod() time.Duration { return s.grace }

func (s *stuckShutdowner) Shutdown(context.Context) error {
	<-s.release
	return nil
}

func TestAutomatic_ExitsAtLimitWhenShutdownIgnoresContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctrl := gomock.NewController(t)
		logger := mocks.NewMockLogger(ctrl)
		logger.EXPECT().Warn("Automatic shutdown started: now")
		logger.EXPECT().Warn("Automatic shutdown did not complete within 2s: context deadline exceeded")
		logger.EXPECT().Warn("Exiting with status 3")

		sd := &stuckShutdowner{grace: time.Second, release: make(chan struct{})}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, logger,
			shutdown.WithBuffer(time.Second),
			shutdown.WithExitFunc(rec.exit),
		)

		start := time.Now()
		a.Start(context.Background(), shutdown.Func("now", func(context.Context) error { return nil }))
		<-a.Done()

		assert.Equal(t, 2*time.Second, time.Since(start))
		assert.Equal(t, shutdown.Terminated, a.State())
		assert.Equal(t, []int{domain.ExitAutomaticShutdown}, rec.Statuses())

		close(sd.release)
		synctest.Wait()
	})
}

func TestAutomatic_ExitsEvenWhenShutdownFails(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctrl := gomock.NewController(t)
		logger := mocks.NewMockLogger(ctrl)
		logger.EXPECT().Warn(gomock.Any()).Times(3)

		sd := &fakeShutdowner{grace: time.Second, err: errors.New("listener stuck")}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, logger, shutdown.WithExitFunc(rec.exit))

		a.Start(context.Background(), shutdown.Func("now", func(context.Context) error { return nil }))
		<-a.Done()
		assert.Equal(t, []int{domain.ExitAutomaticShutdown}, rec.Statuses())
	})
}

func TestAutomatic_FailedConditionCountsAsMet(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctrl := gomock.NewController(t)
		logger := mocks.NewMockLogger(ctrl)
		logger.EXPECT().Warn("Automatic shutdown started: watch")
		logger.EXPECT().Warn("Exiting with status 3")
		logger.EXPECT().Error(gomock.Any()).Do(func(err error) {
			assert.Contains(t, err.Error(), "watch broke")
		})

		sd := &fakeShutdowner{grace: time.Second}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, logger, shutdown.WithExitFunc(rec.exit))

		a.Start(context.Background(), shutdown.Func("watch", func(context.Context) error {
			return errors.New("watch broke")
		}))
		<-a.Done()
		assert.Equal(t, []int{domain.ExitAutomaticShutdown}, rec.Statuses())
	})
}

func TestAutomatic_FirstConditionWins(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctrl := gomock.NewController(t)
		logger := mocks.NewMockLogger(ctrl)
		logger.EXPECT().Warn("Automatic shutdown started: fast")
		logger.EXPECT().Warn("Exiting with status 3")

		sd := &fakeShutdowner{grace: time.Second}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, logger, shutdown.WithExitFunc(rec.exit))

		slow := make(chan struct{})
		fast := make(chan struct{})
		a.Start(context.Background(),
			shutdown.Closed("slow", slow),
			shutdown.Closed("fast", fast),
		)
		close(fast)
		<-a.Done()
		close(slow)
		synctest.Wait()

		assert.Equal(t, []int{domain.ExitAutomaticShutdown}, rec.Statuses())
		assert.Equal(t, int32(1), sd.calls.Load())
	})
}

func TestAutomatic_CancelledContextStopsWatching(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sd := &fakeShutdowner{grace: time.Second}
		rec := &exitRecorder{}
		a := shutdown.NewAutomatic(sd, nil, shutdown.WithExitFunc(rec.exit))

		ctx, cancel := context.WithCancel(context.Background())
		a.Start(ctx, shutdown.Closed("never", make(chan struct{})))
		cancel()
		synctest.Wait()

		assert.Equal(t, shutdown.Watching, a.State())
		assert.Empty(t, rec.Statuses())
		assert.Equal(t, int32(0), sd.calls.Load())
	})
}

func TestProcessExit(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	cond := shutdown.ProcessExit(pid, 10*time.Millisecond)
	assert.Equal(t, "Required process (PID "+strconv.Itoa(pid)+") is no longer running", cond.Description)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, cond.Wait(ctx))
}

func TestProcessExit_LiveProcessKeepsWaiting(t *testing.T) {
	cond := shutdown.ProcessExit(os.Getpid(), 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cond.Wait(ctx), context.DeadlineExceeded)
}
