package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/core/ports/mocks"
	"go.trai.ch/xnail/internal/engine/pool"
	"go.trai.ch/xnail/internal/engine/service"
	"go.trai.ch/zerr"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptEngine compiles a program to its trimmed source text and executes it
// by interpreting that text as the name of a canned behaviour.
type scriptEngine struct {
	execHook func(ctx context.Context)
}

func (e *scriptEngine) Compile(_ context.Context, source []byte, sourceID string, diag *domain.Diagnostics) (ports.Artifact, error) {
	text := strings.TrimSpace(string(source))
	if strings.HasPrefix(text, "syntax") {
		diag.Report(sourceID + ":1:7: expected declaration")
		return nil, zerr.Wrap(domain.ErrCompilationFailed, "fake")
	}
	return text, nil
}

func (e *scriptEngine) Execute(
	ctx context.Context,
	artifact ports.Artifact,
	input ports.Source,
	params domain.Parameters,
	out io.Writer,
	diag *domain.Diagnostics,
) error {
	if e.execHook != nil {
		e.execHook(ctx)
	}
	switch artifact.(string) {
	case "upper":
		data, err := io.ReadAll(input.Reader)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, strings.Join(params["greeting"], " ")+strings.ToUpper(string(data)))
		return err
	case "describe":
		_, err := io.WriteString(out, "id="+input.SystemID+" stream="+boolText(input.Reader != nil))
		return err
	case "partial-fail":
		_, _ = io.WriteString(out, "<partial")
		diag.Report("element <x> not allowed here")
		return zerr.Wrap(domain.ErrExecutionFailed, "fake")
	case "crash":
		return errors.New("engine state corrupted")
	}
	return nil
}

func boolText(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func quietLogger(ctrl *gomock.Controller) *mocks.MockLogger {
	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Debug(gomock.Any()).AnyTimes()
	logger.EXPECT().Info(gomock.Any()).AnyTimes()
	logger.EXPECT().Warn(gomock.Any()).AnyTimes()
	logger.EXPECT().Error(gomock.Any()).AnyTimes()
	return logger
}

func quietMetrics(ctrl *gomock.Controller) *mocks.MockMetrics {
	metrics := mocks.NewMockMetrics(ctrl)
	metrics.EXPECT().CacheLookup(gomock.Any()).AnyTimes()
	metrics.EXPECT().Compilation(gomock.Any(), gomock.Any()).AnyTimes()
	metrics.EXPECT().Transform(gomock.Any(), gomock.Any()).AnyTimes()
	return metrics
}

func testOptions() service.Options {
	return service.Options{
		CacheMaxEntries: 10,
		CompileWorkers:  2,
		EvalWorkers:     2,
		QueueSize:       8,
		DrainTimeout:    time.Second,
	}
}

func newService(t *testing.T, engine ports.Engine) *service.Service {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc, err := service.New(testOptions(), engine, quietLogger(ctrl), quietMetrics(ctrl), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func operation(t *testing.T, program string) domain.TransformOperation {
	t.Helper()
	id, err := domain.NewSourceIdentity("", program)
	require.NoError(t, err)
	return domain.TransformOperation{Program: id, Parameters: domain.Parameters{}}
}

func TestTransform_FromStdin(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})

	op := operation(t, writeFile(t, dir, "upper.go", "upper"))
	op.HasInput = true
	op.Input = domain.StdinPath
	op.Parameters.Add("greeting", "hi")

	var out bytes.Buffer
	require.NoError(t, svc.Transform(context.Background(), op, strings.NewReader("abc"), &out))
	assert.Equal(t, "hiABC", out.String())
	assert.Equal(t, 1, svc.CachedPrograms())
}

func TestTransform_FromInputFile(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})

	op := operation(t, writeFile(t, dir, "describe.go", "describe"))
	op.HasInput = true
	op.Input = writeFile(t, dir, "in.xml", "<doc/>")

	var out bytes.Buffer
	require.NoError(t, svc.Transform(context.Background(), op, nil, &out))
	assert.Equal(t, "id=file://"+filepath.ToSlash(op.Input)+" stream=yes", out.String())
}

func TestTransform_IdentifierOnlySource(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})

	op := operation(t, writeFile(t, dir, "describe.go", "describe"))
	op.HasSystemID = true
	op.SystemID = "urn:catalog"

	var out bytes.Buffer
	require.NoError(t, svc.Transform(context.Background(), op, strings.NewReader("ignored"), &out))
	assert.Equal(t, "id=urn:catalog stream=no", out.String())
}

func TestTransform_UnopenableInputIsUserError(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})

	op := operation(t, writeFile(t, dir, "upper.go", "upper"))
	op.HasInput = true
	op.Input = filepath.Join(dir, "absent.xml")

	err := svc.Transform(context.Background(), op, nil, io.Discard)
	require.True(t, domain.IsUserError(err))
	assert.Equal(t, `Unable to open <input-file> "`+op.Input+`" - no such file or directory`, err.Error())
}

func TestTransform_CompileFailureIsUserErrorUntilFixed(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})

	program := writeFile(t, dir, "sheet.go", "syntax error")
	op := operation(t, program)
	op.HasInput = true
	op.Input = domain.StdinPath

	err := svc.Transform(context.Background(), op, strings.NewReader("x"), io.Discard)
	require.True(t, domain.IsUserError(err))
	assert.Equal(t, "Failed to compile program: "+op.Program.Path()+":1:7: expected declaration", err.Error())

	require.NoError(t, os.WriteFile(program, []byte("upper"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(program, later, later))

	var out bytes.Buffer
	require.NoError(t, svc.Transform(context.Background(), op, strings.NewReader("x"), &out))
	assert.Equal(t, "X", out.String())
}

func TestTransform_MissingProgramIsUserError(t *testing.T) {
	svc := newService(t, &scriptEngine{})
	op := operation(t, filepath.Join(t.TempDir(), "nowhere.go"))

	err := svc.Transform(context.Background(), op, strings.NewReader(""), io.Discard)
	require.True(t, domain.IsUserError(err))
	assert.Contains(t, err.Error(), "Failed to compile program: ")
	assert.Contains(t, err.Error(), "no such file or directory")
}

func TestTransform_NoPartialOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})
	op := operation(t, writeFile(t, dir, "fail.go", "partial-fail"))

	var out bytes.Buffer
	err := svc.Transform(context.Background(), op, strings.NewReader(""), &out)
	require.True(t, domain.IsUserError(err))
	assert.Equal(t, "Failed to execute transform: element <x> not allowed here", err.Error())
	assert.Empty(t, out.String())
}

func TestTransform_EngineFaultIsInternal(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &scriptEngine{})
	op := operation(t, writeFile(t, dir, "crash.go", "crash"))

	err := svc.Transform(context.Background(), op, strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.False(t, domain.IsUserError(err))
	assert.Contains(t, err.Error(), "engine state corrupted")
}

func TestTransform_ConcurrentRequestsRunInParallel(t *testing.T) {
	dir := t.TempDir()

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	engine := &scriptEngine{execHook: func(context.Context) {
		started.Done()
		<-release
	}}
	svc := newService(t, engine)

	program := writeFile(t, dir, "upper.go", "upper")
	var wg sync.WaitGroup
	outputs := make([]bytes.Buffer, 2)
	for i := range 2 {
		wg.Go(func() {
			op := operation(t, program)
			op.HasInput = true
			op.Input = domain.StdinPath
			assert.NoError(t, svc.Transform(context.Background(), op, strings.NewReader("req"), &outputs[i]))
		})
	}

	// Both executions must be in flight at once for this to return.
	started.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, "REQ", outputs[0].String())
	assert.Equal(t, "REQ", outputs[1].String())
}

func TestClose_IsIdempotentAndRejectsWork(t *testing.T) {
	dir := t.TempDir()
	ctrl := gomock.NewController(t)
	svc, err := service.New(testOptions(), &scriptEngine{}, quietLogger(ctrl), quietMetrics(ctrl), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.True(t, svc.Closed())

	op := operation(t, writeFile(t, dir, "upper.go", "upper"))
	err = svc.Transform(context.Background(), op, strings.NewReader(""), io.Discard)
	assert.ErrorIs(t, err, domain.ErrServiceClosed)
}

func TestService_UnclosedInstanceIsCancelledWhenCollected(t *testing.T) {
	ctrl := gomock.NewController(t)
	warned := make(chan struct{})
	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Debug(gomock.Any()).AnyTimes()
	logger.EXPECT().Warn("service instance was not closed, force-cancelling its pools").
		Do(func(string) { close(warned) })

	compile, eval := abandonedPools(t, logger, quietMetrics(ctrl))

	assert.Eventually(t, func() bool {
		runtime.GC()
		select {
		case <-warned:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return compile.Closed() && eval.Closed()
	}, 5*time.Second, 10*time.Millisecond)
	_, err := pool.Do(context.Background(), eval, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, domain.ErrPoolClosed)
}

// abandonedPools drops the service it creates without closing it.
func abandonedPools(t *testing.T, logger ports.Logger, metrics ports.Metrics) (*pool.Pool, *pool.Pool) {
	t.Helper()
	svc, err := service.New(testOptions(), &scriptEngine{}, logger, metrics, nil)
	require.NoError(t, err)
	return service.Pools(svc)
}

func TestWatcher_WatchesRequestedPrograms(t *testing.T) {
	dir := t.TempDir()
	ctrl := gomock.NewController(t)

	program := writeFile(t, dir, "upper.go", "upper")
	op := operation(t, program)

	watcher := mocks.NewMockWatcher(ctrl)
	watcher.EXPECT().Watch(op.Program.Path()).Return(nil)
	watcher.EXPECT().Close().Return(nil)

	var onChange func([]string)
	factory := func(cb func([]string)) (ports.Watcher, error) {
		onChange = cb
		return watcher, nil
	}

	opts := testOptions()
	opts.Watch = true
	svc, err := service.New(opts, &scriptEngine{}, quietLogger(ctrl), quietMetrics(ctrl), factory)
	require.NoError(t, err)
	require.NotNil(t, onChange)

	require.NoError(t, svc.Transform(context.Background(), op, strings.NewReader("a"), io.Discard))

	// A change notification recompiles the program in the background.
	require.NoError(t, os.WriteFile(program, []byte("describe"), 0o600))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(program, later, later))
	onChange([]string{op.Program.Path()})

	require.NoError(t, svc.Close())
}

func TestNew_WatcherFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	opts := testOptions()
	opts.Watch = true

	_, err := service.New(opts, &scriptEngine{}, quietLogger(ctrl), quietMetrics(ctrl),
		func(func([]string)) (ports.Watcher, error) { return nil, errors.New("too many open files") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start program watcher")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Pools.CompileWorkers = 3
	cfg.Pools.EvalWorkers = 5

	opts := service.OptionsFromConfig(cfg)
	assert.Equal(t, 3, opts.CompileWorkers)
	assert.Equal(t, 5, opts.EvalWorkers)
	assert.Equal(t, 5*domain.DefaultQueueSlotsPerWorker, opts.QueueSize)
	assert.Equal(t, domain.DefaultCacheMaxEntries, opts.CacheMaxEntries)
	assert.Equal(t, domain.DefaultDrainTimeout, opts.DrainTimeout)
}
