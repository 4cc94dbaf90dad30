// Package service implements the transform pipeline on top of the artifact
// cache and the two worker pools.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/engine/artifacts"
	"go.trai.ch/xnail/internal/engine/pool"
	"go.trai.ch/zerr"
)

// ExecuteFailurePrefix starts every user-facing execution failure message.
const ExecuteFailurePrefix = "Failed to execute transform: "

var tracer = otel.Tracer("go.trai.ch/xnail/internal/engine/service")

// Options sizes a service instance.
type Options struct {
	CacheMaxEntries    int
	RevalidateInterval time.Duration
	Watch              bool
	CompileWorkers     int
	EvalWorkers        int
	QueueSize          int
	DrainTimeout       time.Duration
}

// OptionsFromConfig derives instance options from the daemon configuration.
func OptionsFromConfig(cfg domain.Config) Options {
	compile := cfg.Pools.EffectiveCompileWorkers()
	eval := cfg.Pools.EffectiveEvalWorkers()
	return Options{
		CacheMaxEntries:    cfg.Cache.MaxEntries,
		RevalidateInterval: cfg.Cache.RevalidateInterval,
		Watch:              cfg.Cache.Watch,
		CompileWorkers:     compile,
		EvalWorkers:        eval,
		QueueSize:          cfg.Pools.EffectiveQueueSize(max(compile, eval)),
		DrainTimeout:       cfg.Pools.DrainTimeout,
	}
}

// resources are the parts of a Service that must be torn down. They are kept
// apart from the Service so the cleanup safety net can reach them after the
// Service itself became unreachable.
type resources struct {
	compile *pool.Pool
	eval    *pool.Pool
	watcher ports.Watcher
	logger  ports.Logger

	stopBackground context.CancelFunc
	backgroundDone chan struct{}

	closed atomic.Bool
}

// Service is one long-lived instance owning an artifact cache and the
// compilation and evaluation pools. It is safe for concurrent use.
type Service struct {
	opts    Options
	cache   *artifacts.Cache
	engine  ports.Engine
	logger  ports.Logger
	metrics ports.Metrics
	res     *resources

	closeOnce sync.Once
	closeErr  error
}

// New creates a service instance and starts its background revalidation.
// watcherFactory may be nil; it is only used when opts.Watch is set.
func New(
	opts Options,
	engine ports.Engine,
	logger ports.Logger,
	metrics ports.Metrics,
	watcherFactory ports.WatcherFactory,
) (*Service, error) {
	if opts.CacheMaxEntries <= 0 {
		opts.CacheMaxEntries = domain.DefaultCacheMaxEntries
	}

	res := &resources{
		compile:        pool.New("compile", opts.CompileWorkers, opts.QueueSize),
		eval:           pool.New("eval", opts.EvalWorkers, opts.QueueSize),
		logger:         logger,
		backgroundDone: make(chan struct{}),
	}

	cache, err := artifacts.New(engine, res.compile, logger, metrics, opts.CacheMaxEntries)
	if err != nil {
		pool.ShutdownAll(0, res.compile, res.eval)
		return nil, err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	res.stopBackground = cancel

	if opts.Watch && watcherFactory != nil {
		w, err := watcherFactory(func(paths []string) {
			cache.Refresh(bgCtx, paths...)
		})
		if err != nil {
			cancel()
			pool.ShutdownAll(0, res.compile, res.eval)
			return nil, zerr.Wrap(err, "failed to start program watcher")
		}
		res.watcher = w
	}

	go revalidate(bgCtx, cache, opts.RevalidateInterval, res.backgroundDone)

	s := &Service{
		opts:    opts,
		cache:   cache,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
		res:     res,
	}
	runtime.AddCleanup(s, abandon, res)

	logger.Debug(fmt.Sprintf("service started: %d compile workers, %d eval workers, cache size %d",
		opts.CompileWorkers, opts.EvalWorkers, opts.CacheMaxEntries))
	return s, nil
}

// revalidate sweeps the cache every interval until ctx is cancelled.
// A zero interval disables the sweep.
func revalidate(ctx context.Context, cache *artifacts.Cache, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.RevalidateAll(ctx)
		}
	}
}

// abandon releases the resources of a Service that was garbage collected
// without being closed.
func abandon(res *resources) {
	if res.closed.Load() {
		return
	}
	res.logger.Warn("service instance was not closed, force-cancelling its pools")
	res.stopBackground()
	if res.watcher != nil {
		_ = res.watcher.Close()
	}
	res.compile.ForceCancel()
	res.eval.ForceCancel()
}

// Transform runs one transform operation. stdin is read only when the operation
// names the caller's input stream. Output reaches stdout only after the program
// finished successfully.
//
// The returned error is a *domain.UserError for failures caused by the program
// or its input; any other error is an internal fault.
func (s *Service) Transform(ctx context.Context, op domain.TransformOperation, stdin io.Reader, stdout io.Writer) error {
	if s.res.closed.Load() {
		return zerr.Wrap(domain.ErrServiceClosed, "transform rejected")
	}

	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "transform", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("program", op.Program.Path()),
	))
	defer span.End()

	start := time.Now()
	err := s.transform(ctx, requestID, op, stdin, stdout)
	elapsed := time.Since(start)

	outcome := ports.OutcomeOK
	switch {
	case err == nil:
	case domain.IsUserError(err):
		outcome = ports.OutcomeUserError
		span.SetStatus(codes.Error, "user error")
	default:
		outcome = ports.OutcomeInternalError
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
	}
	s.metrics.Transform(outcome, elapsed)
	s.logger.Debug(fmt.Sprintf("request %s: %s finished in %s (%s)", requestID, op.Program, elapsed, outcome))
	return err
}

func (s *Service) transform(
	ctx context.Context,
	requestID string,
	op domain.TransformOperation,
	stdin io.Reader,
	stdout io.Writer,
) error {
	source, closeSource, err := resolveSource(op, stdin)
	if err != nil {
		return err
	}
	defer closeSource()

	s.watch(op.Program)

	entry, err := s.cache.Get(ctx, op.Program)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to obtain compiled program"), "request_id", requestID)
	}
	if msg, failed := entry.Compilation.Diagnostic(); failed {
		return domain.NewUserError(msg)
	}
	artifact, _ := entry.Compilation.Artifact()

	var out bytes.Buffer
	_, err = pool.Do(ctx, s.res.eval, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.execute(ctx, artifact, source, op.Parameters, &out)
	})
	if err != nil {
		if domain.IsUserError(err) {
			return err
		}
		return zerr.With(zerr.Wrap(err, "failed to execute program"), "request_id", requestID)
	}

	if _, err := io.Copy(stdout, &out); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write transform output"), "request_id", requestID)
	}
	return nil
}

func (s *Service) execute(
	ctx context.Context,
	artifact ports.Artifact,
	source ports.Source,
	params domain.Parameters,
	out io.Writer,
) error {
	ctx, span := tracer.Start(ctx, "execute")
	defer span.End()

	diag := domain.NewDiagnostics()
	err := s.engine.Execute(ctx, artifact, source, params, out, diag)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrExecutionFailed):
		span.SetStatus(codes.Error, "execution failed")
		text := diag.String()
		if diag.Empty() {
			text = err.Error()
		}
		return domain.NewUserError(ExecuteFailurePrefix + text)
	default:
		span.RecordError(err)
		return err
	}
}

func (s *Service) watch(program domain.SourceIdentity) {
	if s.res.watcher == nil {
		return
	}
	if err := s.res.watcher.Watch(program.Path()); err != nil {
		s.logger.Warn(fmt.Sprintf("cannot watch %s: %v", program, err))
	}
}

// resolveSource picks the input of an operation: an identifier-only source,
// the caller's stream, or a named file.
func resolveSource(op domain.TransformOperation, stdin io.Reader) (ports.Source, func(), error) {
	noop := func() {}

	if !op.HasInput && op.HasSystemID {
		return ports.Source{SystemID: op.SystemID}, noop, nil
	}
	if op.ReadsStdin() {
		return ports.Source{SystemID: op.SystemID, Reader: stdin}, noop, nil
	}

	f, err := os.Open(op.Input)
	if err != nil {
		return ports.Source{}, noop, domain.NewUserError(
			fmt.Sprintf("Unable to open <input-file> %q - %s", op.Input, ioMessage(err)))
	}

	systemID := op.SystemID
	if !op.HasSystemID {
		abs, err := filepath.Abs(op.Input)
		if err != nil {
			abs = op.Input
		}
		systemID = "file://" + filepath.ToSlash(abs)
	}
	return ports.Source{SystemID: systemID, Reader: f}, func() { _ = f.Close() }, nil
}

func ioMessage(err error) string {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error()
	}
	return err.Error()
}

// CachedPrograms returns the number of cached compilation results.
func (s *Service) CachedPrograms() int {
	return s.cache.Len()
}

// PoolStats reports the compilation and evaluation pools.
func (s *Service) PoolStats() []pool.Stats {
	return []pool.Stats{s.res.compile.Stats(), s.res.eval.Stats()}
}

// Closed reports whether Close has been called.
func (s *Service) Closed() bool {
	return s.res.closed.Load()
}

// Close stops background revalidation and watching, then shuts both pools down:
// queued and running work gets the drain timeout to finish before it is
// force-cancelled. Close is idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		res := s.res
		res.closed.Store(true)

		res.stopBackground()
		<-res.backgroundDone

		if res.watcher != nil {
			if err := res.watcher.Close(); err != nil {
				s.closeErr = zerr.Wrap(err, "failed to close program watcher")
			}
		}

		if !pool.ShutdownAll(s.opts.DrainTimeout, res.compile, res.eval) {
			s.logger.Warn(fmt.Sprintf("work still pending after %s, force-cancelled", s.opts.DrainTimeout))
		}
		s.cache.Purge()
		s.logger.Debug("service closed")
	})
	return s.closeErr
}
