// Package artifacts implements the compiled-artifact cache.
//
// Entries are keyed by canonical program path and revalidated against the
// file's modification time on every access. Compilation runs on the
// compilation pool, with at most one compilation in flight per key.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/engine/pool"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

// maxStaleRetries bounds how often Get joins a new load after a shared load
// returned a result for a different file state than the caller observed.
const maxStaleRetries = 3

// CompileFailurePrefix starts every user-facing compilation failure message.
const CompileFailurePrefix = "Failed to compile program: "

var tracer = otel.Tracer("go.trai.ch/xnail/internal/engine/artifacts")

// Cache maps program files to compiled artifacts or recorded compilation failures.
type Cache struct {
	entries *lru.Cache[domain.SourceIdentity, *domain.CacheEntry]
	flights singleflight.Group
	pool    *pool.Pool
	engine  ports.Engine
	logger  ports.Logger
	metrics ports.Metrics

	generation atomic.Uint64
	// storeMu orders the compare-and-replace of entries.
	storeMu sync.Mutex
}

// New creates a cache holding at most maxEntries compiled programs.
// Compilation runs on compilePool.
func New(
	engine ports.Engine,
	compilePool *pool.Pool,
	logger ports.Logger,
	metrics ports.Metrics,
	maxEntries int,
) (*Cache, error) {
	entries, err := lru.New[domain.SourceIdentity, *domain.CacheEntry](maxEntries)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create artifact cache"), "max_entries", maxEntries)
	}
	return &Cache{
		entries: entries,
		pool:    compilePool,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Get returns the entry for key, compiling the program if it is not cached or
// its modification time changed since the cached result was produced.
//
// A compilation failure is returned as an entry, not an error. Errors are
// internal faults: the program file could not be stat'ed or read for a reason
// other than absence, the compiler failed unexpectedly, or the pool rejected the work.
func (c *Cache) Get(ctx context.Context, key domain.SourceIdentity) (*domain.CacheEntry, error) {
	for attempt := 0; ; attempt++ {
		modTime, err := statModTime(key.Path())
		if err != nil {
			return nil, err
		}

		cached, ok := c.entries.Get(key)
		if ok && cached.Matches(modTime) {
			if attempt == 0 {
				c.metrics.CacheLookup(ports.CacheHit)
			}
			return cached, nil
		}
		if attempt == 0 {
			if ok {
				c.metrics.CacheLookup(ports.CacheStale)
			} else {
				c.metrics.CacheLookup(ports.CacheMiss)
			}
		}

		entry, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry.ModTime.Equal(modTime) || attempt >= maxStaleRetries {
			return entry, nil
		}
		c.logger.Debug(fmt.Sprintf("shared compilation of %s does not match the observed modification, reloading", key))
	}
}

// Refresh revalidates the cached entries for the given paths and recompiles
// the stale ones. Paths that are not cached are ignored.
func (c *Cache) Refresh(ctx context.Context, paths ...string) {
	wanted := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		wanted[p] = struct{}{}
	}
	for _, key := range c.entries.Keys() {
		if _, ok := wanted[key.Path()]; ok {
			c.revalidate(ctx, key)
		}
	}
}

// RevalidateAll revalidates every cached entry.
func (c *Cache) RevalidateAll(ctx context.Context) {
	for _, key := range c.entries.Keys() {
		if ctx.Err() != nil {
			return
		}
		c.revalidate(ctx, key)
	}
}

func (c *Cache) revalidate(ctx context.Context, key domain.SourceIdentity) {
	cached, ok := c.entries.Peek(key)
	if !ok {
		return
	}
	modTime, err := statModTime(key.Path())
	if err != nil {
		c.logger.Error(zerr.Wrap(err, "revalidation failed"))
		return
	}
	if cached.Matches(modTime) {
		return
	}
	if _, err := c.load(ctx, key); err != nil {
		c.logger.Error(zerr.Wrap(err, "revalidation failed"))
		return
	}
	c.logger.Debug("recompiled " + key.Path())
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key domain.SourceIdentity) {
	c.entries.Remove(key)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []domain.SourceIdentity {
	return c.entries.Keys()
}

// load joins or starts the single in-flight compilation for key.
func (c *Cache) load(ctx context.Context, key domain.SourceIdentity) (*domain.CacheEntry, error) {
	ch := c.flights.DoChan(key.Path(), func() (any, error) {
		entry, err := pool.Do(context.WithoutCancel(ctx), c.pool, func(ctx context.Context) (*domain.CacheEntry, error) {
			return c.compile(ctx, key)
		})
		if err != nil {
			return nil, err
		}
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entry, ok := res.Val.(*domain.CacheEntry)
		if !ok || entry == nil {
			return nil, zerr.With(zerr.Wrap(domain.ErrInvalidCacheEntry, "loader returned no entry"), "path", key.Path())
		}
		return entry, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) compile(ctx context.Context, key domain.SourceIdentity) (*domain.CacheEntry, error) {
	ctx, span := tracer.Start(ctx, "compile", trace.WithAttributes(attribute.String("program", key.Path())))
	defer span.End()

	previous, _ := c.entries.Peek(key)

	start := time.Now()
	entry, err := c.compileEntry(ctx, key)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "compiler fault")
		c.metrics.Compilation(ports.OutcomeInternalError, elapsed)
		return nil, err
	case entry.Compilation.IsFailed():
		span.SetStatus(codes.Error, "compilation failed")
		c.metrics.Compilation(ports.OutcomeUserError, elapsed)
	default:
		c.metrics.Compilation(ports.OutcomeOK, elapsed)
	}

	span.SetAttributes(attribute.String("digest", strconv.FormatUint(entry.Digest, 16)))
	if entry.SameContent(previous) {
		c.logger.Debug(fmt.Sprintf("recompiled %s with unchanged contents (digest %x)", key, entry.Digest))
	}
	c.logger.Debug(fmt.Sprintf("compiled %s (generation %d) in %s", key, entry.Generation, elapsed))
	return c.store(entry), nil
}

func (c *Cache) compileEntry(ctx context.Context, key domain.SourceIdentity) (*domain.CacheEntry, error) {
	generation := c.generation.Add(1)

	// The modification time is observed before reading so that a concurrent
	// edit makes the entry look stale rather than fresh.
	modTime, err := statModTime(key.Path())
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(key.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.CacheEntry{
			Key:         key,
			ModTime:     domain.MissingModTime,
			Generation:  generation,
			Compilation: domain.Failed(CompileFailurePrefix + err.Error()),
			CompiledAt:  time.Now(),
		}, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrSourceReadFailed, err.Error()), "path", key.Path())
	}

	diag := domain.NewDiagnostics()
	artifact, err := c.engine.Compile(ctx, src, key.Path(), diag)

	var compilation domain.Compilation
	switch {
	case err == nil:
		compilation = domain.Compiled(artifact)
	case errors.Is(err, domain.ErrCompilationFailed):
		compilation = domain.Failed(CompileFailurePrefix + diagnosticText(diag, err))
	default:
		return nil, zerr.With(zerr.Wrap(err, "compiler fault"), "path", key.Path())
	}

	return &domain.CacheEntry{
		Key:         key,
		ModTime:     modTime,
		Generation:  generation,
		Digest:      xxhash.Sum64(src),
		Compilation: compilation,
		CompiledAt:  time.Now(),
	}, nil
}

// store installs entry unless a newer generation is already cached, and
// returns whichever entry is current.
func (c *Cache) store(entry *domain.CacheEntry) *domain.CacheEntry {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	if current, ok := c.entries.Peek(entry.Key); ok && current.Generation > entry.Generation {
		return current
	}
	c.entries.Add(entry.Key, entry)
	return entry
}

func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.MissingModTime, nil
	}
	if err != nil {
		return time.Time{}, zerr.With(zerr.Wrap(domain.ErrSourceStatFailed, err.Error()), "path", path)
	}
	return info.ModTime(), nil
}

func diagnosticText(diag *domain.Diagnostics, err error) string {
	if !diag.Empty() {
		return diag.String()
	}
	return err.Error()
}
