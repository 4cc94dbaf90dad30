// Package domain contains the core types of the transform daemon.
package domain

import "time"

// MissingModTime is the modification time recorded for a program file that did not exist.
// Entries carrying it are recompiled on every access.
var MissingModTime = time.Time{}

// Compilation is the outcome of compiling a program: either a compiled artifact
// or a failure message meant for the user. A failure is ordinary cached data.
type Compilation struct {
	artifact   any
	diagnostic string
	failed     bool
}

// Compiled returns a successful compilation holding artifact.
func Compiled(artifact any) Compilation {
	return Compilation{artifact: artifact}
}

// Failed returns a failed compilation carrying a user-facing message.
func Failed(message string) Compilation {
	return Compilation{diagnostic: message, failed: true}
}

// Artifact returns the compiled artifact and true for a successful compilation.
func (c Compilation) Artifact() (any, bool) {
	if c.failed {
		return nil, false
	}
	return c.artifact, true
}

// Diagnostic returns the failure message and true for a failed compilation.
func (c Compilation) Diagnostic() (string, bool) {
	return c.diagnostic, c.failed
}

// IsFailed reports whether the compilation failed.
func (c Compilation) IsFailed() bool {
	return c.failed
}

// CacheEntry is an immutable record of compiling one program file at one observed state.
// A stale entry is replaced by a new one, never updated.
type CacheEntry struct {
	Key         SourceIdentity
	ModTime     time.Time
	Generation  uint64
	Digest      uint64
	Compilation Compilation
	CompiledAt  time.Time
}

// IsMissing reports whether the entry records a program file that did not exist.
func (e *CacheEntry) IsMissing() bool {
	return e.ModTime.Equal(MissingModTime)
}

// SameContent reports whether both entries were compiled from identical
// source bytes. Entries for missing files never match.
func (e *CacheEntry) SameContent(other *CacheEntry) bool {
	return other != nil && !e.IsMissing() && !other.IsMissing() && e.Digest == other.Digest
}

// Matches reports whether the entry was produced from a file with the given modification time.
func (e *CacheEntry) Matches(modTime time.Time) bool {
	return !e.IsMissing() && e.ModTime.Equal(modTime)
}
