package domain

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// StdinPath is the input path that selects the caller's input stream instead of a file.
const StdinPath = "-"

// SourceIdentity identifies a program file by its absolute, canonical path.
// It is comparable and is used as the artifact cache key.
type SourceIdentity struct {
	path string
}

// NewSourceIdentity resolves path against base (when relative), cleans it and
// resolves symbolic links. A file that does not exist keeps its cleaned absolute
// path so a later request can pick it up once it is created.
func NewSourceIdentity(base, path string) (SourceIdentity, error) {
	if !filepath.IsAbs(path) {
		if base == "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return SourceIdentity{}, zerr.With(zerr.Wrap(err, "failed to resolve program path"), "path", path)
			}
			path = abs
		} else {
			path = filepath.Join(base, path)
		}
	}
	path = filepath.Clean(path)

	resolved, err := filepath.EvalSymlinks(path)
	switch {
	case err == nil:
		path = resolved
	case errors.Is(err, fs.ErrNotExist):
	default:
		return SourceIdentity{}, zerr.With(zerr.Wrap(err, "failed to resolve program path"), "path", path)
	}

	return SourceIdentity{path: path}, nil
}

// Path returns the canonical path.
func (s SourceIdentity) Path() string {
	return s.path
}

// IsZero reports whether the identity is unset.
func (s SourceIdentity) IsZero() bool {
	return s.path == ""
}

func (s SourceIdentity) String() string {
	return s.path
}

// Parameters maps a parameter name to its values, in the order they were given.
type Parameters map[string][]string

// Add appends value to the values of name.
func (p Parameters) Add(name, value string) {
	p[name] = append(p[name], value)
}

// ParseParameter parses a NAME=VALUE argument. The value may be empty and may
// itself contain '=' characters; the name may not be empty.
func ParseParameter(arg string) (name, value string, err error) {
	name, value, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", zerr.With(zerr.Wrap(ErrInvalidParameter, "expected NAME=VALUE"), "parameter", arg)
	}
	return name, value, nil
}

// TransformOperation describes one transform request.
// Parameters take no part in equality.
type TransformOperation struct {
	Program     SourceIdentity
	Input       string
	HasInput    bool
	SystemID    string
	HasSystemID bool
	Parameters  Parameters
}

// Equal reports whether two operations name the same program, input and system identifier.
func (o TransformOperation) Equal(other TransformOperation) bool {
	return o.Program == other.Program &&
		o.HasInput == other.HasInput &&
		o.Input == other.Input &&
		o.HasSystemID == other.HasSystemID &&
		o.SystemID == other.SystemID
}

// ReadsStdin reports whether the operation consumes the caller's input stream.
func (o TransformOperation) ReadsStdin() bool {
	if !o.HasInput {
		return !o.HasSystemID
	}
	return o.Input == StdinPath
}
