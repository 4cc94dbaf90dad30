// Package config provides the configuration loader for xnail.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

// EnvPrefix prefixes every environment variable read by the loader.
// Nested keys are separated by a double underscore: XNAIL_CACHE__MAX_ENTRIES.
const EnvPrefix = "XNAIL_"

const envLevelSeparator = "__"

// Loader implements ports.ConfigLoader with koanf.
type Loader struct {
	Logger ports.Logger

	defaultPath string
}

var _ ports.ConfigLoader = (*Loader)(nil)

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{
		Logger:      logger,
		defaultPath: domain.DefaultConfigPath(),
	}
}

// Load merges the built-in defaults, the YAML file at path and the
// environment, in that order. An empty path selects the default location,
// which may be absent; a named file must exist.
func (l *Loader) Load(path string) (domain.Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = l.defaultPath
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			switch {
			case !explicit && errors.Is(err, fs.ErrNotExist):
				l.Logger.Debug("no configuration file at " + path)
			case isReadError(err):
				return domain.Config{}, zerr.With(zerr.Wrap(domain.ErrConfigReadFailed, err.Error()), "path", path)
			default:
				return domain.Config{}, zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, err.Error()), "path", path)
			}
		} else {
			l.Logger.Debug("loaded configuration from " + path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return domain.Config{}, zerr.Wrap(err, "failed to read environment")
	}

	cfg := domain.DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return domain.Config{}, zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, err.Error()), "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// envKey maps XNAIL_CACHE__MAX_ENTRIES to cache.max_entries.
func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, envLevelSeparator, ".")
}

func isReadError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}
