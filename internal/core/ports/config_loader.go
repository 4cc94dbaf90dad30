package ports

import "go.trai.ch/xnail/internal/core/domain"

// ConfigLoader defines the interface for loading the daemon configuration.
//
//go:generate mockgen -source=config_loader.go -destination=mocks/mock_config_loader.go -package=mocks
type ConfigLoader interface {
	// Load reads defaults, the configuration file at path (the default location when
	// empty) and the environment, and returns the validated result.
	Load(path string) (domain.Config, error)
}
