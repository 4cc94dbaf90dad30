// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/xnail/internal/adapters/config"
	_ "go.trai.ch/xnail/internal/adapters/daemon"
	_ "go.trai.ch/xnail/internal/adapters/goscript"
	_ "go.trai.ch/xnail/internal/adapters/logger"
	_ "go.trai.ch/xnail/internal/adapters/telemetry"
	_ "go.trai.ch/xnail/internal/adapters/watcher"
	// Register app nodes.
	_ "go.trai.ch/xnail/internal/app"
)
