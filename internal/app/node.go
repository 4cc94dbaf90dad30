package app

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/xnail/internal/adapters/config"
	"go.trai.ch/xnail/internal/adapters/daemon"
	"go.trai.ch/xnail/internal/adapters/goscript"
	"go.trai.ch/xnail/internal/adapters/logger"
	"go.trai.ch/xnail/internal/adapters/telemetry"
	"go.trai.ch/xnail/internal/adapters/watcher"
	"go.trai.ch/xnail/internal/core/ports"
)

// NodeID is the unique identifier for the application Graft node.
const NodeID graft.ID = "app.components"

// Components holds everything the command line needs.
type Components struct {
	App    *App
	Logger ports.Logger
}

func init() {
	graft.Register(graft.Node[*Components]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			config.NodeID,
			logger.NodeID,
			daemon.NodeID,
			goscript.NodeID,
			telemetry.NodeID,
			watcher.NodeID,
		},
		Run: func(ctx context.Context) (*Components, error) {
			loader, err := graft.Dep[ports.ConfigLoader](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			connector, err := graft.Dep[ports.DaemonConnector](ctx)
			if err != nil {
				return nil, err
			}
			engine, err := graft.Dep[ports.Engine](ctx)
			if err != nil {
				return nil, err
			}
			metrics, err := graft.Dep[*telemetry.Prometheus](ctx)
			if err != nil {
				return nil, err
			}
			watchers, err := graft.Dep[ports.WatcherFactory](ctx)
			if err != nil {
				return nil, err
			}

			return &Components{
				App:    New(loader, log, connector, engine, metrics, watchers),
				Logger: log,
			}, nil
		},
	})
}
