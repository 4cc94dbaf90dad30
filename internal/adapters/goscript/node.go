package goscript

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/xnail/internal/core/ports"
)

// NodeID is the unique identifier for the program engine Graft node.
const NodeID graft.ID = "adapter.engine"

func init() {
	graft.Register(graft.Node[ports.Engine]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{},
		Run: func(_ context.Context) (ports.Engine, error) {
			return New(), nil
		},
	})
}
