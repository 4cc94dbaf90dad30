package telemetry

import (
	"context"

	"github.com/grindlemire/graft"
)

// NodeID is the unique identifier for the metrics Graft node.
const NodeID graft.ID = "adapter.telemetry"

func init() {
	graft.Register(graft.Node[*Prometheus]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (*Prometheus, error) {
			return NewPrometheus(), nil
		},
	})
}
