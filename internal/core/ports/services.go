package ports

import (
	"context"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// RemoteEngine is the isolated map-rendering engine as seen from the host.
// Calls must not block on the engine's own event loop: implementations
// serialize and hand the message to an ordered channel.
type RemoteEngine interface {
	// Initialize forwards the API key and initial region once, at session bootstrap.
	Initialize(ctx context.Context, apiKey string, region domain.Region) error
	// Execute transmits one command. AddOverlay for an existing key replaces it.
	Execute(ctx context.Context, cmd domain.Command) error
}

// Channel is the ordered, lossless transport to the remote execution context.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// EventPublisher publishes map events to a message broker.
type EventPublisher interface {
	PublishMapEvent(ctx context.Context, event *domain.MapEvent) error
}

// EventSubscriber subscribes to the fleet feed from a message broker.
type EventSubscriber interface {
	SubscribeVehiclePositions(ctx context.Context, handler func(ctx context.Context, vp *domain.VehiclePosition) error) error
}
