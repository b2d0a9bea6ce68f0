package http

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/ports"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
)

// Pinger is a backing service that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds everything the HTTP handlers need. Optional backends
// are nil when unavailable.
type Dependencies struct {
	Maps      *usecases.MapService
	Codec     *codec.Codec
	Geofences ports.GeofenceRepository
	NATS      *nats.Conn
	DB        Pinger
	Snapshots Pinger
	Version   string
}
