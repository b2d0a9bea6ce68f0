package ports

import (
	"context"
	"errors"
	"time"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// ErrSnapshotNotFound is returned by SnapshotStore.Load for a missing key.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// GeofenceRepository persists delivery zones.
type GeofenceRepository interface {
	ListActive(ctx context.Context) ([]domain.Geofence, error)
	Upsert(ctx context.Context, g *domain.Geofence) error
}

// SnapshotStore keeps encoded overlay sets between engine reconnects.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
