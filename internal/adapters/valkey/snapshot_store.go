package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/samirrijal/fleetmap/internal/core/ports"
	"github.com/valkey-io/valkey-go"
)

// SnapshotStore implements ports.SnapshotStore using Valkey (Redis-compatible).
type SnapshotStore struct {
	client valkey.Client
}

// New creates a new Valkey snapshot store.
func New(addr string) (*SnapshotStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &SnapshotStore{client: client}, nil
}

// Load returns the snapshot stored under key, or ports.ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ports.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Save stores data under key. A non-positive ttl keeps it forever.
func (s *SnapshotStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(valkey.BinaryString(data)).Build()).Error()
	}
	return s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(valkey.BinaryString(data)).Ex(ttl).Build(),
	).Error()
}

// Delete removes a key.
func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error()
}

// Ping checks connectivity.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (s *SnapshotStore) Close() {
	s.client.Close()
}
