package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/ports"
	"github.com/samirrijal/fleetmap/internal/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

const geofencePrefix = "geofence:"

// MapDefaults apply to every mounted session unless the request overrides them.
type MapDefaults struct {
	APIKey      string
	Region      domain.Region
	Style       string
	ShowTraffic bool
	Session     SessionOptions
	SnapshotTTL time.Duration
}

// MountRequest describes a remote engine that just connected.
type MountRequest struct {
	Engine        ports.RemoteEngine
	Region        *domain.Region
	Overlays      []domain.Overlay
	Style         string
	ShowTraffic   *bool
	FleetTracking bool
	// RestoreKey names the snapshot to restore on mount and save on unmount.
	RestoreKey string
	Callbacks  Callbacks
}

// SessionInfo summarizes a mounted session.
type SessionInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Overlays      int       `json:"overlays"`
	Pending       int       `json:"pending"`
	FleetTracking bool      `json:"fleet_tracking"`
	RestoreKey    string    `json:"restore_key,omitempty"`
	MountedAt     time.Time `json:"mounted_at"`
}

type mapSession struct {
	bridge     *MapBridge
	tracking   bool
	restoreKey string
	mountedAt  time.Time
}

// MapService owns the bridges of every connected map view. Bridges are
// independent; the service only routes host operations and the fleet feed.
type MapService struct {
	codec     *codec.Codec
	geofences ports.GeofenceRepository
	snapshots ports.SnapshotStore
	publisher ports.EventPublisher
	defaults  MapDefaults
	tracer    trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*mapSession
}

// NewMapService creates a MapService. geofences, snapshots and publisher may be nil.
func NewMapService(
	c *codec.Codec,
	geofences ports.GeofenceRepository,
	snapshots ports.SnapshotStore,
	publisher ports.EventPublisher,
	defaults MapDefaults,
) *MapService {
	return &MapService{
		codec:     c,
		geofences: geofences,
		snapshots: snapshots,
		publisher: publisher,
		defaults:  defaults,
		tracer:    otel.Tracer("github.com/samirrijal/fleetmap/usecases"),
		sessions:  make(map[string]*mapSession),
	}
}

// Mount creates a bridge for req.Engine, seeds it with geofences, the restored
// snapshot and the requested overlays, and registers it.
func (s *MapService) Mount(ctx context.Context, req MountRequest) (*MapBridge, error) {
	id := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "MapService.Mount", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Bool("session.fleet_tracking", req.FleetTracking),
	))
	defer span.End()

	if req.Engine == nil {
		return nil, fmt.Errorf("mount: engine is required")
	}

	overlays := s.loadGeofences(ctx)
	var camera *domain.Region
	if req.RestoreKey != "" {
		restored, cam := s.restoreSnapshot(ctx, req.RestoreKey)
		overlays = append(overlays, restored...)
		camera = cam
	}
	overlays = append(overlays, req.Overlays...)

	region := s.defaults.Region
	switch {
	case req.Region != nil:
		region = *req.Region
	case camera != nil:
		region = *camera
	}
	style := s.defaults.Style
	if req.Style != "" {
		style = req.Style
	}
	traffic := s.defaults.ShowTraffic
	if req.ShowTraffic != nil {
		traffic = *req.ShowTraffic
	}

	bridge := NewMapBridge(id, req.Engine, s.codec, MapOptions{
		APIKey:          s.defaults.APIKey,
		InitialRegion:   region,
		InitialOverlays: dedupeOverlays(overlays),
		Style:           style,
		ShowTraffic:     traffic,
		Session:         s.defaults.Session,
	}, s.publishingCallbacks(id, req.Callbacks))

	if err := bridge.Mount(ctx); err != nil {
		span.RecordError(err)
		_ = bridge.Dispose()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[id] = &mapSession{
		bridge:     bridge,
		tracking:   req.FleetTracking,
		restoreKey: req.RestoreKey,
		mountedAt:  time.Now(),
	}
	s.mu.Unlock()
	return bridge, nil
}

// Get returns the bridge for id.
func (s *MapService) Get(id string) (*MapBridge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ms.bridge, nil
}

// Info describes one session.
func (s *MapService) Info(id string) (SessionInfo, error) {
	s.mu.RLock()
	ms, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return ms.info(), nil
}

// List describes every mounted session, oldest first.
func (s *MapService) List() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, ms := range s.sessions {
		out = append(out, ms.info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MountedAt.Before(out[j].MountedAt) })
	return out
}

// Unmount saves the session's snapshot (when it has a restore key), disposes
// the bridge and forgets it.
func (s *MapService) Unmount(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "MapService.Unmount", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	s.mu.Lock()
	ms, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if ms.restoreKey != "" && s.snapshots != nil {
		if err := s.saveSnapshot(ctx, ms); err != nil {
			span.RecordError(err)
			slog.Warn("snapshot save failed", "session_id", id, "restore_key", ms.restoreKey, "error", err)
		}
	}
	return ms.bridge.Dispose()
}

// Close unmounts every session.
func (s *MapService) Close(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		_ = s.Unmount(ctx, id)
	}
}

// ApplyVehiclePosition moves the vehicle's marker on every fleet-tracking map.
func (s *MapService) ApplyVehiclePosition(ctx context.Context, vp *domain.VehiclePosition) error {
	if vp.VehicleID == "" {
		return fmt.Errorf("%w: vehicle position without vehicle id", domain.ErrInvalidOverlay)
	}
	marker := vp.Marker()
	if err := marker.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	var targets []*MapBridge
	for _, ms := range s.sessions {
		if ms.tracking {
			targets = append(targets, ms.bridge)
		}
	}
	s.mu.RUnlock()

	for _, b := range targets {
		if err := b.AddMarker(marker); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			return fmt.Errorf("session %s: %w", b.ID(), err)
		}
	}
	metrics.VehiclePositionsApplied.Inc()
	return nil
}

// ApplyGeofence draws an active geofence on every mounted map and removes an
// inactive one.
func (s *MapService) ApplyGeofence(g domain.Geofence) error {
	circle := g.Circle()
	if g.Active {
		if err := circle.Validate(); err != nil {
			return err
		}
	}

	s.mu.RLock()
	targets := make([]*MapBridge, 0, len(s.sessions))
	for _, ms := range s.sessions {
		targets = append(targets, ms.bridge)
	}
	s.mu.RUnlock()

	for _, b := range targets {
		var err error
		if g.Active {
			err = b.AddCircle(circle)
		} else {
			err = b.RemoveCircle(circle.ID)
		}
		if err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			return fmt.Errorf("session %s: %w", b.ID(), err)
		}
	}
	return nil
}

func (s *MapService) publishingCallbacks(id string, host Callbacks) Callbacks {
	publish := func(evt domain.MapEvent) {
		if s.publisher == nil {
			return
		}
		evt.SessionID = id
		evt.Time = time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishMapEvent(ctx, &evt); err != nil {
			slog.Warn("map event publish failed", "session_id", id, "type", evt.Type, "error", err)
		}
	}

	return Callbacks{
		OnMapReady: func() {
			publish(domain.MapEvent{Type: domain.EvtReady})
			if host.OnMapReady != nil {
				host.OnMapReady()
			}
		},
		OnMarkerPress: func(markerID string) {
			publish(domain.MapEvent{Type: domain.EvtMarkerTapped, MarkerID: markerID})
			if host.OnMarkerPress != nil {
				host.OnMarkerPress(markerID)
			}
		},
		OnMapPress: func(coord domain.Coordinate) {
			publish(domain.MapEvent{Type: domain.EvtMapTapped, Coordinate: &coord})
			if host.OnMapPress != nil {
				host.OnMapPress(coord)
			}
		},
		OnRegionChange: func(region domain.Region) {
			publish(domain.MapEvent{Type: domain.EvtRegionChanged, Region: &region})
			if host.OnRegionChange != nil {
				host.OnRegionChange(region)
			}
		},
		OnError: func(err error) {
			slog.Warn("map session error", "session_id", id, "error_kind", domain.ErrorKind(err), "error", err)
			if host.OnError != nil {
				host.OnError(err)
			}
		},
	}
}

func (s *MapService) loadGeofences(ctx context.Context) []domain.Overlay {
	if s.geofences == nil {
		return nil
	}
	fences, err := s.geofences.ListActive(ctx)
	if err != nil {
		slog.Warn("geofences unavailable", "error", err)
		return nil
	}
	out := make([]domain.Overlay, 0, len(fences))
	for _, g := range fences {
		c := g.Circle()
		if err := c.Validate(); err != nil {
			slog.Warn("skipping invalid geofence", "geofence_id", g.ID, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *MapService) restoreSnapshot(ctx context.Context, key string) ([]domain.Overlay, *domain.Region) {
	if s.snapshots == nil {
		return nil, nil
	}
	data, err := s.snapshots.Load(ctx, snapshotKey(key))
	if err != nil {
		if errors.Is(err, ports.ErrSnapshotNotFound) {
			metrics.SnapshotMisses.Inc()
		} else {
			slog.Warn("snapshot load failed", "restore_key", key, "error", err)
		}
		return nil, nil
	}
	overlays, camera, err := s.codec.DecodeSnapshot(data)
	if err != nil {
		slog.Warn("snapshot decode failed", "restore_key", key, "error", err)
		return nil, nil
	}
	metrics.SnapshotHits.Inc()
	return overlays, camera
}

func (s *MapService) saveSnapshot(ctx context.Context, ms *mapSession) error {
	var keep []domain.Overlay
	for _, o := range ms.bridge.Overlays() {
		if o.Key().Kind == domain.KindCircle && strings.HasPrefix(o.Key().ID, geofencePrefix) {
			continue // reloaded from the repository on mount
		}
		keep = append(keep, o)
	}
	var camera *domain.Region
	if r, ok := ms.bridge.Camera(); ok {
		camera = &r
	}
	data, err := s.codec.EncodeSnapshot(keep, camera)
	if err != nil {
		return err
	}
	return s.snapshots.Save(ctx, snapshotKey(ms.restoreKey), data, s.defaults.SnapshotTTL)
}

func (ms *mapSession) info() SessionInfo {
	return SessionInfo{
		ID:            ms.bridge.ID(),
		State:         ms.bridge.State().String(),
		Overlays:      len(ms.bridge.Overlays()),
		Pending:       ms.bridge.Pending(),
		FleetTracking: ms.tracking,
		RestoreKey:    ms.restoreKey,
		MountedAt:     ms.mountedAt,
	}
}

func snapshotKey(restoreKey string) string {
	return "map:snapshot:" + restoreKey
}

// dedupeOverlays keeps the last overlay per key, at the position of its first occurrence.
func dedupeOverlays(overlays []domain.Overlay) []domain.Overlay {
	index := make(map[domain.OverlayKey]int, len(overlays))
	out := make([]domain.Overlay, 0, len(overlays))
	for _, o := range overlays {
		if o == nil {
			continue
		}
		if i, ok := index[o.Key()]; ok {
			out[i] = o
			continue
		}
		index[o.Key()] = len(out)
		out = append(out, o)
	}
	return out
}
