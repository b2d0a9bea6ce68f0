package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/ports"
	"github.com/samirrijal/fleetmap/internal/pkg/geospatial"
	"github.com/samirrijal/fleetmap/internal/pkg/metrics"
)

// MapOptions is the inbound configuration of one map view.
type MapOptions struct {
	APIKey          string
	InitialRegion   domain.Region
	InitialOverlays []domain.Overlay
	Style           string // unrecognized values fall back to normal
	ShowTraffic     bool
	Session         SessionOptions
}

// Callbacks are the host hooks. They run after the bridge lock is released,
// so they may call back into the bridge.
type Callbacks struct {
	OnMapReady     func()
	OnMarkerPress  func(id string)
	OnMapPress     func(coord domain.Coordinate)
	OnRegionChange func(region domain.Region)
	// OnError reports failures that have no caller to return to:
	// handshake timeouts and channel errors.
	OnError func(err error)
}

// MapBridge is the public API over one remote map engine. Every mutating call
// validates its input, updates the overlay store and hands zero or more
// commands to the session; none of them waits for the remote engine.
//
// A single mutex serializes host calls and inbound events. Bridges share nothing.
type MapBridge struct {
	id     string
	engine ports.RemoteEngine
	codec  *codec.Codec
	opts   MapOptions
	cb     Callbacks
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	session *Session
	store   *OverlayStore
	router  *EventRouter
	mounted bool
	errs    []error // async errors collected under mu, reported after unlock
}

// NewMapBridge creates an unmounted bridge. id is used for logging only.
func NewMapBridge(id string, engine ports.RemoteEngine, c *codec.Codec, opts MapOptions, cb Callbacks) *MapBridge {
	b := &MapBridge{
		id:     id,
		engine: engine,
		codec:  c,
		opts:   opts,
		cb:     cb,
		logger: slog.Default().With("session_id", id),
		store:  NewOverlayStore(),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.session = NewSession(b.transmit, opts.Session)
	b.router = NewEventRouter(EventHandlers{
		OnReady:        b.handleReady,
		OnMarkerPress:  b.handleMarkerPress,
		OnMapPress:     b.handleMapPress,
		OnRegionChange: b.handleRegionChange,
	})
	return b
}

// ID returns the session id.
func (b *MapBridge) ID() string { return b.id }

// Mount validates the configuration, forwards the API key and initial region to
// the engine once, declares the initial overlays and starts the handshake clock.
func (b *MapBridge) Mount(ctx context.Context) error {
	if err := b.opts.InitialRegion.Validate(); err != nil {
		return err
	}
	if err := validateOverlaySet(b.opts.InitialOverlays); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mounted {
		return fmt.Errorf("session %s already mounted", b.id)
	}
	if b.session.State() == domain.SessionDisposed {
		return domain.ErrSessionClosed
	}

	if err := b.engine.Initialize(ctx, b.opts.APIKey, b.opts.InitialRegion); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	b.mounted = true
	metrics.ActiveSessions.Inc()

	b.store.ReplaceAll(b.opts.InitialOverlays)
	b.store.SetCamera(b.opts.InitialRegion)

	// The engine boots with the normal style and traffic hidden.
	var prelude []domain.Command
	if style := domain.ParseMapStyle(b.opts.Style); style != domain.StyleNormal {
		prelude = append(prelude, domain.SetStyle(style))
	}
	if b.opts.ShowTraffic {
		prelude = append(prelude, domain.SetLayerVisible(domain.TrafficLayer, true))
	}
	for _, cmd := range prelude {
		if err := b.send(cmd); err != nil {
			// Returned to the caller; not reported again through OnError.
			b.errs = nil
			return fmt.Errorf("mount %s: %w", b.id, err)
		}
	}

	b.session.Open(b.expire)
	b.logger.Info("map session mounted",
		"overlays", b.store.Len(),
		"style", domain.ParseMapStyle(b.opts.Style),
		"handshake_timeout", b.opts.Session.HandshakeTimeout.String())
	return nil
}

// AnimateToRegion moves the camera. A non-positive duration uses the 500ms default.
func (b *MapBridge) AnimateToRegion(region domain.Region, durationMs int) error {
	if err := region.Validate(); err != nil {
		return err
	}
	if durationMs <= 0 {
		durationMs = domain.DefaultAnimationMs
	}
	return b.mutate("animate_to_region", func() []domain.Command {
		b.store.SetCamera(region)
		return []domain.Command{domain.AnimateToRegion(region, durationMs)}
	})
}

// FitToOverlays animates the camera to cover every declared overlay, enlarged
// by padding (0.2 = 20%). Fails with ErrInvalidRegion when there is nothing to fit.
func (b *MapBridge) FitToOverlays(padding float64, durationMs int) error {
	b.mu.Lock()
	overlays := b.store.Overlays()
	b.mu.Unlock()

	bounds, ok := overlayBounds(overlays)
	if !ok {
		return fmt.Errorf("%w: no overlays to fit", domain.ErrInvalidRegion)
	}
	return b.AnimateToRegion(domain.RegionFor(bounds, padding), durationMs)
}

// AddMarker declares m, replacing any marker with the same id.
func (b *MapBridge) AddMarker(m domain.Marker) error { return b.upsert(m) }

// RemoveMarker removes the marker with id. Unknown ids are a no-op.
func (b *MapBridge) RemoveMarker(id string) error { return b.remove(domain.KindMarker, id) }

// AddPolyline declares p, replacing any polyline with the same id.
func (b *MapBridge) AddPolyline(p domain.Polyline) error { return b.upsert(p) }

// RemovePolyline removes the polyline with id.
func (b *MapBridge) RemovePolyline(id string) error { return b.remove(domain.KindPolyline, id) }

// AddCircle declares c, replacing any circle with the same id.
func (b *MapBridge) AddCircle(c domain.Circle) error { return b.upsert(c) }

// RemoveCircle removes the circle with id.
func (b *MapBridge) RemoveCircle(id string) error { return b.remove(domain.KindCircle, id) }

// UpsertOverlay declares an overlay of any kind.
func (b *MapBridge) UpsertOverlay(o domain.Overlay) error { return b.upsert(o) }

// RemoveOverlay removes an overlay of any kind.
func (b *MapBridge) RemoveOverlay(kind domain.OverlayKind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown overlay kind %q", domain.ErrInvalidOverlay, kind)
	}
	return b.remove(kind, id)
}

// SetOverlays replaces the declared set wholesale and sends only the difference.
// Every overlay must be valid and (kind, id) unique within the set.
func (b *MapBridge) SetOverlays(overlays []domain.Overlay) error {
	if err := validateOverlaySet(overlays); err != nil {
		return err
	}
	return b.mutate("set_overlays", func() []domain.Command {
		return b.store.ReplaceAll(overlays)
	})
}

// SetMapStyle switches the base style. Unrecognized ids fall back to normal.
func (b *MapBridge) SetMapStyle(styleID string) error {
	style := domain.ParseMapStyle(styleID)
	return b.mutate("set_style", func() []domain.Command {
		return []domain.Command{domain.SetStyle(style)}
	})
}

// SetLayerVisible toggles a named engine layer.
func (b *MapBridge) SetLayerVisible(layerID string, visible bool) error {
	return b.mutate("set_layer_visible", func() []domain.Command {
		return []domain.Command{domain.SetLayerVisible(layerID, visible)}
	})
}

// ClearAll empties the overlay store and clears the remote mirror. Before Ready
// the mirror is still empty, so no Clear command is queued.
func (b *MapBridge) ClearAll() error {
	return b.mutate("clear", func() []domain.Command {
		b.store.Clear()
		if b.session.State() != domain.SessionReady {
			return nil
		}
		return []domain.Command{domain.Clear()}
	})
}

// Dispose tears the session down. Pending commands are dropped. Idempotent.
func (b *MapBridge) Dispose() error {
	b.mu.Lock()
	b.disposeLocked()
	b.mu.Unlock()
	return nil
}

// HandleMessage decodes one inbound frame and routes it. Malformed or
// undecodable frames are logged and dropped; the error is returned for
// callers that want it but never needs handling.
func (b *MapBridge) HandleMessage(data []byte) error {
	evt, err := b.codec.DecodeEvent(data)
	if err != nil {
		b.dropEvent(err)
		return err
	}
	if err := b.router.Route(evt); err != nil {
		b.dropEvent(err)
		return err
	}
	metrics.EventsReceived.WithLabelValues(string(evt.Type)).Inc()
	return nil
}

// State returns the session state.
func (b *MapBridge) State() domain.SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.State()
}

// Pending returns the number of commands waiting for the handshake.
func (b *MapBridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Pending()
}

// Overlays returns the declared overlays in insertion order.
func (b *MapBridge) Overlays() []domain.Overlay {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.Overlays()
}

// Camera returns the last requested camera region.
func (b *MapBridge) Camera() (domain.Region, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.Camera()
}

func (b *MapBridge) upsert(o domain.Overlay) error {
	if o == nil {
		return fmt.Errorf("%w: nil overlay", domain.ErrInvalidOverlay)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	return b.mutate("upsert_"+string(o.Key().Kind), func() []domain.Command {
		return b.store.Upsert(o)
	})
}

func (b *MapBridge) remove(kind domain.OverlayKind, id string) error {
	return b.mutate("remove_"+string(kind), func() []domain.Command {
		return b.store.Remove(kind, id)
	})
}

// mutate runs fn under the lock and sends the commands it returns.
func (b *MapBridge) mutate(op string, fn func() []domain.Command) error {
	b.mu.Lock()
	if b.session.State() == domain.SessionDisposed {
		b.mu.Unlock()
		b.logger.Debug("operation on closed session ignored", "op", op)
		return domain.ErrSessionClosed
	}
	var err error
	for _, cmd := range fn() {
		if err = b.send(cmd); err != nil {
			break
		}
	}
	b.mu.Unlock()
	b.reportErrors()
	return err
}

// send hands cmd to the session. Transmission failures are collected for
// OnError rather than returned; only a forced dispose is returned.
func (b *MapBridge) send(cmd domain.Command) error {
	err := b.session.Send(cmd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrSessionTimedOut):
		b.onForcedDispose(err)
		return err
	case errors.Is(err, domain.ErrSessionClosed):
		return err
	default:
		b.errs = append(b.errs, err)
		return nil
	}
}

// transmit is the session's delivery function. Called with mu held.
func (b *MapBridge) transmit(cmd domain.Command) error {
	if err := b.engine.Execute(b.ctx, cmd); err != nil {
		metrics.CommandsFailed.WithLabelValues(string(cmd.Type)).Inc()
		b.logger.Warn("command transmission failed",
			"seq", cmd.Seq, "type", cmd.Type, "error", err)
		return fmt.Errorf("%w: %s #%d: %v", domain.ErrChannel, cmd.Type, cmd.Seq, err)
	}
	metrics.CommandsSent.WithLabelValues(string(cmd.Type)).Inc()
	b.logger.Debug("command sent", "seq", cmd.Seq, "type", cmd.Type)
	return nil
}

func (b *MapBridge) handleReady() {
	b.mu.Lock()
	if b.session.State() == domain.SessionDisposed {
		b.mu.Unlock()
		b.logger.Debug("ready event after dispose ignored")
		return
	}
	replay := b.store.GoLive()
	pending := b.session.Pending()
	ok, err := b.session.MarkReady(replay)
	if err != nil {
		b.errs = append(b.errs, err)
	}
	elapsed := b.session.HandshakeDuration()
	b.mu.Unlock()
	b.reportErrors()

	if !ok {
		b.logger.Debug("duplicate ready event ignored")
		return
	}
	metrics.HandshakeDuration.Observe(elapsed.Seconds())
	b.logger.Info("map session ready",
		"replayed", len(replay), "flushed", pending, "handshake", elapsed.String())
	if b.cb.OnMapReady != nil {
		b.cb.OnMapReady()
	}
}

func (b *MapBridge) handleMarkerPress(id string) {
	if b.State() == domain.SessionDisposed {
		return
	}
	if b.cb.OnMarkerPress != nil {
		b.cb.OnMarkerPress(id)
	}
}

func (b *MapBridge) handleMapPress(coord domain.Coordinate) {
	if b.State() == domain.SessionDisposed {
		return
	}
	if b.cb.OnMapPress != nil {
		b.cb.OnMapPress(coord)
	}
}

func (b *MapBridge) handleRegionChange(region domain.Region) {
	if b.State() == domain.SessionDisposed {
		return
	}
	if b.cb.OnRegionChange != nil {
		b.cb.OnRegionChange(region)
	}
}

// expire runs on the handshake timer's goroutine.
func (b *MapBridge) expire() {
	b.mu.Lock()
	if b.session.Expire() {
		b.onForcedDispose(b.session.Cause())
	}
	b.mu.Unlock()
	b.reportErrors()
}

// onForcedDispose releases resources after the session disposed itself. Called with mu held.
func (b *MapBridge) onForcedDispose(cause error) {
	metrics.SessionTimeouts.Inc()
	b.release()
	b.logger.Warn("map session disposed", "error_kind", domain.ErrorKind(cause), "error", cause)
	b.errs = append(b.errs, cause)
}

func (b *MapBridge) disposeLocked() {
	pending := b.session.Pending()
	if !b.session.Dispose() {
		return
	}
	if pending > 0 {
		metrics.CommandsDiscarded.Add(float64(pending))
	}
	b.release()
	b.logger.Info("map session disposed", "discarded", pending)
}

func (b *MapBridge) release() {
	b.cancel()
	if b.mounted {
		metrics.ActiveSessions.Dec()
		b.mounted = false
	}
}

func (b *MapBridge) dropEvent(err error) {
	kind := domain.ErrorKind(err)
	metrics.EventsDropped.WithLabelValues(kind).Inc()
	b.logger.Warn("inbound event dropped", "error_kind", kind, "error", err)
}

func (b *MapBridge) reportErrors() {
	b.mu.Lock()
	errs := b.errs
	b.errs = nil
	b.mu.Unlock()
	if b.cb.OnError == nil {
		return
	}
	for _, err := range errs {
		b.cb.OnError(err)
	}
}

func validateOverlaySet(overlays []domain.Overlay) error {
	seen := make(map[domain.OverlayKey]struct{}, len(overlays))
	for i, o := range overlays {
		if o == nil {
			return fmt.Errorf("%w: overlay %d is nil", domain.ErrInvalidOverlay, i)
		}
		if err := o.Validate(); err != nil {
			return err
		}
		key := o.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate %s", domain.ErrInvalidOverlay, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// overlayBounds covers every overlay; circles contribute their full radius.
func overlayBounds(overlays []domain.Overlay) (domain.Bounds, bool) {
	b := domain.Bounds{MinLat: math.Inf(1), MinLon: math.Inf(1), MaxLat: math.Inf(-1), MaxLon: math.Inf(-1)}
	found := false
	for _, o := range overlays {
		if c, ok := o.(domain.Circle); ok {
			minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(c.Center.Latitude, c.Center.Longitude, c.RadiusMeters)
			b = b.Extend(domain.Coordinate{Latitude: minLat, Longitude: minLon})
			b = b.Extend(domain.Coordinate{Latitude: maxLat, Longitude: maxLon})
			found = true
			continue
		}
		for _, pt := range o.Coordinates() {
			b = b.Extend(pt)
			found = true
		}
	}
	return b, found
}
