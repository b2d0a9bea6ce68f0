package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// fakeEngine records every call; executeFn may inject failures.
type fakeEngine struct {
	mu        sync.Mutex
	apiKey    string
	inits     int
	cmds      []domain.Command
	executeFn func(cmd domain.Command) error
}

func (e *fakeEngine) Initialize(_ context.Context, apiKey string, _ domain.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	e.apiKey = apiKey
	return nil
}

func (e *fakeEngine) Execute(_ context.Context, cmd domain.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmds = append(e.cmds, cmd)
	if e.executeFn != nil {
		return e.executeFn(cmd)
	}
	return nil
}

func (e *fakeEngine) sent() []domain.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Command, len(e.cmds))
	copy(out, e.cmds)
	return out
}

var cdmxRegion = domain.Region{Center: pt(19.4326, -99.1332), LatitudeSpan: 0.05, LongitudeSpan: 0.05}

func jsonCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(codec.FormatJSON)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return c
}

func newTestBridge(t *testing.T, opts MapOptions, cb Callbacks) (*MapBridge, *fakeEngine, *codec.Codec) {
	t.Helper()
	if opts.InitialRegion == (domain.Region{}) {
		opts.InitialRegion = cdmxRegion
	}
	e := &fakeEngine{}
	c := jsonCodec(t)
	b := NewMapBridge("s-1", e, c, opts, cb)
	if err := b.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(func() { _ = b.Dispose() })
	return b, e, c
}

func sendEvent(t *testing.T, b *MapBridge, c *codec.Codec, evt domain.RemoteEvent) error {
	t.Helper()
	data, err := c.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return b.HandleMessage(data)
}

func commandTypes(cmds []domain.Command) []domain.CommandType {
	out := make([]domain.CommandType, len(cmds))
	for i, c := range cmds {
		out[i] = c.Type
	}
	return out
}

func TestMapBridge_CommandsBeforeReadyAreReplayedInOrder(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{APIKey: "k"}, Callbacks{})

	car := domain.Marker{ID: "car", Position: pt(19.43, -99.13), IconKind: domain.IconVehicle}
	if err := b.AddMarker(car); err != nil {
		t.Fatalf("add marker: %v", err)
	}
	target := domain.Region{Center: pt(19.5, -99.2), LatitudeSpan: 0.02, LongitudeSpan: 0.02}
	if err := b.AnimateToRegion(target, 0); err != nil {
		t.Fatalf("animate: %v", err)
	}
	if len(e.sent()) != 0 {
		t.Fatalf("nothing may be executed before ready, got %v", commandTypes(e.sent()))
	}
	if e.inits != 1 || e.apiKey != "k" {
		t.Fatalf("initialize should run once at mount with the api key")
	}

	if err := sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady}); err != nil {
		t.Fatalf("ready: %v", err)
	}
	sent := e.sent()
	if len(sent) != 2 {
		t.Fatalf("expected exactly 2 commands, got %v", commandTypes(sent))
	}
	if sent[0].Type != domain.CmdAddOverlay || sent[0].Overlay.Key().ID != "car" {
		t.Errorf("first command = %+v, want add car", sent[0])
	}
	if sent[1].Type != domain.CmdAnimateToRegion || sent[1].Region != target || sent[1].DurationMs != domain.DefaultAnimationMs {
		t.Errorf("second command = %+v, want animate with default duration", sent[1])
	}
	if sent[0].Seq >= sent[1].Seq {
		t.Errorf("sequence numbers must increase: %d, %d", sent[0].Seq, sent[1].Seq)
	}
}

func TestMapBridge_MountSendsNonDefaultStyleAndTraffic(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{Style: "terrain", ShowTraffic: true}, Callbacks{})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})

	got := commandTypes(e.sent())
	if len(got) != 2 || got[0] != domain.CmdSetStyle || got[1] != domain.CmdSetLayerVisible {
		t.Fatalf("unexpected commands %v", got)
	}

	b2, e2, c2 := newTestBridge(t, MapOptions{Style: "normal"}, Callbacks{})
	_ = sendEvent(t, b2, c2, domain.RemoteEvent{Type: domain.EvtReady})
	if len(e2.sent()) != 0 {
		t.Errorf("default style and hidden traffic need no commands, got %v", commandTypes(e2.sent()))
	}
}

func TestMapBridge_MountRejectsInvalidConfig(t *testing.T) {
	e := &fakeEngine{}
	bad := cdmxRegion
	bad.LatitudeSpan = 0
	b := NewMapBridge("s", e, jsonCodec(t), MapOptions{InitialRegion: bad}, Callbacks{})
	if err := b.Mount(context.Background()); !errors.Is(err, domain.ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}

	dup := []domain.Overlay{marker("a", 1), marker("a", 2)}
	b = NewMapBridge("s", e, jsonCodec(t), MapOptions{InitialRegion: cdmxRegion, InitialOverlays: dup}, Callbacks{})
	if err := b.Mount(context.Background()); !errors.Is(err, domain.ErrInvalidOverlay) {
		t.Fatalf("expected ErrInvalidOverlay, got %v", err)
	}
	if e.inits != 0 {
		t.Error("engine must not be initialized for an invalid configuration")
	}
}

func TestMapBridge_InvalidInputsNeverReachEngine(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{}, Callbacks{})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})

	zero := cdmxRegion
	zero.LongitudeSpan = 0
	if err := b.AnimateToRegion(zero, 100); !errors.Is(err, domain.ErrInvalidRegion) {
		t.Errorf("expected ErrInvalidRegion, got %v", err)
	}
	if err := b.AddCircle(domain.Circle{ID: "c", Center: pt(1, 1)}); !errors.Is(err, domain.ErrInvalidOverlay) {
		t.Errorf("expected ErrInvalidOverlay, got %v", err)
	}
	if err := b.RemoveOverlay("blob", "x"); !errors.Is(err, domain.ErrInvalidOverlay) {
		t.Errorf("expected ErrInvalidOverlay, got %v", err)
	}
	if err := b.FitToOverlays(0.2, 0); !errors.Is(err, domain.ErrInvalidRegion) {
		t.Errorf("fit on empty set: expected ErrInvalidRegion, got %v", err)
	}
	if len(e.sent()) != 0 {
		t.Errorf("no command should be sent, got %v", commandTypes(e.sent()))
	}
}

func TestMapBridge_FitToOverlays(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{}, Callbacks{})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	_ = b.AddMarker(marker("a", 19.0))
	_ = b.AddMarker(domain.Marker{ID: "b", Position: pt(19.2, -99.3)})

	if err := b.FitToOverlays(0, 250); err != nil {
		t.Fatalf("fit: %v", err)
	}
	sent := e.sent()
	last := sent[len(sent)-1]
	if last.Type != domain.CmdAnimateToRegion || last.DurationMs != 250 {
		t.Fatalf("expected animate, got %+v", last)
	}
	if last.Region.LatitudeSpan < 0.2-1e-9 || last.Region.LongitudeSpan < 0.2-1e-9 {
		t.Errorf("region does not cover overlays: %+v", last.Region)
	}
	if cam, ok := b.Camera(); !ok || cam != last.Region {
		t.Errorf("camera should track the animation target")
	}
}

func TestMapBridge_ClearBeforeReadyQueuesNothing(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{}, Callbacks{})
	_ = b.AddMarker(marker("a", 19))
	_ = b.ClearAll()
	if b.Pending() != 0 {
		t.Fatalf("clear before ready should not be queued, pending %d", b.Pending())
	}
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	if len(e.sent()) != 0 {
		t.Errorf("nothing to replay after clear, got %v", commandTypes(e.sent()))
	}

	_ = b.AddMarker(marker("a", 19))
	_ = b.ClearAll()
	got := commandTypes(e.sent())
	if len(got) != 2 || got[1] != domain.CmdClear {
		t.Errorf("expected add then clear, got %v", got)
	}
}

func TestMapBridge_DisposeIsIdempotent(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{}, Callbacks{})
	_ = b.SetMapStyle("satellite")

	if err := b.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if err := b.Dispose(); err != nil {
		t.Fatalf("second dispose: %v", err)
	}
	if err := b.AddMarker(marker("a", 1)); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	if len(e.sent()) != 0 {
		t.Errorf("disposed bridge must never transmit, got %v", commandTypes(e.sent()))
	}
}

func TestMapBridge_EventsReachCallbacks(t *testing.T) {
	var (
		ready   int
		tapped  []string
		pressed []domain.Coordinate
		regions []domain.Region
	)
	cb := Callbacks{
		OnMapReady:     func() { ready++ },
		OnMarkerPress:  func(id string) { tapped = append(tapped, id) },
		OnMapPress:     func(c domain.Coordinate) { pressed = append(pressed, c) },
		OnRegionChange: func(r domain.Region) { regions = append(regions, r) },
	}
	b, _, c := newTestBridge(t, MapOptions{}, cb)

	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtMarkerTapped, MarkerID: "ghost"})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtMapTapped, Coordinate: pt(19, -99)})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtRegionChanged, Region: cdmxRegion})

	if err := b.HandleMessage([]byte(`{"type":"map_tapped","payload":{"coordinate":{"latitude":100,"longitude":0}}}`)); !errors.Is(err, domain.ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent, got %v", err)
	}
	if err := b.HandleMessage([]byte(`garbage`)); !errors.Is(err, domain.ErrChannel) {
		t.Errorf("expected ErrChannel, got %v", err)
	}

	if ready != 1 {
		t.Errorf("OnMapReady called %d times, want 1", ready)
	}
	if len(tapped) != 1 || tapped[0] != "ghost" {
		t.Errorf("marker taps = %v", tapped)
	}
	if len(pressed) != 1 || len(regions) != 1 {
		t.Errorf("map presses = %d, region changes = %d", len(pressed), len(regions))
	}
	if b.State() != domain.SessionReady {
		t.Errorf("malformed frames must not change state, got %s", b.State())
	}
}

func TestMapBridge_HandshakeTimeoutReportsError(t *testing.T) {
	errs := make(chan error, 1)
	b, e, c := newTestBridge(t, MapOptions{Session: SessionOptions{HandshakeTimeout: 20 * time.Millisecond}},
		Callbacks{OnError: func(err error) { errs <- err }})
	_ = b.SetMapStyle("terrain")

	select {
	case err := <-errs:
		if !errors.Is(err, domain.ErrSessionTimedOut) {
			t.Fatalf("expected ErrSessionTimedOut, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never reported")
	}
	if b.State() != domain.SessionDisposed {
		t.Errorf("state = %s, want disposed", b.State())
	}
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	if len(e.sent()) != 0 {
		t.Errorf("timed-out session must not flush, got %v", commandTypes(e.sent()))
	}
}

func TestMapBridge_PendingOverflowDisposes(t *testing.T) {
	var reported []error
	b, _, _ := newTestBridge(t, MapOptions{Session: SessionOptions{MaxPending: 2}},
		Callbacks{OnError: func(err error) { reported = append(reported, err) }})

	_ = b.SetLayerVisible("traffic", true)
	_ = b.SetLayerVisible("traffic", false)
	err := b.SetLayerVisible("traffic", true)
	if !errors.Is(err, domain.ErrSessionTimedOut) {
		t.Fatalf("expected ErrSessionTimedOut, got %v", err)
	}
	if len(reported) != 1 || !errors.Is(reported[0], domain.ErrSessionTimedOut) {
		t.Errorf("OnError should receive the timeout once, got %v", reported)
	}
	if err := b.SetLayerVisible("traffic", true); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after overflow, got %v", err)
	}
}

func TestMapBridge_TransmitFailureGoesToOnError(t *testing.T) {
	var reported []error
	b, e, c := newTestBridge(t, MapOptions{}, Callbacks{OnError: func(err error) { reported = append(reported, err) }})
	e.executeFn = func(domain.Command) error { return errors.New("broken pipe") }
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})

	if err := b.SetMapStyle("satellite"); err != nil {
		t.Fatalf("transmission failures are not returned to the caller, got %v", err)
	}
	if len(reported) != 1 || !errors.Is(reported[0], domain.ErrChannel) {
		t.Fatalf("expected one channel error, got %v", reported)
	}
}

func TestMapBridge_SetOverlaysSendsOnlyDifference(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{InitialOverlays: []domain.Overlay{marker("a", 1), marker("b", 2)}}, Callbacks{})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	before := len(e.sent())
	if before != 2 {
		t.Fatalf("initial overlays should be replayed, got %d commands", before)
	}

	if err := b.SetOverlays([]domain.Overlay{marker("a", 1), marker("c", 3)}); err != nil {
		t.Fatalf("set overlays: %v", err)
	}
	got := e.sent()[before:]
	if len(got) != 2 || got[0].Type != domain.CmdRemoveOverlay || got[0].Target.ID != "b" ||
		got[1].Type != domain.CmdAddOverlay || got[1].Overlay.Key().ID != "c" {
		t.Errorf("unexpected diff %+v", got)
	}
}

func TestMapBridge_IncompleteTapNeverReachesHost(t *testing.T) {
	var pressed []domain.Coordinate
	b, _, c := newTestBridge(t, MapOptions{}, Callbacks{OnMapPress: func(co domain.Coordinate) { pressed = append(pressed, co) }})
	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})

	for _, frame := range []string{
		`{"type":"map_tapped","payload":{"coordinate":{"lat":95,"lng":200}}}`,
		`{"type":"map_tapped","payload":{"coordinate":{}}}`,
		`{"type":"region_changed","payload":{"region":{"center":{},"latitude_span":1,"longitude_span":1}}}`,
	} {
		if err := b.HandleMessage([]byte(frame)); !errors.Is(err, domain.ErrMalformedEvent) {
			t.Errorf("HandleMessage(%s) = %v, want ErrMalformedEvent", frame, err)
		}
	}
	if len(pressed) != 0 {
		t.Errorf("OnMapPress must not run for incomplete coordinates, got %v", pressed)
	}
}

func TestMapBridge_ReplayPrecedesQueuedCommands(t *testing.T) {
	b, e, c := newTestBridge(t, MapOptions{}, Callbacks{})
	_ = b.AnimateToRegion(cdmxRegion, 300)
	_ = b.AddMarker(marker("late", 19))
	_ = b.SetMapStyle("satellite")

	_ = sendEvent(t, b, c, domain.RemoteEvent{Type: domain.EvtReady})
	got := commandTypes(e.sent())
	want := []domain.CommandType{domain.CmdAddOverlay, domain.CmdAnimateToRegion, domain.CmdSetStyle}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMapBridge_MountFailsWhenPreludeOverflows(t *testing.T) {
	var reported []error
	e := &fakeEngine{}
	b := NewMapBridge("s", e, jsonCodec(t), MapOptions{
		InitialRegion: cdmxRegion,
		Style:         "terrain",
		ShowTraffic:   true,
		Session:       SessionOptions{MaxPending: 1},
	}, Callbacks{OnError: func(err error) { reported = append(reported, err) }})

	err := b.Mount(context.Background())
	if !errors.Is(err, domain.ErrSessionTimedOut) {
		t.Fatalf("expected ErrSessionTimedOut from Mount, got %v", err)
	}
	if b.State() != domain.SessionDisposed {
		t.Errorf("state = %s, want disposed", b.State())
	}
	if err := b.SetMapStyle("normal"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if len(reported) != 0 {
		t.Errorf("an error returned by Mount must not also reach OnError, got %v", reported)
	}
}
