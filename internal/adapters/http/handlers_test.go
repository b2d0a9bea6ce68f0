package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/fleetmap/internal/adapters/http"
	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
)

// ---- Mock engine and repositories ----

type recordingEngine struct {
	mu   sync.Mutex
	cmds []domain.Command
}

func (e *recordingEngine) Initialize(ctx context.Context, apiKey string, region domain.Region) error {
	return nil
}

func (e *recordingEngine) Execute(ctx context.Context, cmd domain.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmds = append(e.cmds, cmd)
	return nil
}

func (e *recordingEngine) commands() []domain.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Command(nil), e.cmds...)
}

type mockGeofenceRepo struct {
	listActiveFn func(ctx context.Context) ([]domain.Geofence, error)
	upsertFn     func(ctx context.Context, g *domain.Geofence) error
}

func (m *mockGeofenceRepo) ListActive(ctx context.Context) ([]domain.Geofence, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockGeofenceRepo) Upsert(ctx context.Context, g *domain.Geofence) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, g)
	}
	return nil
}

// ---- Helpers ----

var testRegion = domain.Region{
	Center:        domain.Coordinate{Latitude: 19.4326, Longitude: -99.1332},
	LatitudeSpan:  0.05,
	LongitudeSpan: 0.05,
}

type testEnv struct {
	app    *fiber.App
	maps   *usecases.MapService
	codec  *codec.Codec
	fences *mockGeofenceRepo
}

func setupApp(t *testing.T) *testEnv {
	t.Helper()
	c, err := codec.New(codec.FormatJSON)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	fences := &mockGeofenceRepo{}
	maps := usecases.NewMapService(c, fences, nil, nil, usecases.MapDefaults{Region: testRegion})

	app := fiber.New()
	handler.SetupRoutes(app, &handler.Dependencies{
		Maps:      maps,
		Codec:     c,
		Geofences: fences,
	})
	return &testEnv{app: app, maps: maps, codec: c, fences: fences}
}

func (env *testEnv) mount(t *testing.T) (*usecases.MapBridge, *recordingEngine) {
	t.Helper()
	eng := &recordingEngine{}
	b, err := env.maps.Mount(context.Background(), usecases.MountRequest{Engine: eng})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	return b, eng
}

func (env *testEnv) ready(t *testing.T, b *usecases.MapBridge) {
	t.Helper()
	frame, err := env.codec.EncodeEvent(domain.RemoteEvent{Type: domain.EvtReady})
	if err != nil {
		t.Fatalf("encode ready: %v", err)
	}
	if err := b.HandleMessage(frame); err != nil {
		t.Fatalf("ready: %v", err)
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var apiErr handler.APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("invalid error body %q: %v", body, err)
	}
	return apiErr.Code
}

// ---- Tests ----

func TestHealthHandler(t *testing.T) {
	env := setupApp(t)
	env.mount(t)

	status, body := doRequest(t, env.app, "GET", "/v1/health", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var result map[string]any
	_ = json.Unmarshal(body, &result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", result["status"])
	}
	if result["sessions"] != float64(1) {
		t.Errorf("expected 1 session, got %v", result["sessions"])
	}
}

func TestReadyHandler_NoDatabase(t *testing.T) {
	env := setupApp(t)
	status, _ := doRequest(t, env.app, "GET", "/v1/ready", "")
	if status != 503 {
		t.Errorf("expected 503 without database, got %d", status)
	}
}

func TestListSessionsHandler(t *testing.T) {
	env := setupApp(t)
	b1, _ := env.mount(t)
	env.mount(t)

	status, body := doRequest(t, env.app, "GET", "/v1/sessions?limit=1", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var result struct {
		Data       []usecases.SessionInfo `json:"data"`
		Pagination handler.Pagination     `json:"pagination"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Pagination.Total != 2 || len(result.Data) != 1 {
		t.Fatalf("expected 1 of 2 sessions, got %d of %d", len(result.Data), result.Pagination.Total)
	}
	if result.Data[0].ID != b1.ID() {
		t.Errorf("expected oldest session first")
	}
	if result.Data[0].State != "booting" {
		t.Errorf("expected booting, got %s", result.Data[0].State)
	}
}

func TestGetSessionHandler_NotFound(t *testing.T) {
	env := setupApp(t)
	status, body := doRequest(t, env.app, "GET", "/v1/sessions/nope", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Errorf("expected not_found, got %s", code)
	}
}

func TestUpsertMarkerHandler_SentAfterReady(t *testing.T) {
	env := setupApp(t)
	b, eng := env.mount(t)
	env.ready(t, b)

	status, body := doRequest(t, env.app, "POST", "/v1/sessions/"+b.ID()+"/markers",
		`{"id":"car","position":{"latitude":19.43,"longitude":-99.13},"icon_kind":"vehicle"}`)
	if status != 202 {
		t.Fatalf("expected 202, got %d: %s", status, body)
	}

	cmds := eng.commands()
	if len(cmds) != 1 || cmds[0].Type != domain.CmdAddOverlay {
		t.Fatalf("expected one add_overlay, got %+v", cmds)
	}
	if cmds[0].Overlay.Key() != (domain.OverlayKey{Kind: domain.KindMarker, ID: "car"}) {
		t.Errorf("unexpected overlay key %v", cmds[0].Overlay.Key())
	}
}

func TestUpsertMarkerHandler_InvalidOverlay(t *testing.T) {
	env := setupApp(t)
	b, eng := env.mount(t)
	env.ready(t, b)

	status, body := doRequest(t, env.app, "POST", "/v1/sessions/"+b.ID()+"/markers",
		`{"id":"","position":{"latitude":19.43,"longitude":-99.13}}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if code := errorCode(t, body); code != "invalid_overlay" {
		t.Errorf("expected invalid_overlay, got %s", code)
	}
	if n := len(eng.commands()); n != 0 {
		t.Errorf("expected nothing sent, got %d commands", n)
	}
}

func TestUpsertMarkerHandler_DisposedSession(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)
	_ = b.Dispose()

	status, body := doRequest(t, env.app, "POST", "/v1/sessions/"+b.ID()+"/markers",
		`{"id":"car","position":{"latitude":19.43,"longitude":-99.13}}`)
	if status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
	if code := errorCode(t, body); code != "session_closed" {
		t.Errorf("expected session_closed, got %s", code)
	}
}

func TestReplaceOverlaysHandler_SendsOnlyDifference(t *testing.T) {
	env := setupApp(t)
	b, eng := env.mount(t)
	env.ready(t, b)

	set := `{"markers":[{"id":"a","position":{"latitude":1,"longitude":1}},{"id":"b","position":{"latitude":2,"longitude":2}}]}`
	if status, body := doRequest(t, env.app, "PUT", "/v1/sessions/"+b.ID()+"/overlays", set); status != 202 {
		t.Fatalf("expected 202, got %d: %s", status, body)
	}
	if status, _ := doRequest(t, env.app, "PUT", "/v1/sessions/"+b.ID()+"/overlays", set); status != 202 {
		t.Fatalf("expected 202 on repeat, got %d", status)
	}

	if n := len(eng.commands()); n != 2 {
		t.Errorf("expected 2 adds and nothing for the repeat, got %d commands", n)
	}

	status, body := doRequest(t, env.app, "GET", "/v1/sessions/"+b.ID()+"/overlays", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var got struct {
		Markers []domain.Marker `json:"markers"`
	}
	_ = json.Unmarshal(body, &got)
	if len(got.Markers) != 2 || got.Markers[0].ID != "a" {
		t.Errorf("unexpected overlays: %s", body)
	}
}

func TestReplaceOverlaysHandler_Duplicate(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)

	set := `{"markers":[{"id":"a","position":{"latitude":1,"longitude":1}},{"id":"a","position":{"latitude":2,"longitude":2}}]}`
	status, body := doRequest(t, env.app, "PUT", "/v1/sessions/"+b.ID()+"/overlays", set)
	if status != 400 || errorCode(t, body) != "invalid_overlay" {
		t.Errorf("expected 400 invalid_overlay, got %d %s", status, body)
	}
}

func TestRemoveOverlayHandler(t *testing.T) {
	env := setupApp(t)
	b, eng := env.mount(t)
	_ = b.AddCircle(domain.Circle{ID: "zone", Center: domain.Coordinate{Latitude: 1, Longitude: 1}, RadiusMeters: 100})
	env.ready(t, b)

	status, _ := doRequest(t, env.app, "DELETE", "/v1/sessions/"+b.ID()+"/circles/zone", "")
	if status != 202 {
		t.Fatalf("expected 202, got %d", status)
	}
	cmds := eng.commands()
	last := cmds[len(cmds)-1]
	if last.Type != domain.CmdRemoveOverlay || last.Target.ID != "zone" {
		t.Errorf("expected remove of zone, got %+v", last)
	}
}

func TestAnimateCameraHandler_InvalidRegion(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)

	status, body := doRequest(t, env.app, "POST", "/v1/sessions/"+b.ID()+"/camera",
		`{"region":{"center":{"latitude":19.4,"longitude":-99.1},"latitude_span":0,"longitude_span":0.01}}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if code := errorCode(t, body); code != "invalid_region" {
		t.Errorf("expected invalid_region, got %s", code)
	}
}

func TestFitCameraHandler_NoOverlays(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)

	status, body := doRequest(t, env.app, "POST", "/v1/sessions/"+b.ID()+"/camera/fit", "")
	if status != 400 || errorCode(t, body) != "invalid_region" {
		t.Errorf("expected 400 invalid_region, got %d %s", status, body)
	}
}

func TestSetLayerHandler_RequiresVisible(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)

	status, _ := doRequest(t, env.app, "PUT", "/v1/sessions/"+b.ID()+"/layers/traffic", `{}`)
	if status != 400 {
		t.Errorf("expected 400, got %d", status)
	}

	status, body := doRequest(t, env.app, "PUT", "/v1/sessions/"+b.ID()+"/layers/traffic", `{"visible":true}`)
	if status != 202 {
		t.Fatalf("expected 202, got %d", status)
	}
	var ack struct {
		State   string `json:"state"`
		Pending int    `json:"pending"`
	}
	_ = json.Unmarshal(body, &ack)
	if ack.State != "booting" || ack.Pending != 1 {
		t.Errorf("expected command queued while booting, got %+v", ack)
	}
}

func TestDeleteSessionHandler(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)

	status, _ := doRequest(t, env.app, "DELETE", "/v1/sessions/"+b.ID(), "")
	if status != 204 {
		t.Fatalf("expected 204, got %d", status)
	}
	if b.State() != domain.SessionDisposed {
		t.Errorf("expected disposed bridge")
	}
	status, _ = doRequest(t, env.app, "DELETE", "/v1/sessions/"+b.ID(), "")
	if status != 404 {
		t.Errorf("expected 404 on second delete, got %d", status)
	}
}

func TestUpsertGeofenceHandler_DrawsOnMountedMaps(t *testing.T) {
	env := setupApp(t)
	env.fences.upsertFn = func(ctx context.Context, g *domain.Geofence) error {
		g.ID = "f1"
		return nil
	}
	b, eng := env.mount(t)
	env.ready(t, b)

	status, body := doRequest(t, env.app, "PUT", "/v1/geofences",
		`{"name":"depot","center":{"latitude":19.4,"longitude":-99.1},"radius_meters":250,"active":true}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	cmds := eng.commands()
	if len(cmds) != 1 || cmds[0].Type != domain.CmdAddOverlay || cmds[0].Overlay.Key().ID != "geofence:f1" {
		t.Errorf("expected geofence circle added, got %+v", cmds)
	}
}

func TestGraphQLHandler_Sessions(t *testing.T) {
	env := setupApp(t)
	b, _ := env.mount(t)
	_ = b.AddMarker(domain.Marker{ID: "car", Position: domain.Coordinate{Latitude: 19.43, Longitude: -99.13}})

	status, body := doRequest(t, env.app, "POST", "/graphql",
		`{"query":"{ sessions { id state markers { id icon_kind } camera { latitude_span } } }"}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var result struct {
		Data struct {
			Sessions []struct {
				ID      string `json:"id"`
				State   string `json:"state"`
				Markers []struct {
					ID       string `json:"id"`
					IconKind string `json:"icon_kind"`
				} `json:"markers"`
				Camera struct {
					LatitudeSpan float64 `json:"latitude_span"`
				} `json:"camera"`
			} `json:"sessions"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("graphql errors: %v", result.Errors)
	}
	if len(result.Data.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(result.Data.Sessions))
	}
	s := result.Data.Sessions[0]
	if s.ID != b.ID() || s.State != "booting" {
		t.Errorf("unexpected session %+v", s)
	}
	if len(s.Markers) != 1 || s.Markers[0].IconKind != "default" {
		t.Errorf("unexpected markers %+v", s.Markers)
	}
	if s.Camera.LatitudeSpan != testRegion.LatitudeSpan {
		t.Errorf("expected initial camera, got %+v", s.Camera)
	}
}
