package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
)

const defaultFitPadding = 0.2

// overlaySet is the grouped overlay representation used by the REST API.
type overlaySet struct {
	Markers   []domain.Marker   `json:"markers"`
	Polylines []domain.Polyline `json:"polylines"`
	Circles   []domain.Circle   `json:"circles"`
}

func (s overlaySet) overlays() []domain.Overlay {
	out := make([]domain.Overlay, 0, len(s.Markers)+len(s.Polylines)+len(s.Circles))
	for _, m := range s.Markers {
		out = append(out, m)
	}
	for _, p := range s.Polylines {
		out = append(out, p)
	}
	for _, c := range s.Circles {
		out = append(out, c)
	}
	return out
}

func groupOverlays(overlays []domain.Overlay) overlaySet {
	set := overlaySet{
		Markers:   []domain.Marker{},
		Polylines: []domain.Polyline{},
		Circles:   []domain.Circle{},
	}
	for _, o := range overlays {
		switch v := o.(type) {
		case domain.Marker:
			set.Markers = append(set.Markers, v)
		case domain.Polyline:
			set.Polylines = append(set.Polylines, v)
		case domain.Circle:
			set.Circles = append(set.Circles, v)
		}
	}
	return set
}

// sessionDetail is the full view of one session.
type sessionDetail struct {
	usecases.SessionInfo
	Camera   *domain.Region `json:"camera,omitempty"`
	Declared overlaySet     `json:"declared"`
}

// acceptedResponse acknowledges a mutation. The commands it produced are
// queued or sent; the engine has not necessarily applied them yet.
type acceptedResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Pending   int    `json:"pending"`
}

type cameraRequest struct {
	Region     domain.Region `json:"region"`
	DurationMs int           `json:"duration_ms"`
}

type fitRequest struct {
	Padding    *float64 `json:"padding"`
	DurationMs int      `json:"duration_ms"`
}

type styleRequest struct {
	Style string `json:"style"`
}

type layerRequest struct {
	Visible *bool `json:"visible"`
}

// withBridge resolves the :id route parameter to a mounted bridge.
func withBridge(deps *Dependencies, fn func(c *fiber.Ctx, b *usecases.MapBridge) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		b, err := deps.Maps.Get(c.Params("id"))
		if err != nil {
			return errFrom(c, err)
		}
		return fn(c, b)
	}
}

// mutationResult answers a bridge mutation: 202 on success, mapped error otherwise.
func mutationResult(c *fiber.Ctx, b *usecases.MapBridge, err error) error {
	if err != nil {
		return errFrom(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(acceptedResponse{
		SessionID: b.ID(),
		State:     b.State().String(),
		Pending:   b.Pending(),
	})
}

// ListSessionsHandler returns mounted sessions, oldest first.
func ListSessionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessions := deps.Maps.List()
		page, pg := paginate(sessions, c.QueryInt("offset", 0), c.QueryInt("limit", 50))
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// GetSessionHandler returns one session with its camera and declared overlays.
func GetSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		info, err := deps.Maps.Info(id)
		if err != nil {
			return errFrom(c, err)
		}
		b, err := deps.Maps.Get(id)
		if err != nil {
			return errFrom(c, err)
		}
		detail := sessionDetail{SessionInfo: info, Declared: groupOverlays(b.Overlays())}
		if r, ok := b.Camera(); ok {
			detail.Camera = &r
		}
		return c.JSON(detail)
	}
}

// DeleteSessionHandler unmounts a session, saving its snapshot.
func DeleteSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Maps.Unmount(c.UserContext(), c.Params("id")); err != nil {
			return errFrom(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GetOverlaysHandler returns the declared overlays grouped by kind.
func GetOverlaysHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		return c.JSON(groupOverlays(b.Overlays()))
	})
}

// ReplaceOverlaysHandler replaces the declared overlay set; only the difference is sent.
func ReplaceOverlaysHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var set overlaySet
		if err := c.BodyParser(&set); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return mutationResult(c, b, b.SetOverlays(set.overlays()))
	})
}

// UpsertMarkerHandler declares a marker.
func UpsertMarkerHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var m domain.Marker
		if err := c.BodyParser(&m); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return mutationResult(c, b, b.AddMarker(m))
	})
}

// UpsertPolylineHandler declares a polyline.
func UpsertPolylineHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var p domain.Polyline
		if err := c.BodyParser(&p); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return mutationResult(c, b, b.AddPolyline(p))
	})
}

// UpsertCircleHandler declares a circle.
func UpsertCircleHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var ci domain.Circle
		if err := c.BodyParser(&ci); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return mutationResult(c, b, b.AddCircle(ci))
	})
}

// RemoveOverlayHandler removes the overlay of kind named by :oid.
func RemoveOverlayHandler(deps *Dependencies, kind domain.OverlayKind) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		return mutationResult(c, b, b.RemoveOverlay(kind, c.Params("oid")))
	})
}

// AnimateCameraHandler animates the camera to a region.
func AnimateCameraHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var req cameraRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return mutationResult(c, b, b.AnimateToRegion(req.Region, req.DurationMs))
	})
}

// FitCameraHandler animates the camera to cover every declared overlay.
func FitCameraHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var req fitRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}
		padding := defaultFitPadding
		if req.Padding != nil {
			padding = *req.Padding
		}
		if padding < 0 {
			return errBadRequest(c, "padding must not be negative")
		}
		return mutationResult(c, b, b.FitToOverlays(padding, req.DurationMs))
	})
}

// SetStyleHandler switches the base map style.
func SetStyleHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var req styleRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return mutationResult(c, b, b.SetMapStyle(req.Style))
	})
}

// SetLayerHandler shows or hides the layer named by :layer.
func SetLayerHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		var req layerRequest
		if err := c.BodyParser(&req); err != nil || req.Visible == nil {
			return errBadRequest(c, "body must be {\"visible\": true|false}")
		}
		layer := strings.TrimSpace(c.Params("layer"))
		if layer == "" {
			return errBadRequest(c, "layer is required")
		}
		return mutationResult(c, b, b.SetLayerVisible(layer, *req.Visible))
	})
}

// ClearHandler removes every overlay.
func ClearHandler(deps *Dependencies) fiber.Handler {
	return withBridge(deps, func(c *fiber.Ctx, b *usecases.MapBridge) error {
		return mutationResult(c, b, b.ClearAll())
	})
}

// ListGeofencesHandler returns the active geofences.
func ListGeofencesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Geofences == nil {
			return errUnavailable(c, "geofence store not configured")
		}
		fences, err := deps.Geofences.ListActive(c.UserContext())
		if err != nil {
			return errInternal(c, err.Error())
		}
		if fences == nil {
			fences = []domain.Geofence{}
		}
		return c.JSON(fences)
	}
}

// UpsertGeofenceHandler saves a geofence and redraws it on every mounted map.
func UpsertGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Geofences == nil {
			return errUnavailable(c, "geofence store not configured")
		}
		var g domain.Geofence
		if err := c.BodyParser(&g); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if strings.TrimSpace(g.Name) == "" {
			return errBadRequest(c, "name is required")
		}
		if err := g.Circle().Validate(); err != nil {
			return errFrom(c, err)
		}
		if err := deps.Geofences.Upsert(c.UserContext(), &g); err != nil {
			return errFrom(c, err)
		}
		if err := deps.Maps.ApplyGeofence(g); err != nil {
			LoggerFromCtx(c.UserContext()).Warn("geofence not applied to every session", "geofence_id", g.ID, "error", err)
		}
		return c.JSON(g)
	}
}
