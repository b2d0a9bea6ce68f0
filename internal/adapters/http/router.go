package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/pkg/metrics"
)

const requestTimeout = 5 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(requestid.New())
	app.Use(RequestLoggerMiddleware())
	app.Use(AccessLogMiddleware())

	// Rate limiting: 600 requests per minute per IP. Fleet dashboards poll.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return websocket.IsWebSocketUpgrade(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/sessions", ListSessionsHandler(deps))
	v1.Get("/sessions/:id", GetSessionHandler(deps))
	v1.Delete("/sessions/:id", timeout.NewWithContext(DeleteSessionHandler(deps), requestTimeout))

	v1.Get("/sessions/:id/overlays", GetOverlaysHandler(deps))
	v1.Put("/sessions/:id/overlays", ReplaceOverlaysHandler(deps))
	v1.Post("/sessions/:id/markers", UpsertMarkerHandler(deps))
	v1.Delete("/sessions/:id/markers/:oid", RemoveOverlayHandler(deps, domain.KindMarker))
	v1.Post("/sessions/:id/polylines", UpsertPolylineHandler(deps))
	v1.Delete("/sessions/:id/polylines/:oid", RemoveOverlayHandler(deps, domain.KindPolyline))
	v1.Post("/sessions/:id/circles", UpsertCircleHandler(deps))
	v1.Delete("/sessions/:id/circles/:oid", RemoveOverlayHandler(deps, domain.KindCircle))
	v1.Post("/sessions/:id/clear", ClearHandler(deps))

	v1.Post("/sessions/:id/camera", AnimateCameraHandler(deps))
	v1.Post("/sessions/:id/camera/fit", FitCameraHandler(deps))
	v1.Put("/sessions/:id/style", SetStyleHandler(deps))
	v1.Put("/sessions/:id/layers/:layer", SetLayerHandler(deps))

	v1.Get("/geofences", timeout.NewWithContext(ListGeofencesHandler(deps), requestTimeout))
	v1.Put("/geofences", timeout.NewWithContext(UpsertGeofenceHandler(deps), requestTimeout))

	app.Post("/graphql", GraphQLHandler(deps))

	SetupDocs(app, "api/openapi.yaml")

	// Remote map engines
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/engine", websocket.New(EngineSocketHandler(deps)))
}
