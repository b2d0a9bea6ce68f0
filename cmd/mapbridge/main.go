package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/fleetmap/internal/adapters/http"
	natsadapter "github.com/samirrijal/fleetmap/internal/adapters/nats"
	"github.com/samirrijal/fleetmap/internal/adapters/postgres"
	"github.com/samirrijal/fleetmap/internal/adapters/valkey"
	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/ports"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
	"github.com/samirrijal/fleetmap/internal/pkg/config"
	"github.com/samirrijal/fleetmap/internal/pkg/logging"
	"github.com/samirrijal/fleetmap/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load("fleetmap-bridge")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	format, _ := codec.ParseFormat(cfg.Bridge.Codec) // validated by config.Load
	frameCodec, err := codec.New(format)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	geofences := postgres.NewGeofenceRepo(db)

	deps := &http.Dependencies{
		Codec:     frameCodec,
		Geofences: geofences,
		DB:        db,
		Version:   version,
	}

	// Snapshots
	var snapshots ports.SnapshotStore
	store, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, snapshots disabled", "error", err)
	} else {
		defer store.Close()
		snapshots = store
		deps.Snapshots = store
	}

	// NATS
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, map events not published", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
		deps.NATS = pub.Conn()
	}

	maps := usecases.NewMapService(frameCodec, geofences, snapshots, publisher, usecases.MapDefaults{
		APIKey:      cfg.Bridge.APIKey,
		Region:      cfg.Bridge.DefaultRegion(),
		Style:       cfg.Bridge.DefaultStyle,
		ShowTraffic: cfg.Bridge.Traffic,
		Session: usecases.SessionOptions{
			MaxPending:       cfg.Bridge.MaxPending,
			HandshakeTimeout: cfg.Bridge.HandshakeTimeout,
		},
		SnapshotTTL: cfg.Bridge.SnapshotTTL,
	})
	deps.Maps = maps

	// Fleet feed
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("fleet feed unavailable", "error", err)
	} else {
		defer sub.Close()
		err := sub.SubscribeVehiclePositions(ctx, func(ctx context.Context, vp *domain.VehiclePosition) error {
			return maps.ApplyVehiclePosition(ctx, vp)
		})
		if err != nil {
			slog.Warn("fleet feed subscribe failed", "error", err)
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "fleetmap bridge",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("bridge server starting", "addr", addr, "codec", frameCodec.Format())
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, closing sessions...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Sessions first, so their snapshots are saved while Valkey is still open.
	maps.Close(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
