// Command fleetfeed polls telematics providers for vehicle positions and
// publishes them on the fleet stream consumed by the map bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/fleetmap/internal/adapters/nats"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/pkg/config"
	"github.com/samirrijal/fleetmap/internal/pkg/logging"
)

// Manifest lists the providers to poll.
type Manifest struct {
	Providers []Provider `json:"providers"`
}

type Provider struct {
	Name         string `json:"name"`
	PositionsURL string `json:"positions_url"`
}

// providerPosition is one entry of a provider's positions document.
type providerPosition struct {
	VehicleID string  `json:"vehicle_id"`
	DriverID  string  `json:"driver_id"`
	Label     string  `json:"label"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Bearing   float64 `json:"bearing"`
	Speed     float64 `json:"speed"`
	Timestamp int64   `json:"timestamp"` // unix seconds, 0 = now
}

const (
	pollInterval   = 15 * time.Second
	maxConcurrency = 8
)

func main() {
	cfg, err := config.Load("fleetmap-feed")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	manifestPath := "providers.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	slog.Info("fleet feed starting", "providers", len(manifest.Providers), "interval", pollInterval.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	pollAll(ctx, pub, client, manifest.Providers)
	for {
		select {
		case <-ticker.C:
			pollAll(ctx, pub, client, manifest.Providers)
		case sig := <-quit:
			slog.Info("shutting down fleet feed", "signal", sig.String())
			return
		}
	}
}

func pollAll(ctx context.Context, pub *natsadapter.Publisher, client *http.Client, providers []Provider) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrency)

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			published, skipped, err := pollProvider(ctx, pub, client, p)
			if err != nil {
				slog.Warn("provider poll failed", "provider", p.Name, "error", err)
				return
			}
			slog.Debug("provider polled", "provider", p.Name, "published", published, "skipped", skipped)
		}(p)
	}
	wg.Wait()
}

func pollProvider(ctx context.Context, pub *natsadapter.Publisher, client *http.Client, p Provider) (published, skipped int, err error) {
	positions, err := fetchPositions(ctx, client, p.PositionsURL)
	if err != nil {
		return 0, 0, err
	}
	for _, raw := range positions {
		vp := raw.toDomain()
		if vp.VehicleID == "" || vp.Location.Validate() != nil {
			skipped++
			continue
		}
		if err := pub.PublishVehiclePosition(ctx, &vp); err != nil {
			return published, skipped, fmt.Errorf("publish %s: %w", vp.VehicleID, err)
		}
		published++
	}
	return published, skipped, nil
}

func fetchPositions(ctx context.Context, client *http.Client, url string) ([]providerPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var positions []providerPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return positions, nil
}

func (p providerPosition) toDomain() domain.VehiclePosition {
	ts := time.Now()
	if p.Timestamp > 0 {
		ts = time.Unix(p.Timestamp, 0)
	}
	return domain.VehiclePosition{
		Time:      ts,
		VehicleID: p.VehicleID,
		DriverID:  p.DriverID,
		Label:     p.Label,
		Location:  domain.Coordinate{Latitude: p.Lat, Longitude: p.Lon},
		Bearing:   p.Bearing,
		Speed:     p.Speed,
	}
}
