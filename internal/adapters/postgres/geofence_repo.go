package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// GeofenceRepo implements ports.GeofenceRepository with pgx.
type GeofenceRepo struct {
	db *DB
}

// NewGeofenceRepo creates a new GeofenceRepo.
func NewGeofenceRepo(db *DB) *GeofenceRepo {
	return &GeofenceRepo{db: db}
}

// ListActive returns every active geofence, oldest first.
func (r *GeofenceRepo) ListActive(ctx context.Context) ([]domain.Geofence, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id::text, name,
			ST_Y(center::geometry) AS lat,
			ST_X(center::geometry) AS lon,
			radius_meters, COALESCE(color, ''), active, created_at
		FROM geofences
		WHERE active
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}

	fences, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Geofence, error) {
		var g domain.Geofence
		err := row.Scan(&g.ID, &g.Name,
			&g.Center.Latitude, &g.Center.Longitude,
			&g.RadiusMeters, &g.Color, &g.Active, &g.CreatedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan geofences: %w", err)
	}
	return fences, nil
}

// Upsert inserts or updates a geofence by name.
func (r *GeofenceRepo) Upsert(ctx context.Context, g *domain.Geofence) error {
	if err := g.Center.Validate(); err != nil {
		return err
	}
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO geofences (name, center, radius_meters, color, active)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, NULLIF($5, ''), $6)
		ON CONFLICT (name) DO UPDATE
		SET center = EXCLUDED.center, radius_meters = EXCLUDED.radius_meters,
		    color = EXCLUDED.color, active = EXCLUDED.active
		RETURNING id::text, created_at
	`, g.Name, g.Center.Longitude, g.Center.Latitude, g.RadiusMeters, g.Color, g.Active).
		Scan(&g.ID, &g.CreatedAt)
}
