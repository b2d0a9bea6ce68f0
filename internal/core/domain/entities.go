package domain

import (
	"time"
)

// VehiclePosition is a real-time vehicle location reading from the fleet feed.
type VehiclePosition struct {
	Time      time.Time  `json:"time"`
	VehicleID string     `json:"vehicle_id"`
	DriverID  string     `json:"driver_id,omitempty"`
	Label     string     `json:"label,omitempty"`
	Location  Coordinate `json:"location"`
	Bearing   float64    `json:"bearing"`
	Speed     float64    `json:"speed"` // m/s
}

// Marker converts the reading to the vehicle marker drawn on every tracking map.
func (vp VehiclePosition) Marker() Marker {
	label := vp.Label
	if label == "" {
		label = vp.VehicleID
	}
	return Marker{
		ID:       vp.VehicleID,
		Position: vp.Location,
		Label:    label,
		IconKind: IconVehicle,
	}
}

// Geofence is a persisted delivery zone, drawn as a circle.
type Geofence struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
	Color        string     `json:"color,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Circle converts the geofence to its overlay.
func (g Geofence) Circle() Circle {
	return Circle{
		ID:           "geofence:" + g.ID,
		Center:       g.Center,
		RadiusMeters: g.RadiusMeters,
		FillColor:    g.Color,
		StrokeColor:  g.Color,
	}
}

// MapEvent is a remote event attributed to a session, as published to the broker.
type MapEvent struct {
	SessionID  string      `json:"session_id"`
	Type       EventType   `json:"type"`
	MarkerID   string      `json:"marker_id,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Region     *Region     `json:"region,omitempty"`
	Time       time.Time   `json:"time"`
}
