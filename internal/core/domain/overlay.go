package domain

import (
	"fmt"
	"math"
)

// OverlayKind partitions overlay ids: a marker and a polyline may share an id.
type OverlayKind string

const (
	KindMarker   OverlayKind = "marker"
	KindPolyline OverlayKind = "polyline"
	KindCircle   OverlayKind = "circle"
)

// Valid reports whether k is one of the known kinds.
func (k OverlayKind) Valid() bool {
	switch k {
	case KindMarker, KindPolyline, KindCircle:
		return true
	}
	return false
}

// OverlayKey identifies an overlay within its kind partition.
type OverlayKey struct {
	Kind OverlayKind `json:"kind"`
	ID   string      `json:"id"`
}

func (k OverlayKey) String() string {
	return string(k.Kind) + "/" + k.ID
}

// Overlay is a drawable annotation. Implemented by Marker, Polyline and Circle.
type Overlay interface {
	Key() OverlayKey
	Validate() error
	// Equal compares content structurally.
	Equal(other Overlay) bool
	// Coordinates lists the points the overlay occupies, used for fitting the camera.
	Coordinates() []Coordinate
}

// IconKind selects the marker glyph drawn by the remote engine.
type IconKind string

const (
	IconDefault IconKind = "default"
	IconVehicle IconKind = "vehicle"
	IconUser    IconKind = "user"
	IconPickup  IconKind = "pickup"
	IconDropoff IconKind = "dropoff"
	IconDepot   IconKind = "depot"
)

func (k IconKind) valid() bool {
	switch k {
	case IconDefault, IconVehicle, IconUser, IconPickup, IconDropoff, IconDepot:
		return true
	}
	return false
}

// Marker is a point annotation (user, vehicle, stop).
type Marker struct {
	ID        string     `json:"id"`
	Position  Coordinate `json:"position"`
	Label     string     `json:"label,omitempty"`
	IconKind  IconKind   `json:"icon_kind"`
	TintColor string     `json:"tint_color,omitempty"`
}

func (m Marker) Key() OverlayKey { return OverlayKey{Kind: KindMarker, ID: m.ID} }

func (m Marker) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: marker id is required", ErrInvalidOverlay)
	}
	if err := m.Position.Validate(); err != nil {
		return fmt.Errorf("%w: marker %q: %v", ErrInvalidOverlay, m.ID, err)
	}
	if m.IconKind != "" && !m.IconKind.valid() {
		return fmt.Errorf("%w: marker %q: unknown icon kind %q", ErrInvalidOverlay, m.ID, m.IconKind)
	}
	return nil
}

func (m Marker) Equal(other Overlay) bool {
	o, ok := other.(Marker)
	return ok && m == o
}

func (m Marker) Coordinates() []Coordinate { return []Coordinate{m.Position} }

// Polyline is an ordered path, typically a route.
type Polyline struct {
	ID          string       `json:"id"`
	Points      []Coordinate `json:"points"`
	StrokeColor string       `json:"stroke_color"`
	StrokeWidth float64      `json:"stroke_width"`
}

func (p Polyline) Key() OverlayKey { return OverlayKey{Kind: KindPolyline, ID: p.ID} }

func (p Polyline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: polyline id is required", ErrInvalidOverlay)
	}
	if len(p.Points) < 2 {
		return fmt.Errorf("%w: polyline %q needs at least 2 points, got %d", ErrInvalidOverlay, p.ID, len(p.Points))
	}
	for i, pt := range p.Points {
		if err := pt.Validate(); err != nil {
			return fmt.Errorf("%w: polyline %q point %d: %v", ErrInvalidOverlay, p.ID, i, err)
		}
	}
	if !(p.StrokeWidth > 0) || math.IsInf(p.StrokeWidth, 0) {
		return fmt.Errorf("%w: polyline %q stroke width must be positive", ErrInvalidOverlay, p.ID)
	}
	return nil
}

func (p Polyline) Equal(other Overlay) bool {
	o, ok := other.(Polyline)
	if !ok || p.ID != o.ID || p.StrokeColor != o.StrokeColor || p.StrokeWidth != o.StrokeWidth {
		return false
	}
	if len(p.Points) != len(o.Points) {
		return false
	}
	for i := range p.Points {
		if p.Points[i] != o.Points[i] {
			return false
		}
	}
	return true
}

func (p Polyline) Coordinates() []Coordinate { return p.Points }

// Circle is a geofence or radius annotation.
type Circle struct {
	ID           string     `json:"id"`
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
	FillColor    string     `json:"fill_color,omitempty"`
	StrokeColor  string     `json:"stroke_color,omitempty"`
	StrokeWidth  float64    `json:"stroke_width,omitempty"` // 0 = engine default
}

func (c Circle) Key() OverlayKey { return OverlayKey{Kind: KindCircle, ID: c.ID} }

func (c Circle) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: circle id is required", ErrInvalidOverlay)
	}
	if err := c.Center.Validate(); err != nil {
		return fmt.Errorf("%w: circle %q: %v", ErrInvalidOverlay, c.ID, err)
	}
	if !(c.RadiusMeters > 0) || math.IsInf(c.RadiusMeters, 0) {
		return fmt.Errorf("%w: circle %q radius must be positive", ErrInvalidOverlay, c.ID)
	}
	if c.StrokeWidth < 0 || math.IsNaN(c.StrokeWidth) || math.IsInf(c.StrokeWidth, 0) {
		return fmt.Errorf("%w: circle %q stroke width must not be negative", ErrInvalidOverlay, c.ID)
	}
	return nil
}

func (c Circle) Equal(other Overlay) bool {
	o, ok := other.(Circle)
	return ok && c == o
}

func (c Circle) Coordinates() []Coordinate { return []Coordinate{c.Center} }

// NormalizeOverlay fills defaults that would otherwise make equal overlays compare unequal.
func NormalizeOverlay(o Overlay) Overlay {
	switch v := o.(type) {
	case Marker:
		if v.IconKind == "" {
			v.IconKind = IconDefault
		}
		return v
	case Polyline:
		pts := make([]Coordinate, len(v.Points))
		copy(pts, v.Points)
		v.Points = pts
		return v
	default:
		return o
	}
}
