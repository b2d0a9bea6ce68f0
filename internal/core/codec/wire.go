package codec

import (
	"fmt"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// Payload shapes. The json tags double as cbor keys (fxamacker falls back to them).

type overlayPayload struct {
	Kind         domain.OverlayKind  `json:"kind"`
	ID           string              `json:"id"`
	Position     *domain.Coordinate  `json:"position,omitempty"`
	Label        string              `json:"label,omitempty"`
	IconKind     domain.IconKind     `json:"icon_kind,omitempty"`
	TintColor    string              `json:"tint_color,omitempty"`
	Points       []domain.Coordinate `json:"points,omitempty"`
	StrokeColor  string              `json:"stroke_color,omitempty"`
	StrokeWidth  float64             `json:"stroke_width,omitempty"`
	Center       *domain.Coordinate  `json:"center,omitempty"`
	RadiusMeters float64             `json:"radius_meters,omitempty"`
	FillColor    string              `json:"fill_color,omitempty"`
}

type removePayload struct {
	Kind domain.OverlayKind `json:"kind"`
	ID   string             `json:"id"`
}

type animatePayload struct {
	Region     domain.Region `json:"region"`
	DurationMs int           `json:"duration_ms"`
}

type stylePayload struct {
	Style domain.MapStyle `json:"style"`
}

type layerPayload struct {
	LayerID string `json:"layer_id"`
	Visible bool   `json:"visible"`
}

type initPayload struct {
	APIKey string        `json:"api_key"`
	Region domain.Region `json:"region"`
}

type markerTappedPayload struct {
	ID string `json:"id"`
}

type mapTappedPayload struct {
	Coordinate *wireCoordinate `json:"coordinate"`
}

type regionChangedPayload struct {
	Region *wireRegion `json:"region"`
}

// wireCoordinate and wireRegion carry inbound geometry with every field
// required; a missing key must not decode as zero.
type wireCoordinate struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type wireRegion struct {
	Center        *wireCoordinate `json:"center"`
	LatitudeSpan  *float64        `json:"latitude_span"`
	LongitudeSpan *float64        `json:"longitude_span"`
}

func toWireCoordinate(c domain.Coordinate) *wireCoordinate {
	lat, lon := c.Latitude, c.Longitude
	return &wireCoordinate{Latitude: &lat, Longitude: &lon}
}

func toWireRegion(r domain.Region) *wireRegion {
	latSpan, lonSpan := r.LatitudeSpan, r.LongitudeSpan
	return &wireRegion{Center: toWireCoordinate(r.Center), LatitudeSpan: &latSpan, LongitudeSpan: &lonSpan}
}

func (w *wireCoordinate) coordinate() (domain.Coordinate, error) {
	if w == nil {
		return domain.Coordinate{}, fmt.Errorf("missing coordinate")
	}
	if w.Latitude == nil || w.Longitude == nil {
		return domain.Coordinate{}, fmt.Errorf("coordinate needs latitude and longitude")
	}
	c := domain.Coordinate{Latitude: *w.Latitude, Longitude: *w.Longitude}
	return c, c.Validate()
}

func (w *wireRegion) region() (domain.Region, error) {
	if w == nil {
		return domain.Region{}, fmt.Errorf("missing region")
	}
	center, err := w.Center.coordinate()
	if err != nil {
		return domain.Region{}, fmt.Errorf("center: %w", err)
	}
	if w.LatitudeSpan == nil || w.LongitudeSpan == nil {
		return domain.Region{}, fmt.Errorf("region needs latitude_span and longitude_span")
	}
	r := domain.Region{Center: center, LatitudeSpan: *w.LatitudeSpan, LongitudeSpan: *w.LongitudeSpan}
	return r, r.Validate()
}

type snapshotPayload struct {
	Overlays []overlayPayload `json:"overlays"`
	Camera   *domain.Region   `json:"camera,omitempty"`
}

func toOverlayPayload(o domain.Overlay) (overlayPayload, error) {
	switch v := o.(type) {
	case domain.Marker:
		pos := v.Position
		return overlayPayload{
			Kind:      domain.KindMarker,
			ID:        v.ID,
			Position:  &pos,
			Label:     v.Label,
			IconKind:  v.IconKind,
			TintColor: v.TintColor,
		}, nil
	case domain.Polyline:
		return overlayPayload{
			Kind:        domain.KindPolyline,
			ID:          v.ID,
			Points:      v.Points,
			StrokeColor: v.StrokeColor,
			StrokeWidth: v.StrokeWidth,
		}, nil
	case domain.Circle:
		center := v.Center
		return overlayPayload{
			Kind:         domain.KindCircle,
			ID:           v.ID,
			Center:       &center,
			RadiusMeters: v.RadiusMeters,
			FillColor:    v.FillColor,
			StrokeColor:  v.StrokeColor,
			StrokeWidth:  v.StrokeWidth,
		}, nil
	default:
		return overlayPayload{}, fmt.Errorf("unsupported overlay type %T", o)
	}
}

func (p overlayPayload) overlay() (domain.Overlay, error) {
	var o domain.Overlay
	switch p.Kind {
	case domain.KindMarker:
		if p.Position == nil {
			return nil, fmt.Errorf("marker %q without position", p.ID)
		}
		o = domain.Marker{ID: p.ID, Position: *p.Position, Label: p.Label, IconKind: p.IconKind, TintColor: p.TintColor}
	case domain.KindPolyline:
		o = domain.Polyline{ID: p.ID, Points: p.Points, StrokeColor: p.StrokeColor, StrokeWidth: p.StrokeWidth}
	case domain.KindCircle:
		if p.Center == nil {
			return nil, fmt.Errorf("circle %q without center", p.ID)
		}
		o = domain.Circle{ID: p.ID, Center: *p.Center, RadiusMeters: p.RadiusMeters, FillColor: p.FillColor, StrokeColor: p.StrokeColor, StrokeWidth: p.StrokeWidth}
	default:
		return nil, fmt.Errorf("unknown overlay kind %q", p.Kind)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return domain.NormalizeOverlay(o), nil
}
