package domain

import (
	"fmt"
	"math"
)

// Coordinate is a WGS 84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that both components are finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return fmt.Errorf("coordinate must be finite, got (%v, %v)", c.Latitude, c.Longitude)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// Region is the visible extent of the map. The remote engine converts it to a zoom level.
type Region struct {
	Center        Coordinate `json:"center"`
	LatitudeSpan  float64    `json:"latitude_span"`
	LongitudeSpan float64    `json:"longitude_span"`
}

// Validate reports ErrInvalidRegion for non-positive spans or an out-of-range center.
func (r Region) Validate() error {
	if err := r.Center.Validate(); err != nil {
		return fmt.Errorf("%w: center: %v", ErrInvalidRegion, err)
	}
	if !(r.LatitudeSpan > 0) || math.IsInf(r.LatitudeSpan, 0) {
		return fmt.Errorf("%w: latitude span must be positive, got %v", ErrInvalidRegion, r.LatitudeSpan)
	}
	if !(r.LongitudeSpan > 0) || math.IsInf(r.LongitudeSpan, 0) {
		return fmt.Errorf("%w: longitude span must be positive, got %v", ErrInvalidRegion, r.LongitudeSpan)
	}
	return nil
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Extend grows b so that it contains c.
func (b Bounds) Extend(c Coordinate) Bounds {
	return Bounds{
		MinLat: math.Min(b.MinLat, c.Latitude),
		MinLon: math.Min(b.MinLon, c.Longitude),
		MaxLat: math.Max(b.MaxLat, c.Latitude),
		MaxLon: math.Max(b.MaxLon, c.Longitude),
	}
}

// minSpan keeps a single-point region from collapsing to a zero span.
const minSpan = 0.005

// RegionFor returns the region covering b, enlarged by padding (a fraction, 0.1 = 10%).
func RegionFor(b Bounds, padding float64) Region {
	if padding < 0 {
		padding = 0
	}
	latSpan := math.Max((b.MaxLat-b.MinLat)*(1+padding), minSpan)
	lonSpan := math.Max((b.MaxLon-b.MinLon)*(1+padding), minSpan)
	return Region{
		Center: Coordinate{
			Latitude:  (b.MinLat + b.MaxLat) / 2,
			Longitude: (b.MinLon + b.MaxLon) / 2,
		},
		LatitudeSpan:  math.Min(latSpan, 180),
		LongitudeSpan: math.Min(lonSpan, 360),
	}
}
