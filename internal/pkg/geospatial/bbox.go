package geospatial

import "math"

const metersPerDegree = 111320.0

// BoundingBox returns a bounding box around a point with the given radius in meters.
// Longitude extent is clamped near the poles, where a degree of longitude shrinks to zero.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / metersPerDegree
	cos := math.Cos(toRad(lat))
	lonDelta := 180.0
	if cos > 1e-6 {
		lonDelta = math.Min(radiusMeters/(metersPerDegree*cos), 180)
	}

	return clamp(lat-latDelta, -90, 90), clamp(lon-lonDelta, -180, 180),
		clamp(lat+latDelta, -90, 90), clamp(lon+lonDelta, -180, 180)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
