// Package geo holds the coordinate type shared by the telemetry packages and
// the great-circle helpers built on it. Distances use the haversine formula on
// a spherical earth.
package geo

import (
	"fmt"
	"math"
	"time"
)

const (
	// EarthRadiusM is the mean earth radius in meters.
	EarthRadiusM = 6_371_000.0

	// MaxSpeedKmh caps computed speeds; GPS glitches above it are not real.
	MaxSpeedKmh = 200.0

	// JitterFloorM is the smallest displacement treated as movement.
	JitterFloorM = 0.5
)

// Coordinate is one GPS fix reported by the producer.
type Coordinate struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// InvalidCoordinateError reports a latitude or longitude out of range.
type InvalidCoordinateError struct {
	Lat float64
	Lon float64
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate lat=%v lon=%v", e.Lat, e.Lon)
}

// Validate checks lat is within [-90,90] and lon within [-180,180].
func Validate(c Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return &InvalidCoordinateError{Lat: c.Lat, Lon: c.Lon}
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	return haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Speed returns the speed in km/h needed to travel from a to b, clamped to
// [0, MaxSpeedKmh]. Non-positive elapsed time or sub-jitter movement yields 0.
func Speed(a, b Coordinate) float64 {
	elapsed := b.Timestamp.Sub(a.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	d := Distance(a, b)
	if d <= JitterFloorM {
		return 0
	}
	return math.Min(d/elapsed*3.6, MaxSpeedKmh)
}

// Bearing returns the initial bearing from a to b in degrees, [0,360).
func Bearing(a, b Coordinate) float64 {
	phi1 := toRad(a.Lat)
	phi2 := toRad(b.Lat)
	dLambda := toRad(b.Lon - a.Lon)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PathLength sums the distances between consecutive points, in meters.
func PathLength(points []Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dPhi := toRad(lat2 - lat1)
	dLambda := toRad(lon2 - lon1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
