package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for Haversine distances
const EarthRadiusMeters = 6371000.0

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// Point is a WGS84 coordinate pair
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HaversineMeters returns the great-circle distance between two coordinates in meters
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Distance returns the distance between two points in meters
func Distance(a, b Point) float64 {
	return HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Validate rejects malformed or non-finite coordinates before they reach persistence
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return ErrInvalidLatitude
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// Sanitize validates a coordinate pair and normalises negative zero
func Sanitize(lat, lon float64) (Point, error) {
	if err := Validate(lat, lon); err != nil {
		return Point{}, err
	}
	// -0.0 serialises confusingly; fold it onto +0.0
	if lat == 0 {
		lat = 0
	}
	if lon == 0 {
		lon = 0
	}
	return Point{Latitude: lat, Longitude: lon}, nil
}

// CellKey buckets a coordinate onto a coarse grid, used as a cache key so nearby
// requesters land in the same bucket. precision is decimal places kept.
func CellKey(lat, lon float64, precision int) Point {
	factor := math.Pow(10, float64(precision))
	return Point{
		Latitude:  math.Round(lat*factor) / factor,
		Longitude: math.Round(lon*factor) / factor,
	}
}
