package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// ErrInvalidCoordinate is matched by every *CoordinateError.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// CoordinateError names the offending value and the bound it violates.
type CoordinateError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate: %s %v outside [%v, %v]", e.Field, e.Value, e.Min, e.Max)
}

func (e *CoordinateError) Is(target error) bool {
	return target == ErrInvalidCoordinate
}

// Validate checks lat ∈ [-90, 90] and lon ∈ [-180, 180]. NaN is rejected.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < MinLatitude || lat > MaxLatitude {
		return &CoordinateError{Field: "latitude", Value: lat, Min: MinLatitude, Max: MaxLatitude}
	}
	if math.IsNaN(lon) || lon < MinLongitude || lon > MaxLongitude {
		return &CoordinateError{Field: "longitude", Value: lon, Min: MinLongitude, Max: MaxLongitude}
	}
	return nil
}

// Validate checks the coordinate bounds.
func (c Coordinate) Validate() error {
	return Validate(c.Lat, c.Lon)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", c.Lat, c.Lon)
}

// Haversine returns the great-circle distance in kilometres. It does not
// validate its inputs.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := degToRad(lat1)
	phi2 := degToRad(lat2)
	dPhi := degToRad(lat2 - lat1)
	dLambda := degToRad(lon2 - lon1)

	a := math.Pow(math.Sin(dPhi/2), 2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dLambda/2), 2)
	// Rounding can push a just outside [0, 1] for near-antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is Haversine over two coordinates.
func Distance(a, b Coordinate) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}
