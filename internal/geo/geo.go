// Package geo holds the pure distance and geofence math used by redemption
// validation. Everything here is deterministic and side-effect free.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

func (p Point) Valid() bool {
	return ValidCoordinates(p.Lat, p.Lng)
}

func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ParseError reports a coordinate string that could not be understood or is
// outside the valid lat/lng ranges. Out-of-range input is rejected, never
// clamped.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse coordinates %q: %s", e.Input, e.Reason)
}

// ParsePoint accepts the two coordinate text forms that appear in requests
// and stored rows: "lat,lng" and WKT "POINT(lng lat)".
func ParsePoint(s string) (Point, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Point{}, &ParseError{Input: s, Reason: "empty"}
	}

	var latStr, lngStr string
	upper := strings.ToUpper(raw)
	if strings.HasPrefix(upper, "POINT") {
		open := strings.IndexByte(raw, '(')
		closing := strings.IndexByte(raw, ')')
		if open < 0 || closing < open {
			return Point{}, &ParseError{Input: s, Reason: "malformed WKT point"}
		}
		fields := strings.Fields(raw[open+1 : closing])
		if len(fields) != 2 {
			return Point{}, &ParseError{Input: s, Reason: "WKT point needs two coordinates"}
		}
		// WKT order is lng first.
		lngStr, latStr = fields[0], fields[1]
	} else {
		parts := strings.Split(raw, ",")
		if len(parts) != 2 {
			return Point{}, &ParseError{Input: s, Reason: "expected lat,lng"}
		}
		latStr, lngStr = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Point{}, &ParseError{Input: s, Reason: "latitude is not a number"}
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return Point{}, &ParseError{Input: s, Reason: "longitude is not a number"}
	}
	if !ValidCoordinates(lat, lng) {
		return Point{}, &ParseError{Input: s, Reason: "coordinates out of range"}
	}
	return Point{Lat: lat, Lng: lng}, nil
}

// DistanceMeters returns the great-circle distance between two coordinates
// via the Haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lng1Rad := lng1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lng2Rad := lng2 * math.Pi / 180

	dLat := lat2Rad - lat1Rad
	dLng := lng2Rad - lng1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// RadiusCheck is the result of a geofence containment test. The measured
// distance is kept so callers can build a useful rejection message.
type RadiusCheck struct {
	Within         bool
	DistanceMeters float64
}

func WithinRadius(userLat, userLng, targetLat, targetLng, radiusMeters float64) RadiusCheck {
	d := DistanceMeters(userLat, userLng, targetLat, targetLng)
	return RadiusCheck{Within: d <= radiusMeters, DistanceMeters: d}
}

// Bounds is an axis-aligned lat/lng box.
type Bounds struct {
	Northeast Point `json:"northeast"`
	Southwest Point `json:"southwest"`
}

// BoundingBox returns a box that fully contains the circle of radiusMeters
// around center. Useful as a cheap pre-filter before exact distance checks.
func BoundingBox(center Point, radiusMeters float64) Bounds {
	dLat := radiusMeters / EarthRadiusMeters * 180 / math.Pi
	dLng := dLat
	if cos := math.Cos(center.Lat * math.Pi / 180); cos > 1e-9 {
		dLng = dLat / cos
	}
	return Bounds{
		Northeast: Point{Lat: center.Lat + dLat, Lng: center.Lng + dLng},
		Southwest: Point{Lat: center.Lat - dLat, Lng: center.Lng - dLng},
	}
}

// FormatDistance renders a distance for human-readable error messages:
// below 1km as whole meters, up to 10km with one decimal, then whole km.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	km := meters / 1000
	if km < 10 {
		return fmt.Sprintf("%.1fkm", km)
	}
	return fmt.Sprintf("%dkm", int(math.Round(km)))
}
