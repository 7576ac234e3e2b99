package query

import (
	"errors"
	"fmt"
)

var (
	ErrLatitudeRange  = errors.New("query: latitude out of range")
	ErrLongitudeRange = errors.New("query: longitude out of range")
)

// Distance units.
const (
	Meter = "meter"
	KM    = "km"
	Mile  = "mile"
)

// LatLon is a validated geographic point.
type LatLon struct {
	LatDegrees float64 `json:"latDegrees"`
	LonDegrees float64 `json:"lonDegrees"`
}

// NewLatLon validates latitude in [-90, 90] and longitude in [-180, 180].
func NewLatLon(lat, lon float64) (LatLon, error) {
	if lat > 90 || lat < -90 {
		return LatLon{}, fmt.Errorf("%w: invalid latitude %v, must be in range [-90,90]", ErrLatitudeRange, lat)
	}
	if lon > 180 || lon < -180 {
		return LatLon{}, fmt.Errorf("%w: invalid longitude %v, must be in range [-180,180]", ErrLongitudeRange, lon)
	}
	return LatLon{LatDegrees: lat, LonDegrees: lon}, nil
}

// MustLatLon is NewLatLon for constants known to be valid.
func MustLatLon(lat, lon float64) LatLon {
	p, err := NewLatLon(lat, lon)
	if err != nil {
		panic(err)
	}
	return p
}

func (p LatLon) String() string { return fmt.Sprintf("(%v, %v)", p.LatDegrees, p.LonDegrees) }

// WithinDistanceClause matches locations within a radius of a center point.
type WithinDistanceClause struct {
	LocationField string  `json:"locationField"`
	Center        LatLon  `json:"center"`
	Distance      float64 `json:"distance"`
	DistanceUnit  string  `json:"distanceUnit"`
}

// WithinDistance builds a radius predicate.
func WithinDistance(locationField string, center LatLon, distance float64, unit string) WithinDistanceClause {
	return WithinDistanceClause{LocationField: locationField, Center: center, Distance: distance, DistanceUnit: unit}
}

func (c WithinDistanceClause) PredicateType() string { return "withinDistance" }

func (c WithinDistanceClause) String() string {
	return fmt.Sprintf("%s WITHIN %v %s OF %s", c.LocationField, c.Distance, c.DistanceUnit, c.Center)
}

func (c WithinDistanceClause) MarshalJSON() ([]byte, error) {
	type plain WithinDistanceClause
	return marshalTyped(c.PredicateType(), plain(c))
}

// GeoIntersectionClause matches locations intersecting a shape.
type GeoIntersectionClause struct {
	LocationField string   `json:"locationField"`
	Points        []LatLon `json:"points"`
	GeometryType  string   `json:"geometryType"`
}

// GeoIntersection builds a shape-intersection predicate.
func GeoIntersection(locationField string, points []LatLon, geometryType string) GeoIntersectionClause {
	return GeoIntersectionClause{LocationField: locationField, Points: points, GeometryType: geometryType}
}

func (c GeoIntersectionClause) PredicateType() string { return "geoIntersection" }

func (c GeoIntersectionClause) String() string {
	return fmt.Sprintf("%s INTERSECTS %s%v", c.LocationField, c.GeometryType, c.Points)
}

func (c GeoIntersectionClause) MarshalJSON() ([]byte, error) {
	type plain GeoIntersectionClause
	return marshalTyped(c.PredicateType(), plain(c))
}

// GeoWithinClause matches locations inside a polygon.
type GeoWithinClause struct {
	LocationField string   `json:"locationField"`
	Points        []LatLon `json:"points"`
}

// GeoWithin builds a polygon-containment predicate.
func GeoWithin(locationField string, points []LatLon) GeoWithinClause {
	return GeoWithinClause{LocationField: locationField, Points: points}
}

func (c GeoWithinClause) PredicateType() string { return "geoWithin" }

func (c GeoWithinClause) String() string {
	return fmt.Sprintf("%s WITHIN %v", c.LocationField, c.Points)
}

func (c GeoWithinClause) MarshalJSON() ([]byte, error) {
	type plain GeoWithinClause
	return marshalTyped(c.PredicateType(), plain(c))
}
