package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// DecodeGeometry parses a GeoJSON geometry into a multipolygon. Plain
// polygons are wrapped; anything else (or malformed input) yields nil,
// which downgrades the alert to county/state matching.
func DecodeGeometry(raw []byte) orb.MultiPolygon {
	if len(raw) == 0 {
		return nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil
	}
	switch geom := g.Geometry().(type) {
	case orb.Polygon:
		return orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		return geom
	default:
		return nil
	}
}

// ContainsPoint reports whether the alert polygon contains the coordinate.
// Always false for geometry-less alerts.
func (a AlertRecord) ContainsPoint(lat, lon float64) bool {
	if !a.HasGeometry() {
		return false
	}
	// GeoJSON and orb use lon/lat ordering.
	return planar.MultiPolygonContains(a.Geometry, orb.Point{lon, lat})
}
