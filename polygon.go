package lidar

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/project"
)

// Boundaries is a polygon expressed in the dataset CRS together with its
// bounding box, the two things a PDAL reader and crop filter need.
type Boundaries struct {
	Bound   orb.Bound
	Polygon orb.Polygon
}

// BoundsString formats the box the way readers.ept expects:
// ([minx, maxx],[miny, maxy]).
func (b Boundaries) BoundsString() string {
	return FormatBounds(b.Bound)
}

// WKT returns the exterior ring of the polygon as WKT.
func (b Boundaries) WKT() string {
	if len(b.Polygon) == 0 {
		return ""
	}
	return wkt.MarshalString(orb.Polygon{b.Polygon[0]})
}

// FormatBounds formats an orb.Bound as a PDAL bounds string.
func FormatBounds(b orb.Bound) string {
	return fmt.Sprintf("([%s, %s],[%s, %s])",
		formatFloat(b.Min[0]), formatFloat(b.Max[0]),
		formatFloat(b.Min[1]), formatFloat(b.Max[1]))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParsePolygon parses a WKT POLYGON and validates it.
func ParsePolygon(s string) (orb.Polygon, error) {
	p, err := wkt.UnmarshalPolygon(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return ValidatePolygon(p)
}

// ValidatePolygon checks that the exterior ring has at least three distinct
// finite vertices and returns a copy with every ring closed.
func ValidatePolygon(p orb.Polygon) (orb.Polygon, error) {
	if len(p) == 0 || len(p[0]) == 0 {
		return nil, fmt.Errorf("%w: empty polygon", ErrInvalidArgument)
	}

	out := p.Clone()
	for i, ring := range out {
		for _, pt := range ring {
			if math.IsNaN(pt[0]) || math.IsInf(pt[0], 0) || math.IsNaN(pt[1]) || math.IsInf(pt[1], 0) {
				return nil, fmt.Errorf("%w: ring %d has a non-finite vertex", ErrInvalidArgument, i)
			}
		}
		if len(ring) > 0 && !ring.Closed() {
			out[i] = append(ring, ring[0])
		}
	}

	distinct := make(map[orb.Point]struct{}, len(out[0]))
	for _, pt := range out[0] {
		distinct[pt] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("%w: exterior ring needs at least 3 distinct vertices, got %d", ErrInvalidArgument, len(distinct))
	}

	return out, nil
}

// Reproject converts a polygon between EPSG:4326 and EPSG:3857. The input is
// left untouched.
func Reproject(p orb.Polygon, from, to int) (orb.Polygon, error) {
	if from == 0 || to == 0 {
		return nil, fmt.Errorf("%w: missing crs", ErrInvalidArgument)
	}
	if !supportedEPSG(from) {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, from)
	}
	if !supportedEPSG(to) {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, to)
	}

	out := p.Clone()
	switch {
	case from == to:
		return out, nil
	case from == EPSGWGS84:
		for _, ring := range out {
			for _, pt := range ring {
				if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
					return nil, fmt.Errorf("%w: (%v %v) is not a lon/lat coordinate", ErrInvalidArgument, pt[0], pt[1])
				}
			}
		}
		return project.Polygon(out, project.WGS84.ToMercator), nil
	default:
		return project.Polygon(out, project.Mercator.ToWGS84), nil
	}
}

func supportedEPSG(code int) bool {
	return code == EPSGWGS84 || code == EPSGWebMercator
}

// PolygonBoundaries validates a polygon given in epsg, moves it into the
// dataset CRS and returns it with its bounding box.
func PolygonBoundaries(p orb.Polygon, epsg, datasetEPSG int) (Boundaries, error) {
	valid, err := ValidatePolygon(p)
	if err != nil {
		return Boundaries{}, err
	}
	projected, err := Reproject(valid, epsg, datasetEPSG)
	if err != nil {
		return Boundaries{}, err
	}
	return Boundaries{Bound: projected.Bound(), Polygon: projected}, nil
}
