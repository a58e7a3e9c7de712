package lidar

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// pointToFGB converts a point's planar position to a FlatGeobuf geometry.
// Elevation travels as a property.
func pointToFGB(p Point3D, builder *flatbuffers.Builder) *writer.Geometry {
	g := writer.NewGeometry(builder)
	g.SetType(flattypes.GeometryTypePoint)
	g.SetXY([]float64{p.X, p.Y})
	return g
}

// polygonToFGB converts an orb.Polygon to a FlatGeobuf geometry.
func polygonToFGB(poly orb.Polygon, builder *flatbuffers.Builder) *writer.Geometry {
	if len(poly) == 0 {
		return nil
	}
	g := writer.NewGeometry(builder)
	g.SetType(flattypes.GeometryTypePolygon)
	xy, ends := polygonToXYEnds(poly)
	g.SetXY(xy)
	g.SetEnds(ends)
	return g
}

func polygonToXYEnds(poly orb.Polygon) ([]float64, []uint32) {
	totalPoints := 0
	for _, ring := range poly {
		totalPoints += len(ring)
	}

	xy := make([]float64, 0, totalPoints*2)
	ends := make([]uint32, 0, len(poly))

	cumulative := uint32(0)
	for _, ring := range poly {
		for _, p := range ring {
			xy = append(xy, p[0], p[1])
		}
		cumulative += uint32(len(ring))
		ends = append(ends, cumulative)
	}

	return xy, ends
}

func boundToPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{
		orb.Ring{
			{b.Min[0], b.Min[1]},
			{b.Max[0], b.Min[1]},
			{b.Max[0], b.Max[1]},
			{b.Min[0], b.Max[1]},
			{b.Min[0], b.Min[1]},
		},
	}
}

// pointFromFGB reads the planar position of a Point geometry.
func pointFromFGB(fgbGeom *flattypes.Geometry) (orb.Point, bool) {
	if fgbGeom == nil || fgbGeom.Type() != flattypes.GeometryTypePoint || fgbGeom.XyLength() < 2 {
		return orb.Point{}, false
	}
	return orb.Point{fgbGeom.Xy(0), fgbGeom.Xy(1)}, true
}

// polygonFromFGB reads a Polygon geometry, splitting rings on the ends array.
func polygonFromFGB(fgbGeom *flattypes.Geometry) (orb.Polygon, bool) {
	if fgbGeom == nil || fgbGeom.Type() != flattypes.GeometryTypePolygon {
		return nil, false
	}
	xyLen := fgbGeom.XyLength()
	endsLen := fgbGeom.EndsLength()

	if xyLen < 2 {
		return nil, false
	}

	// If no ends array, treat all points as a single ring
	if endsLen == 0 {
		ring := make(orb.Ring, 0, xyLen/2)
		for i := 0; i+1 < xyLen; i += 2 {
			ring = append(ring, orb.Point{fgbGeom.Xy(i), fgbGeom.Xy(i + 1)})
		}
		return orb.Polygon{ring}, true
	}

	poly := make(orb.Polygon, 0, endsLen)
	start := uint32(0)

	for i := 0; i < endsLen; i++ {
		end := fgbGeom.Ends(i)
		ring := make(orb.Ring, 0, end-start)

		for j := start; j < end; j++ {
			idx := int(j) * 2
			if idx+1 < xyLen {
				ring = append(ring, orb.Point{fgbGeom.Xy(idx), fgbGeom.Xy(idx + 1)})
			}
		}

		poly = append(poly, ring)
		start = end
	}

	return poly, true
}

// cloudBound returns the planar bounding box of a point set.
func cloudBound(points PointSet) orb.Bound {
	if len(points) == 0 {
		return orb.Bound{}
	}
	b := orb.Bound{
		Min: orb.Point{points[0].X, points[0].Y},
		Max: orb.Point{points[0].X, points[0].Y},
	}
	for _, p := range points[1:] {
		b = b.Extend(orb.Point{p.X, p.Y})
	}
	return b
}
