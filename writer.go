package lidar

import (
	"fmt"
	"io"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
)

// WriteCloud writes a cloud as a FlatGeobuf Point layer with an elevation
// column, tagged with the cloud's CRS.
func WriteCloud(w io.Writer, c *Cloud, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	if c.Empty() {
		return ErrNilGeometry
	}

	gen := &cloudFeatureGenerator{points: c.Points}
	return writeWithGenerator(w, gen, flattypes.GeometryTypePoint, cloudSchema, CRSFromEPSG(c.EPSG), opts)
}

// WriteCatalog writes a catalog as a FlatGeobuf Polygon layer, one box per
// region with filename and year columns. epsg is the CRS of the boxes.
func WriteCatalog(w io.Writer, c *Catalog, epsg int, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	if c == nil || c.Len() == 0 {
		return ErrNilGeometry
	}

	gen := &catalogFeatureGenerator{regions: c.regions}
	var crs *CRS
	if epsg != 0 {
		crs = CRSFromEPSG(epsg)
	}
	return writeWithGenerator(w, gen, flattypes.GeometryTypePolygon, catalogSchema, crs, opts)
}

// writeWithGenerator handles the common writing logic.
func writeWithGenerator(
	w io.Writer,
	gen writer.FeatureGenerator,
	geomType flattypes.GeometryType,
	schema []column,
	crs *CRS,
	opts *Options,
) error {
	builder := flatbuffers.NewBuilder(4096)

	header := writer.NewHeader(builder)
	header.SetGeometryType(geomType)

	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}

	header.SetColumns(buildColumns(schema, builder))

	if crs != nil {
		fgbCRS := writer.NewCrs(builder)
		fgbCRS.SetOrg("EPSG")
		if crs.Code > 0 {
			fgbCRS.SetCode(int32(crs.Code))
		}
		if crs.Name != "" {
			fgbCRS.SetName(crs.Name)
		}
		if crs.Description != "" {
			fgbCRS.SetDescription(crs.Description)
		}
		header.SetCrs(fgbCRS)
	}

	fgbWriter := writer.NewWriter(header, opts.IncludeIndex, gen, nil)

	if _, err := fgbWriter.Write(w); err != nil {
		return fmt.Errorf("write flatgeobuf: %w", err)
	}
	return nil
}

// cloudFeatureGenerator emits one Point feature per point.
type cloudFeatureGenerator struct {
	points PointSet
	index  int
}

func (g *cloudFeatureGenerator) Generate() *writer.Feature {
	if g.index >= len(g.points) {
		return nil
	}

	p := g.points[g.index]
	g.index++

	builder := flatbuffers.NewBuilder(128)
	feature := writer.NewFeature(builder)
	feature.SetGeometry(pointToFGB(p, builder))
	feature.SetProperties(encodeProperties(cloudSchema, p.Z))

	return feature
}

// catalogFeatureGenerator emits one Polygon feature per region box.
type catalogFeatureGenerator struct {
	regions []Region
	index   int
}

func (g *catalogFeatureGenerator) Generate() *writer.Feature {
	if g.index >= len(g.regions) {
		return nil
	}

	r := g.regions[g.index]
	g.index++

	builder := flatbuffers.NewBuilder(256)
	feature := writer.NewFeature(builder)
	feature.SetGeometry(polygonToFGB(boundToPolygon(r.Bound), builder))
	feature.SetProperties(encodeProperties(catalogSchema, r.Filename, r.Year))

	return feature
}
