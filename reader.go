package lidar

import (
	"fmt"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

// Reader provides read access to a FlatGeobuf file written by WriteCloud or
// WriteCatalog. Features are reached through the packed R-tree, so files
// written without an index cannot be read back.
type Reader struct {
	fgb *flatgeobuf.FlatGeoBuf
}

// NewReader creates a reader from a file path.
// The file is memory-mapped for efficient access.
func NewReader(path string) (*Reader, error) {
	fgb, err := flatgeobuf.New(path)
	if err != nil {
		return nil, err
	}

	return &Reader{fgb: fgb}, nil
}

// NewReaderFromData creates a reader from byte data.
func NewReaderFromData(data []byte) (*Reader, error) {
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, err
	}

	return &Reader{fgb: fgb}, nil
}

// Header returns metadata about the FlatGeobuf file.
func (r *Reader) Header() *Header {
	h := r.fgb.Header()
	if h == nil {
		return nil
	}

	header := &Header{
		Name:          string(h.Name()),
		Description:   string(h.Description()),
		FeaturesCount: h.FeaturesCount(),
		HasIndex:      h.IndexNodeSize() > 0,
		GeometryType:  flattypes.EnumNamesGeometryType[h.GeometryType()],
	}

	if h.EnvelopeLength() >= 4 {
		header.Envelope = [4]float64{
			h.Envelope(0),
			h.Envelope(1),
			h.Envelope(2),
			h.Envelope(3),
		}
	}

	var crs flattypes.Crs
	if h.Crs(&crs) != nil {
		header.CRS = &CRS{
			Code:        int(crs.Code()),
			Name:        string(crs.Name()),
			Description: string(crs.Description()),
		}
	}

	if colLen := h.ColumnsLength(); colLen > 0 {
		header.Columns = make([]ColumnInfo, 0, colLen)
		for i := 0; i < colLen; i++ {
			var col flattypes.Column
			if h.Columns(&col, i) {
				header.Columns = append(header.Columns, ColumnInfo{
					Name:     string(col.Name()),
					Type:     flattypes.EnumNamesColumnType[col.Type()],
					Nullable: col.Nullable(),
				})
			}
		}
	}

	return header
}

// epsg returns the EPSG code stored in the header, or 0.
func (r *Reader) epsg() int {
	var crs flattypes.Crs
	if r.fgb.Header().Crs(&crs) == nil {
		return 0
	}
	return int(crs.Code())
}

// search returns the features intersecting bounds. A nil bounds searches the
// header envelope.
func (r *Reader) search(bounds *orb.Bound) ([]*flattypes.Feature, error) {
	h := r.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}
	if h.FeaturesCount() == 0 {
		return nil, nil
	}

	if bounds == nil {
		if h.EnvelopeLength() < 4 {
			return nil, fmt.Errorf("%w: missing envelope", ErrInvalidData)
		}
		// pad so degenerate envelopes of a single point still match
		bounds = &orb.Bound{
			Min: orb.Point{h.Envelope(0) - 1, h.Envelope(1) - 1},
			Max: orb.Point{h.Envelope(2) + 1, h.Envelope(3) + 1},
		}
	}

	return r.fgb.Search(bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1])
}

// Cloud reads every feature of a Point layer as a cloud.
func (r *Reader) Cloud() (*Cloud, error) {
	features, err := r.search(nil)
	if err != nil {
		return nil, err
	}
	return r.toCloud(features), nil
}

// SearchCloud returns the points whose position lies inside bounds.
func (r *Reader) SearchCloud(bounds orb.Bound) (*Cloud, error) {
	features, err := r.search(&bounds)
	if err != nil {
		return nil, err
	}
	c := r.toCloud(features)
	kept := c.Points[:0]
	for _, p := range c.Points {
		if bounds.Contains(orb.Point{p.X, p.Y}) {
			kept = append(kept, p)
		}
	}
	c.Points = kept
	return c, nil
}

func (r *Reader) toCloud(features []*flattypes.Feature) *Cloud {
	h := r.fgb.Header()
	c := &Cloud{EPSG: r.epsg(), Points: make(PointSet, 0, len(features))}

	var geom flattypes.Geometry
	for _, f := range features {
		if f == nil || f.Geometry(&geom) == nil {
			continue
		}
		pt, ok := pointFromFGB(&geom)
		if !ok {
			continue
		}
		p := Point3D{X: pt[0], Y: pt[1]}
		if z, ok := toFloat64(featureProperties(f, h)[columnElevation]); ok {
			p.Z = z
		}
		c.Points = append(c.Points, p)
	}
	return c
}

// Catalog reads every feature of a Polygon layer as a catalog region. The
// region box is the bounding box of the feature geometry.
func (r *Reader) Catalog() (*Catalog, error) {
	features, err := r.search(nil)
	if err != nil {
		return nil, err
	}

	h := r.fgb.Header()
	regions := make([]Region, 0, len(features))

	var geom flattypes.Geometry
	for _, f := range features {
		if f == nil || f.Geometry(&geom) == nil {
			continue
		}
		poly, ok := polygonFromFGB(&geom)
		if !ok {
			continue
		}
		props := featureProperties(f, h)
		name, _ := props[columnFilename].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: catalog feature without filename", ErrInvalidData)
		}
		region := Region{Filename: name, Bound: poly.Bound()}
		if y, ok := toInt64(props[columnYear]); ok {
			region.Year = int(y)
		}
		regions = append(regions, region)
	}

	return NewCatalog(regions), nil
}

// Close releases resources associated with the reader.
func (r *Reader) Close() error {
	// The FlatGeoBuf type doesn't expose a public Close method,
	// but the finalizer will clean up when garbage collected.
	r.fgb = nil
	return nil
}

// ReadCloud reads a Point layer file written by WriteCloud.
func ReadCloud(path string) (*Cloud, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return r.Cloud()
}

// ReadCloudData reads an in-memory Point layer.
func ReadCloudData(data []byte) (*Cloud, error) {
	r, err := NewReaderFromData(data)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return r.Cloud()
}

// ReadCatalog reads a Polygon layer file written by WriteCatalog.
func ReadCatalog(path string) (*Catalog, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return r.Catalog()
}

// featureProperties copies and decodes a feature's property bytes.
func featureProperties(f *flattypes.Feature, h *flattypes.Header) map[string]interface{} {
	n := f.PropertiesLength()
	if n == 0 || h.ColumnsLength() == 0 {
		return nil
	}
	data := make([]byte, n)
	for i := 0; i < n; i++ {
		data[i] = byte(f.Properties(i))
	}
	return decodeProperties(data, h)
}
