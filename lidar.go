// Package lidar fetches USGS 3DEP LIDAR point clouds for a polygon, reduces
// them with a voxel grid and stores them as FlatGeobuf layers built on the
// orb geometry library.
package lidar

import (
	"errors"
	"fmt"
	"math"
)

// Common errors returned by this package.
var (
	ErrInvalidArgument = errors.New("lidar: invalid argument")
	ErrUnsupportedCRS  = errors.New("lidar: unsupported crs")
	ErrInvalidData     = errors.New("lidar: invalid data")
	ErrPipeline        = errors.New("lidar: pipeline execution failed")
	ErrUnknownRegion   = errors.New("lidar: unknown region")
	ErrNilGeometry     = errors.New("lidar: nil geometry")
	ErrNoIndex         = errors.New("lidar: file has no spatial index")
)

// EPSG codes understood by the polygon reprojection.
const (
	EPSGWGS84       = 4326
	EPSGWebMercator = 3857
)

// Point3D is a single LIDAR return. X and Y are the planar position, Z the
// elevation.
type Point3D struct {
	X, Y, Z float64
}

// IsFinite reports whether none of the coordinates is NaN or infinite.
func (p Point3D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}

// PointSet is an ordered sequence of points.
type PointSet []Point3D

// Arrays is the column-oriented form a point cloud comes back from PDAL in.
type Arrays struct {
	X []float64
	Y []float64
	Z []float64
}

// Len returns the number of points, or -1 when the columns disagree.
func (a Arrays) Len() int {
	if len(a.X) != len(a.Y) || len(a.X) != len(a.Z) {
		return -1
	}
	return len(a.X)
}

// PointSet zips the columns into points.
func (a Arrays) PointSet() (PointSet, error) {
	n := a.Len()
	if n < 0 {
		return nil, fmt.Errorf("%w: column lengths differ (X=%d Y=%d Z=%d)",
			ErrInvalidData, len(a.X), len(a.Y), len(a.Z))
	}

	points := make(PointSet, n)
	for i := 0; i < n; i++ {
		points[i] = Point3D{X: a.X[i], Y: a.Y[i], Z: a.Z[i]}
	}
	return points, nil
}

// Cloud is a point set tagged with the coordinate reference system its X and
// Y are expressed in.
type Cloud struct {
	EPSG   int
	Points PointSet
}

// NewCloud builds a Cloud from fetched columns.
func NewCloud(a Arrays, epsg int) (*Cloud, error) {
	points, err := a.PointSet()
	if err != nil {
		return nil, err
	}
	return &Cloud{EPSG: epsg, Points: points}, nil
}

// Len returns the number of points in the cloud.
func (c *Cloud) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

// Empty reports whether the cloud holds no points.
func (c *Cloud) Empty() bool {
	return c.Len() == 0
}

// Subsample reduces the cloud with a voxel grid of the given resolution and
// keeps its CRS.
func (c *Cloud) Subsample(resolution float64) (*Cloud, error) {
	points, err := Subsample(c.Points, resolution)
	if err != nil {
		return nil, err
	}
	return &Cloud{EPSG: c.EPSG, Points: points}, nil
}

// CRS represents a coordinate reference system.
type CRS struct {
	Code        int    // EPSG code (e.g., 3857 for Web Mercator)
	Name        string // CRS name
	Description string // CRS description
}

// CRSFromEPSG returns a CRS for the code, naming the ones this package knows.
func CRSFromEPSG(code int) *CRS {
	crs := &CRS{Code: code}
	switch code {
	case EPSGWGS84:
		crs.Name = "WGS 84"
	case EPSGWebMercator:
		crs.Name = "WGS 84 / Pseudo-Mercator"
	}
	return crs
}

// Options configures FlatGeobuf writing.
type Options struct {
	Name         string // Layer name
	Description  string // Layer description
	IncludeIndex bool   // Include spatial index (default: true)
}

// DefaultOptions returns default options for writing FlatGeobuf files.
func DefaultOptions() *Options {
	return &Options{
		IncludeIndex: true,
	}
}

// ColumnInfo describes a property column in a FlatGeobuf file.
type ColumnInfo struct {
	Name     string // Column name
	Type     string // Column type ("Int", "Double", "String", etc.)
	Nullable bool   // Whether the column can contain null values
}

// Header contains metadata about a FlatGeobuf file.
type Header struct {
	Name          string       // Layer name
	Description   string       // Layer description
	GeometryType  string       // Geometry type ("Point", "Polygon", "Unknown", etc.)
	FeaturesCount uint64       // Number of features in the file
	Envelope      [4]float64   // Bounding box [minX, minY, maxX, maxY]
	CRS           *CRS         // Coordinate reference system
	HasIndex      bool         // Whether the file has a spatial index
	Columns       []ColumnInfo // Property column schema
}
