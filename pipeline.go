package lidar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// DefaultPublicDataURL is the root of the USGS 3DEP EPT bucket.
const DefaultPublicDataURL = "https://s3-us-west-2.amazonaws.com/usgs-lidar-public/"

// DefaultLimits drops points classified as low noise.
const DefaultLimits = "Classification![7:7]"

// DatasetURL returns the ept.json location of region under base.
func DatasetURL(base, region string) string {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + region + "/ept.json"
}

// PipelineConfig describes a fetch of one region. Bounds and Polygon are in
// the dataset CRS; OutEPSG is the CRS the points are reprojected to.
type PipelineConfig struct {
	DatasetPath   string
	Bounds        orb.Bound
	Polygon       string // WKT
	OutEPSG       int
	Limits        string  // filters.range expression, optional
	LAZPath       string  // writers.las output, optional
	TIFPath       string  // writers.gdal output, optional
	TIFResolution float64 // raster cell size for TIFPath
}

// Validate reports the first missing field.
func (c *PipelineConfig) Validate() error {
	switch {
	case c.DatasetPath == "":
		return fmt.Errorf("%w: pipeline needs a dataset path", ErrInvalidArgument)
	case c.Polygon == "":
		return fmt.Errorf("%w: pipeline needs a crop polygon", ErrInvalidArgument)
	case c.OutEPSG == 0:
		return fmt.Errorf("%w: missing crs", ErrInvalidArgument)
	case c.TIFPath != "" && !(c.TIFResolution > 0):
		return fmt.Errorf("%w: raster output needs a positive resolution", ErrInvalidArgument)
	}
	return nil
}

// Stage is one PDAL pipeline stage. Only the options a stage uses are set.
type Stage struct {
	Type            string  `json:"type"`
	Tag             string  `json:"tag,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	Bounds          string  `json:"bounds,omitempty"`
	Polygon         string  `json:"polygon,omitempty"`
	Limits          string  `json:"limits,omitempty"`
	OutSRS          string  `json:"out_srs,omitempty"`
	GDALDriver      string  `json:"gdaldriver,omitempty"`
	OutputType      string  `json:"output_type,omitempty"`
	Resolution      float64 `json:"resolution,omitempty"`
	Format          string  `json:"format,omitempty"`
	Order           string  `json:"order,omitempty"`
	Precision       int     `json:"precision,omitempty"`
	KeepUnspecified *bool   `json:"keep_unspecified,omitempty"`
}

// Pipeline is an ordered list of PDAL stages.
type Pipeline struct {
	Stages []Stage `json:"pipeline"`
}

// NewPipeline renders cfg into reader, crop, range, reprojection and
// optional writer stages.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{}
	p.Stages = append(p.Stages,
		Stage{
			Type:     "readers.ept",
			Tag:      "readdata",
			Filename: cfg.DatasetPath,
			Bounds:   FormatBounds(cfg.Bounds),
		},
		Stage{
			Type:    "filters.crop",
			Polygon: cfg.Polygon,
		},
	)
	if cfg.Limits != "" {
		p.Stages = append(p.Stages, Stage{
			Type:   "filters.range",
			Limits: cfg.Limits,
		})
	}
	p.Stages = append(p.Stages, Stage{
		Type:   "filters.reprojection",
		OutSRS: fmt.Sprintf("EPSG:%d", cfg.OutEPSG),
	})
	if cfg.LAZPath != "" {
		p.Stages = append(p.Stages, Stage{
			Type:     "writers.las",
			Filename: cfg.LAZPath,
		})
	}
	if cfg.TIFPath != "" {
		p.Stages = append(p.Stages, Stage{
			Type:       "writers.gdal",
			Filename:   cfg.TIFPath,
			GDALDriver: "GTiff",
			OutputType: "all",
			Resolution: cfg.TIFResolution,
		})
	}

	return p, nil
}

// With returns a copy of p with extra stages appended.
func (p *Pipeline) With(stages ...Stage) *Pipeline {
	out := &Pipeline{Stages: make([]Stage, 0, len(p.Stages)+len(stages))}
	out.Stages = append(out.Stages, p.Stages...)
	out.Stages = append(out.Stages, stages...)
	return out
}

// JSON returns the pipeline in the form `pdal pipeline` reads.
func (p *Pipeline) JSON() ([]byte, error) {
	return json.Marshal(p)
}
