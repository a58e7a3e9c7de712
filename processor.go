package lidar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	PublicDataURL string // root of the EPT bucket
	DatasetEPSG   int    // CRS of the catalog boxes and EPT data
	Limits        string // filters.range expression applied to every fetch
	OutputDir     string // when set, fetches also write laz/<region>.laz and tif/<region>.tif
	TIFResolution float64
	CacheSize     int // number of fetched point sets kept in memory; 0 disables
}

// DefaultProcessorConfig returns the settings for the public USGS bucket.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		PublicDataURL: DefaultPublicDataURL,
		DatasetEPSG:   EPSGWebMercator,
		Limits:        DefaultLimits,
		TIFResolution: 1,
	}
}

// Processor selects regions for a polygon and fetches their points.
type Processor struct {
	cfg     ProcessorConfig
	catalog *Catalog
	fetcher Fetcher
	logger  *slog.Logger
	cache   *lru.Cache[string, PointSet]
}

// NewProcessor wires a catalog and fetcher together. A nil cfg uses
// DefaultProcessorConfig and a nil logger uses slog.Default().
func NewProcessor(catalog *Catalog, fetcher Fetcher, cfg *ProcessorConfig, logger *slog.Logger) (*Processor, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: nil catalog", ErrInvalidArgument)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = DefaultProcessorConfig()
	}
	if cfg.DatasetEPSG == 0 {
		return nil, fmt.Errorf("%w: missing dataset crs", ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		cfg:     *cfg,
		catalog: catalog,
		fetcher: fetcher,
		logger:  logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, PointSet](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create fetch cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Catalog returns the catalog the processor selects from.
func (p *Processor) Catalog() *Catalog {
	return p.catalog
}

// Boundaries moves a polygon given in epsg into the dataset CRS.
func (p *Processor) Boundaries(polygon orb.Polygon, epsg int) (Boundaries, error) {
	return PolygonBoundaries(polygon, epsg, p.cfg.DatasetEPSG)
}

// Regions returns the catalog regions covering the polygon, oldest first.
func (p *Processor) Regions(polygon orb.Polygon, epsg int) ([]Region, error) {
	b, err := p.Boundaries(polygon, epsg)
	if err != nil {
		return nil, err
	}
	regions := p.catalog.Select(b.Bound)
	p.logger.Debug("selected regions", "count", len(regions), "bounds", b.BoundsString())
	return regions, nil
}

// Pipeline builds the fetch pipeline of region for a polygon given in epsg.
// Points come back in epsg.
func (p *Processor) Pipeline(region string, polygon orb.Polygon, epsg int) (*Pipeline, error) {
	if region == "" {
		return nil, fmt.Errorf("%w: empty region", ErrInvalidArgument)
	}
	b, err := p.Boundaries(polygon, epsg)
	if err != nil {
		return nil, err
	}

	cfg := &PipelineConfig{
		DatasetPath:   DatasetURL(p.cfg.PublicDataURL, region),
		Bounds:        b.Bound,
		Polygon:       b.WKT(),
		OutEPSG:       epsg,
		Limits:        p.cfg.Limits,
		TIFResolution: p.cfg.TIFResolution,
	}
	if p.cfg.OutputDir != "" {
		cfg.LAZPath = filepath.Join(p.cfg.OutputDir, "laz", region+".laz")
		cfg.TIFPath = filepath.Join(p.cfg.OutputDir, "tif", region+".tif")
	}
	return NewPipeline(cfg)
}

// RegionData fetches the points of one region inside the polygon.
func (p *Processor) RegionData(ctx context.Context, polygon orb.Polygon, epsg int, region string) (*Cloud, error) {
	pipeline, err := p.Pipeline(region, polygon, epsg)
	if err != nil {
		return nil, err
	}

	key := ""
	if p.cache != nil {
		body, err := pipeline.JSON()
		if err != nil {
			return nil, err
		}
		key = string(body)
		if points, ok := p.cache.Get(key); ok {
			p.logger.Debug("fetch cache hit", "region", region)
			return &Cloud{EPSG: epsg, Points: slices.Clone(points)}, nil
		}
	}

	if p.cfg.OutputDir != "" {
		for _, dir := range []string{"laz", "tif"} {
			if err := os.MkdirAll(filepath.Join(p.cfg.OutputDir, dir), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create output dir: %w", err)
			}
		}
	}

	arrays, err := p.fetcher.Fetch(ctx, pipeline)
	if err != nil {
		p.logger.Error("pipeline execution failed", "region", region, "error", err)
		return nil, err
	}
	cloud, err := NewCloud(arrays, epsg)
	if err != nil {
		p.logger.Error("pipeline returned malformed data", "region", region, "error", err)
		return nil, err
	}
	p.logger.Info("pipeline executed successfully", "region", region, "points", cloud.Len())

	if p.cache != nil {
		// callers own the returned points
		p.cache.Add(key, slices.Clone(cloud.Points))
	}
	return cloud, nil
}

// Data fetches every region covering the polygon and keys the clouds by
// acquisition year, UnknownYear for tiles without one. Regions that fail or
// return no points are logged and skipped; when two regions share a year the
// later one in the selection wins. An error is returned only for invalid
// input or a cancelled context.
func (p *Processor) Data(ctx context.Context, polygon orb.Polygon, epsg int) (map[int]*Cloud, error) {
	regions, err := p.Regions(polygon, epsg)
	if err != nil {
		return nil, err
	}

	out := make(map[int]*Cloud, len(regions))
	for _, r := range regions {
		cloud, err := p.RegionData(ctx, polygon, epsg, r.Filename)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			p.logger.Warn("skipping region", "region", r.Filename, "year", r.YearLabel(), "error", err)
			continue
		}
		if cloud.Empty() {
			p.logger.Info("region returned no points", "region", r.Filename, "year", r.YearLabel())
			continue
		}
		out[r.Year] = cloud
	}
	return out, nil
}

// Fetch pulls the points of region inside a box given in the dataset CRS.
func (p *Processor) Fetch(ctx context.Context, region string, bounds orb.Bound) (*Cloud, error) {
	if _, ok := p.catalog.Lookup(region); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return p.RegionData(ctx, boundToPolygon(bounds), p.cfg.DatasetEPSG, region)
}
