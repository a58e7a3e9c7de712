// Command lidarfetch selects USGS 3DEP LIDAR regions for a polygon, fetches
// them through PDAL, subsamples them and writes FlatGeobuf layers and plots.
//
// Usage:
//
//	lidarfetch [-config lidar.yaml] <command> [flags]
//
// Commands: regions, fetch, tile, subsample, plot, catalog.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	lidar "github.com/tingold/orb-lidar"
	"github.com/tingold/orb-lidar/internal/config"

	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./lidar.yaml if present)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Logger().With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "regions":
		err = runRegions(cfg, logger, args)
	case "fetch":
		err = runFetch(ctx, cfg, logger, args)
	case "tile":
		err = runTile(ctx, cfg, logger, args)
	case "subsample":
		err = runSubsample(cfg, logger, args)
	case "plot":
		err = runPlot(logger, args)
	case "catalog":
		err = runCatalog(ctx, cfg, logger, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: lidarfetch [-config file] <command> [flags]

commands:
  regions    list catalog regions covering a polygon
  fetch      fetch, subsample and plot every region covering a polygon
  tile       fetch one region inside a box given in the dataset CRS
  subsample  voxel-subsample a FlatGeobuf point layer
  plot       render a FlatGeobuf point layer as HTML and PNG
  catalog    convert a catalog between csv, fgb and sqlite
`)
}

// polygonFlags registers the flags shared by commands taking a polygon.
type polygonFlags struct {
	wkt  *string
	file *string
	epsg *int
}

func addPolygonFlags(fs *flag.FlagSet) polygonFlags {
	return polygonFlags{
		wkt:  fs.String("polygon", "", "polygon as WKT"),
		file: fs.String("polygon-file", "", "GeoJSON file holding a polygon geometry or feature"),
		epsg: fs.Int("epsg", lidar.EPSGWGS84, "EPSG code of the polygon and of the returned points"),
	}
}

func (f polygonFlags) polygon() (orb.Polygon, error) {
	switch {
	case *f.wkt != "" && *f.file != "":
		return nil, errors.New("use either -polygon or -polygon-file")
	case *f.wkt != "":
		return lidar.ParsePolygon(*f.wkt)
	case *f.file != "":
		data, err := os.ReadFile(*f.file)
		if err != nil {
			return nil, err
		}
		var g orb.Geometry
		if feat, err := geojson.UnmarshalFeature(data); err == nil && feat.Geometry != nil {
			g = feat.Geometry
		} else {
			geom, err := geojson.UnmarshalGeometry(data)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", *f.file, err)
			}
			g = geom.Geometry()
		}
		poly, ok := g.(orb.Polygon)
		if !ok {
			if g == nil {
				return nil, fmt.Errorf("%s: no geometry", *f.file)
			}
			return nil, fmt.Errorf("%s: expected a Polygon, got %s", *f.file, g.GeoJSONType())
		}
		return lidar.ValidatePolygon(poly)
	default:
		return nil, errors.New("a polygon is required (-polygon or -polygon-file)")
	}
}

func newProcessor(cfg *config.Config, logger *slog.Logger) (*lidar.Processor, error) {
	catalog, err := lidar.OpenCatalog(cfg.Data.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	logger.Debug("catalog loaded", "path", cfg.Data.CatalogPath, "regions", catalog.Len())

	fetcher := &lidar.PDALFetcher{
		Binary:    cfg.PDAL.Binary,
		Precision: cfg.PDAL.Precision,
		Logger:    logger,
	}
	return lidar.NewProcessor(catalog, fetcher, cfg.ProcessorConfig(), logger)
}

func runRegions(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("regions", flag.ExitOnError)
	pf := addPolygonFlags(fs)
	_ = fs.Parse(args)

	poly, err := pf.polygon()
	if err != nil {
		return err
	}
	proc, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}
	regions, err := proc.Regions(poly, *pf.epsg)
	if err != nil {
		return err
	}
	for _, r := range regions {
		fmt.Printf("%s\t%s\n", r.YearLabel(), r.Filename)
	}
	return nil
}

func runFetch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	pf := addPolygonFlags(fs)
	outDir := fs.String("out", cfg.Output.Dir, "output directory")
	resolution := fs.Float64("resolution", cfg.Processing.Resolution, "voxel size for subsampling; 0 skips it")
	plots := fs.Bool("plot", false, "also write HTML and PNG plots")
	_ = fs.Parse(args)

	poly, err := pf.polygon()
	if err != nil {
		return err
	}
	proc, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}

	clouds, err := proc.Data(ctx, poly, *pf.epsg)
	if err != nil {
		return err
	}
	if len(clouds) == 0 {
		logger.Warn("no data for polygon")
		return nil
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	years := make([]int, 0, len(clouds))
	for y := range clouds {
		years = append(years, y)
	}
	sort.Ints(years)

	for _, year := range years {
		cloud := clouds[year]
		base := filepath.Join(*outDir, lidar.YearLabel(year))
		if err := writeCloudFile(base+".fgb", cloud, "lidar_"+lidar.YearLabel(year)); err != nil {
			return err
		}

		if *resolution > 0 {
			sub, err := cloud.Subsample(*resolution)
			if err != nil {
				return err
			}
			logger.Info("subsampled", "year", lidar.YearLabel(year), "points", cloud.Len(), "kept", sub.Len())
			cloud = sub
			if err := writeCloudFile(base+"_subsampled.fgb", cloud, "lidar_"+lidar.YearLabel(year)+"_subsampled"); err != nil {
				return err
			}
		}

		if *plots {
			if err := writePlots(base, cloud, "Terrain "+lidar.YearLabel(year)); err != nil {
				return err
			}
		}
		s := lidar.Describe(cloud)
		logger.Info("wrote year", "year", lidar.YearLabel(year), "points", s.Count,
			"min_z", s.MinZ, "max_z", s.MaxZ, "mean_z", s.MeanZ)
	}
	return nil
}

func runTile(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("tile", flag.ExitOnError)
	region := fs.String("region", "", "catalog region, e.g. IA_FullState")
	bounds := fs.String("bounds", "", "minx,miny,maxx,maxy in the dataset CRS")
	out := fs.String("out", "", "output FlatGeobuf point layer (default <output.dir>/<region>.fgb)")
	_ = fs.Parse(args)

	if *region == "" {
		return errors.New("-region is required")
	}
	b, err := parseBound(*bounds)
	if err != nil {
		return err
	}
	proc, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}
	cloud, err := proc.Fetch(ctx, *region, b)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
		path = filepath.Join(cfg.Output.Dir, *region+".fgb")
	}
	if cloud.Empty() {
		logger.Warn("region returned no points", "region", *region)
		return nil
	}
	return writeCloudFile(path, cloud, *region)
}

func parseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("-bounds wants minx,miny,maxx,maxy, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("-bounds: %w", err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, fmt.Errorf("-bounds: min must be below max, got %q", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func runSubsample(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("subsample", flag.ExitOnError)
	in := fs.String("in", "", "input FlatGeobuf point layer")
	out := fs.String("out", "", "output FlatGeobuf point layer")
	resolution := fs.Float64("resolution", cfg.Processing.Resolution, "voxel size")
	_ = fs.Parse(args)

	if *in == "" || *out == "" {
		return errors.New("-in and -out are required")
	}
	cloud, err := lidar.ReadCloud(*in)
	if err != nil {
		return err
	}
	sub, err := cloud.Subsample(*resolution)
	if err != nil {
		return err
	}
	logger.Info("subsampled", "in", *in, "points", cloud.Len(), "kept", sub.Len())
	return writeCloudFile(*out, sub, strings.TrimSuffix(filepath.Base(*out), filepath.Ext(*out)))
}

func runPlot(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	in := fs.String("in", "", "input FlatGeobuf point layer")
	title := fs.String("title", "Terrain", "plot title")
	_ = fs.Parse(args)

	if *in == "" {
		return errors.New("-in is required")
	}
	cloud, err := lidar.ReadCloud(*in)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(*in, filepath.Ext(*in))
	if err := writePlots(base, cloud, *title); err != nil {
		return err
	}
	logger.Info("plotted", "in", *in, "points", cloud.Len())
	return nil
}

func runCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	in := fs.String("in", cfg.Data.CatalogPath, "input catalog (.csv, .fgb, .db)")
	out := fs.String("out", "", "output catalog (.fgb or .db)")
	_ = fs.Parse(args)

	if *out == "" {
		return errors.New("-out is required")
	}
	catalog, err := lidar.OpenCatalog(*in)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(*out)) {
	case ".fgb":
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		opts := lidar.DefaultOptions()
		opts.Name = "usgs_3dep_regions"
		if err := lidar.WriteCatalog(f, catalog, cfg.Data.DatasetEPSG, opts); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	case ".db", ".sqlite", ".sqlite3":
		db, err := sql.Open("sqlite", *out)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := lidar.SaveCatalogSQLite(ctx, db, catalog); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(*out))
	}

	logger.Info("catalog written", "in", *in, "out", *out, "regions", catalog.Len())
	return nil
}

func writeCloudFile(path string, cloud *lidar.Cloud, name string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	opts := lidar.DefaultOptions()
	opts.Name = name
	if err := lidar.WriteCloud(f, cloud, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writePlots(base string, cloud *lidar.Cloud, title string) error {
	o := lidar.DefaultPlotOptions()
	o.Title = title

	html, err := os.Create(base + ".html")
	if err != nil {
		return err
	}
	if err := lidar.PlotTerrain3D(html, cloud, o); err != nil {
		_ = html.Close()
		return fmt.Errorf("plot %s.html: %w", base, err)
	}
	if err := html.Close(); err != nil {
		return err
	}

	png, err := os.Create(base + ".png")
	if err != nil {
		return err
	}
	if err := lidar.PlotElevation(png, cloud, o); err != nil {
		_ = png.Close()
		return fmt.Errorf("plot %s.png: %w", base, err)
	}
	return png.Close()
}
