package lidar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// UnknownYear is the year recorded for tiles whose acquisition year is missing.
const UnknownYear = 0

// Region is one EPT dataset of the public bucket and the box it covers in the
// dataset CRS.
type Region struct {
	Filename string
	Year     int
	Bound    orb.Bound
}

// Contains reports whether the region's box fully covers b.
func (r Region) Contains(b orb.Bound) bool {
	return r.Bound.Min[0] <= b.Min[0] &&
		r.Bound.Max[0] >= b.Max[0] &&
		r.Bound.Min[1] <= b.Min[1] &&
		r.Bound.Max[1] >= b.Max[1]
}

// YearLabel returns the year as text, or "unknown".
func (r Region) YearLabel() string {
	return YearLabel(r.Year)
}

// YearLabel formats an acquisition year, mapping UnknownYear to "unknown".
func YearLabel(year int) string {
	if year == UnknownYear {
		return "unknown"
	}
	return strconv.Itoa(year)
}

// Catalog is a read-only table of regions.
type Catalog struct {
	regions []Region
	byName  map[string]int
}

// NewCatalog copies regions into a catalog. Later duplicates of a filename
// shadow earlier ones in Lookup.
func NewCatalog(regions []Region) *Catalog {
	c := &Catalog{
		regions: make([]Region, len(regions)),
		byName:  make(map[string]int, len(regions)),
	}
	copy(c.regions, regions)
	for i, r := range c.regions {
		c.byName[r.Filename] = i
	}
	return c
}

// Len returns the number of regions.
func (c *Catalog) Len() int {
	return len(c.regions)
}

// Regions returns a copy of every region in load order.
func (c *Catalog) Regions() []Region {
	out := make([]Region, len(c.regions))
	copy(out, c.regions)
	return out
}

// Lookup finds a region by filename.
func (c *Catalog) Lookup(filename string) (Region, bool) {
	i, ok := c.byName[filename]
	if !ok {
		return Region{}, false
	}
	return c.regions[i], true
}

// Select returns the regions whose box contains b, oldest first. Regions of
// the same year keep their catalog order.
func (c *Catalog) Select(b orb.Bound) []Region {
	var out []Region
	for _, r := range c.regions {
		if r.Contains(b) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Year < out[j].Year
	})
	return out
}

// OpenCatalog loads a catalog from a .csv, .fgb or SQLite (.db, .sqlite) file.
func OpenCatalog(path string) (*Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return LoadCatalogCSV(f)
	case ".fgb":
		return ReadCatalog(path)
	case ".db", ".sqlite", ".sqlite3":
		return OpenCatalogSQLite(path)
	default:
		return nil, fmt.Errorf("%w: unknown catalog format %q", ErrInvalidArgument, filepath.Ext(path))
	}
}

var requiredCatalogColumns = []string{"filename", "xmin", "xmax", "ymin", "ymax"}

// LoadCatalogCSV reads the 3DEP metadata table. Columns are found by header
// name; extra columns are ignored and an empty year becomes UnknownYear.
func LoadCatalogCSV(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty catalog", ErrInvalidData)
		}
		return nil, err
	}

	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredCatalogColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: catalog is missing column %q", ErrInvalidData, name)
		}
	}
	yearCol, hasYear := cols["year"]

	var regions []Region
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		region := Region{Filename: rec[cols["filename"]]}
		var box [4]float64
		for i, name := range requiredCatalogColumns[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrInvalidData, line, name, err)
			}
			box[i] = v
		}
		region.Bound = orb.Bound{
			Min: orb.Point{box[0], box[2]},
			Max: orb.Point{box[1], box[3]},
		}

		if hasYear {
			region.Year, err = parseYear(rec[yearCol])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: year: %v", ErrInvalidData, line, err)
			}
		}

		regions = append(regions, region)
	}

	return NewCatalog(regions), nil
}

// parseYear accepts integers and the float form pandas writes ("2015.0").
func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return UnknownYear, nil
	}
	if y, err := strconv.Atoi(s); err == nil {
		return y, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
