package lidar

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// viridis stops used for the elevation visual map.
var elevationColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// PlotOptions configures terrain plots.
type PlotOptions struct {
	Title      string
	Width      vg.Length // PNG width
	Height     vg.Length // PNG height
	SymbolSize float32   // 3-D marker size in pixels
	MaxPoints  int       // clouds larger than this are thinned by a stride
}

// DefaultPlotOptions returns the settings used when nil options are passed.
func DefaultPlotOptions() *PlotOptions {
	return &PlotOptions{
		Title:      "Terrain",
		Width:      12 * vg.Inch,
		Height:     10 * vg.Inch,
		SymbolSize: 2,
		MaxPoints:  200000,
	}
}

// Stats summarises the elevation of a cloud.
type Stats struct {
	Count  int
	MinZ   float64
	MaxZ   float64
	MeanZ  float64
	StdDev float64
	Bound  [4]float64 // minX, minY, maxX, maxY
}

// Describe computes elevation statistics. An empty cloud yields a zero Stats.
func Describe(c *Cloud) Stats {
	if c.Empty() {
		return Stats{}
	}
	z := make([]float64, len(c.Points))
	for i, p := range c.Points {
		z[i] = p.Z
	}
	mean, variance := stat.MeanVariance(z, nil)
	b := cloudBound(c.Points)
	s := Stats{
		Count: len(z),
		MinZ:  floats.Min(z),
		MaxZ:  floats.Max(z),
		MeanZ: mean,
		Bound: [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
	}
	if len(z) > 1 {
		s.StdDev = math.Sqrt(variance)
	}
	return s
}

// stride returns the step that keeps at most max of n points.
func stride(n, max int) int {
	if max <= 0 || n <= max {
		return 1
	}
	return (n + max - 1) / max
}

// PlotTerrain3D renders the cloud as an interactive 3-D scatter page, points
// coloured by elevation.
func PlotTerrain3D(w io.Writer, c *Cloud, o *PlotOptions) error {
	if o == nil {
		o = DefaultPlotOptions()
	}
	if c.Empty() {
		return ErrNilGeometry
	}

	step := stride(len(c.Points), o.MaxPoints)
	data := make([]opts.Chart3DData, 0, len(c.Points)/step+1)
	for i := 0; i < len(c.Points); i += step {
		p := c.Points[i]
		data = append(data, opts.Chart3DData{Value: []interface{}{p.X, p.Y, p.Z}})
	}

	s := Describe(c)
	maxZ := s.MaxZ
	if maxZ <= s.MinZ {
		maxZ = s.MinZ + 1
	}

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Theme: "dark", Width: "1200px", Height: "1000px"}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: fmt.Sprintf("EPSG:%d points=%d stride=%d", c.EPSG, len(data), step)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Elevation"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(s.MinZ),
			Max:        float32(maxZ),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: elevationColors},
		}),
	)
	scatter.AddSeries("terrain", data)

	return scatter.Render(w)
}

// PlotElevation renders a top-down PNG scatter of the cloud coloured by
// elevation.
func PlotElevation(w io.Writer, c *Cloud, o *PlotOptions) error {
	if o == nil {
		o = DefaultPlotOptions()
	}
	if c.Empty() {
		return ErrNilGeometry
	}

	step := stride(len(c.Points), o.MaxPoints)
	xys := make(plotter.XYs, 0, len(c.Points)/step+1)
	zs := make([]float64, 0, cap(xys))
	for i := 0; i < len(c.Points); i += step {
		p := c.Points[i]
		xys = append(xys, plotter.XY{X: p.X, Y: p.Y})
		zs = append(zs, p.Z)
	}

	cmap := moreland.SmoothBlueRed()
	minZ, maxZ := floats.Min(zs), floats.Max(zs)
	if maxZ <= minZ {
		maxZ = minZ + 1
	}
	cmap.SetMax(maxZ)
	cmap.SetMin(minZ)

	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		col, err := cmap.At(zs[i])
		if err != nil {
			col = color.Gray{Y: 128}
		}
		return draw.GlyphStyle{Color: col, Radius: vg.Points(1), Shape: draw.CircleGlyph{}}
	}

	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = fmt.Sprintf("X (EPSG:%d)", c.EPSG)
	p.Y.Label.Text = fmt.Sprintf("Y (EPSG:%d)", c.EPSG)
	p.Add(sc)

	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
