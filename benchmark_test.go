package lidar

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/paulmach/orb"
)

// =============================================================================
// Test Data Generators
// =============================================================================

// generateTerrain creates n points of a rolling surface in Web Mercator
// metres, centred near Ames, Iowa.
func generateTerrain(r *rand.Rand, n int, size float64) PointSet {
	const x0, y0 = -10436887.0, 5148706.0
	points := make(PointSet, n)
	for i := 0; i < n; i++ {
		x := r.Float64() * size
		y := r.Float64() * size
		z := 300 + 5*math.Sin(x/50) + 3*math.Cos(y/80) + r.NormFloat64()*0.1
		points[i] = Point3D{X: x0 + x, Y: y0 + y, Z: z}
	}
	return points
}

func generateCloud(r *rand.Rand, n int) *Cloud {
	return &Cloud{EPSG: EPSGWebMercator, Points: generateTerrain(r, n, 1000)}
}

// textXYZ renders points the way writers.text emits them.
func textXYZ(points PointSet) []byte {
	var buf bytes.Buffer
	buf.WriteString("\"X\",\"Y\",\"Z\"\n")
	for _, p := range points {
		buf.WriteString(strconv.FormatFloat(p.X, 'f', 8, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(p.Y, 'f', 8, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(p.Z, 'f', 8, 64))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// =============================================================================
// Size Comparison Tests
// =============================================================================

func TestSizeComparison_Cloud(t *testing.T) {
	r := rand.New(rand.NewSource(42)) // Reproducible results

	t.Logf("\n=== Size Comparison: cloud ===")
	t.Logf("%-12s | %-15s | %-15s | %-15s | %-10s", "Points", "CSV (bytes)", "FGB (bytes)", "FGB+Index", "Savings")
	t.Logf("%s", "-------------|-----------------|-----------------|-----------------|----------")

	for _, n := range []int{10, 100, 1000, 10000} {
		c := generateCloud(r, n)
		csvSize := len(textXYZ(c.Points))

		var fgbBuf bytes.Buffer
		if err := WriteCloud(&fgbBuf, c, &Options{IncludeIndex: false}); err != nil {
			t.Fatalf("FlatGeobuf write failed: %v", err)
		}

		var fgbIdxBuf bytes.Buffer
		if err := WriteCloud(&fgbIdxBuf, c, &Options{IncludeIndex: true}); err != nil {
			t.Fatalf("FlatGeobuf write with index failed: %v", err)
		}

		savings := float64(csvSize-fgbBuf.Len()) / float64(csvSize) * 100
		t.Logf("%-12d | %-15d | %-15d | %-15d | %.1f%%",
			n, csvSize, fgbBuf.Len(), fgbIdxBuf.Len(), savings)
	}
}

func TestSubsampleReduction(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	points := generateTerrain(r, 20000, 100)

	t.Logf("\n=== Voxel reduction: 20000 points over 100m ===")
	prev := len(points)
	for _, res := range []float64{0.5, 1, 3, 12} {
		got, err := Subsample(points, res)
		if err != nil {
			t.Fatalf("Subsample(%v) failed: %v", res, err)
		}
		if len(got) > prev {
			t.Errorf("resolution %v kept %d points, more than the finer grid's %d", res, len(got), prev)
		}
		prev = len(got)
		t.Logf("%-6v m | %6d points | %.1f%%", res, len(got), float64(len(got))/float64(len(points))*100)
	}
}

// =============================================================================
// Subsampling Benchmarks
// =============================================================================

func BenchmarkSubsample_10000_Res1(b *testing.B) {
	benchmarkSubsample(b, 10000, 1)
}

func BenchmarkSubsample_10000_Res3(b *testing.B) {
	benchmarkSubsample(b, 10000, 3)
}

func BenchmarkSubsample_100000_Res1(b *testing.B) {
	benchmarkSubsample(b, 100000, 1)
}

func BenchmarkSubsample_100000_Res3(b *testing.B) {
	benchmarkSubsample(b, 100000, 3)
}

func BenchmarkSubsample_1000000_Res3(b *testing.B) {
	benchmarkSubsample(b, 1000000, 3)
}

func benchmarkSubsample(b *testing.B, n int, resolution float64) {
	r := rand.New(rand.NewSource(42))
	points := generateTerrain(r, n, 1000)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := Subsample(points, resolution); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Fetch Parsing Benchmarks
// =============================================================================

func BenchmarkParseTextXYZ_10000(b *testing.B) {
	benchmarkParseTextXYZ(b, 10000)
}

func BenchmarkParseTextXYZ_100000(b *testing.B) {
	benchmarkParseTextXYZ(b, 100000)
}

func benchmarkParseTextXYZ(b *testing.B, n int) {
	r := rand.New(rand.NewSource(42))
	data := textXYZ(generateTerrain(r, n, 1000))

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))

	for i := 0; i < b.N; i++ {
		if _, err := ParseTextXYZ(bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Serialization Benchmarks (Write Performance)
// =============================================================================

func BenchmarkWriteCloud_1000(b *testing.B) {
	benchmarkWriteCloud(b, 1000, false)
}

func BenchmarkWriteCloudIdx_1000(b *testing.B) {
	benchmarkWriteCloud(b, 1000, true)
}

func BenchmarkWriteCloud_10000(b *testing.B) {
	benchmarkWriteCloud(b, 10000, false)
}

func BenchmarkWriteCloudIdx_10000(b *testing.B) {
	benchmarkWriteCloud(b, 10000, true)
}

func benchmarkWriteCloud(b *testing.B, n int, includeIndex bool) {
	r := rand.New(rand.NewSource(42))
	c := generateCloud(r, n)
	opts := &Options{IncludeIndex: includeIndex}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := WriteCloud(&buf, c, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Deserialization Benchmarks (Read Performance)
// =============================================================================

func BenchmarkReadCloud_1000(b *testing.B) {
	benchmarkReadCloud(b, 1000)
}

func BenchmarkReadCloud_10000(b *testing.B) {
	benchmarkReadCloud(b, 10000)
}

func benchmarkReadCloud(b *testing.B, n int) {
	r := rand.New(rand.NewSource(42))
	tmpFile := writeBenchmarkCloud(b, generateCloud(r, n))

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := ReadCloud(tmpFile); err != nil {
			b.Fatal(err)
		}
	}
}

func writeBenchmarkCloud(b *testing.B, c *Cloud) string {
	b.Helper()
	tmpFile := filepath.Join(b.TempDir(), "benchmark.fgb")

	file, err := os.Create(tmpFile)
	if err != nil {
		b.Fatal(err)
	}
	if err := WriteCloud(file, c, &Options{IncludeIndex: true}); err != nil {
		_ = file.Close()
		b.Fatal(err)
	}
	if err := file.Close(); err != nil {
		b.Fatal(err)
	}
	return tmpFile
}

// =============================================================================
// Spatial Query Benchmarks (FlatGeobuf advantage)
// =============================================================================

func BenchmarkSpatialQuery_Scan_100000(b *testing.B) {
	r := rand.New(rand.NewSource(42))
	c := generateCloud(r, 100000)
	bounds := queryBounds()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		matches := make(PointSet, 0)
		for _, p := range c.Points {
			if bounds.Contains(orb.Point{p.X, p.Y}) {
				matches = append(matches, p)
			}
		}
		_ = matches
	}
}

func BenchmarkSpatialQuery_FlatGeobuf_100000(b *testing.B) {
	r := rand.New(rand.NewSource(42))
	tmpFile := writeBenchmarkCloud(b, generateCloud(r, 100000))
	bounds := queryBounds()

	reader, err := NewReader(tmpFile)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = reader.Close() }()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := reader.SearchCloud(bounds); err != nil {
			b.Fatal(err)
		}
	}
}

// queryBounds is a 50m square inside the generated terrain.
func queryBounds() orb.Bound {
	return orb.Bound{
		Min: orb.Point{-10436887.0 + 400, 5148706.0 + 400},
		Max: orb.Point{-10436887.0 + 450, 5148706.0 + 450},
	}
}

func ExampleSubsample() {
	points := PointSet{{0, 0, 0}, {0.5, 0.5, 0.5}, {5, 5, 5}}
	out, _ := Subsample(points, 1)
	fmt.Println(out)
	// Output: [{0.25 0.25 0.25} {5 5 5}]
}
