package lidar

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// samePoints compares point sets as sets, within floating-point tolerance.
var samePoints = cmp.Options{
	cmpopts.SortSlices(func(a, b Point3D) bool {
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	}),
	cmpopts.EquateApprox(0, 1e-9),
	cmpopts.EquateEmpty(),
}

func TestSubsample_TwoVoxels(t *testing.T) {
	points := PointSet{{0, 0, 0}, {0.5, 0.5, 0.5}, {5, 5, 5}}

	got, err := Subsample(points, 1)
	require.NoError(t, err)

	want := PointSet{{0.25, 0.25, 0.25}, {5, 5, 5}}
	if diff := cmp.Diff(want, got, samePoints); diff != "" {
		t.Errorf("Subsample mismatch (-want +got):\n%s", diff)
	}
}

func TestSubsample_IdenticalPoints(t *testing.T) {
	p := Point3D{X: -10425171.94, Y: 5164494.71, Z: 312.5}
	points := PointSet{p, p, p, p}

	got, err := Subsample(points, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, p.X, got[0].X, 1e-6)
	assert.InDelta(t, p.Y, got[0].Y, 1e-6)
	assert.InDelta(t, p.Z, got[0].Z, 1e-9)
}

func TestSubsample_Empty(t *testing.T) {
	for _, res := range []float64{0.1, 1, 3, 1000} {
		got, err := Subsample(PointSet{}, res)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = Subsample(nil, res)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestSubsample_InvalidResolution(t *testing.T) {
	points := PointSet{{1, 2, 3}}
	for _, res := range []float64{0, -1, -0.001, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Subsample(points, res)
		assert.ErrorIs(t, err, ErrInvalidArgument, "resolution %v", res)

		// Also rejected for empty input.
		_, err = Subsample(nil, res)
		assert.ErrorIs(t, err, ErrInvalidArgument, "resolution %v", res)
	}
}

func TestSubsample_NonFinitePoint(t *testing.T) {
	_, err := Subsample(PointSet{{0, 0, 0}, {math.NaN(), 1, 1}}, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSubsample_PerAxisMinimum(t *testing.T) {
	// Anchored at a single scalar minimum of -100 the x values 0.9 and 1.1
	// would fall in cells 100 and 101; per-axis minima put them in one.
	points := PointSet{{0.9, -100, 50}, {1.1, -100, 50}}

	got, err := Subsample(points, 1)
	require.NoError(t, err)
	want := PointSet{{1.0, -100, 50}}
	if diff := cmp.Diff(want, got, samePoints); diff != "" {
		t.Errorf("Subsample mismatch (-want +got):\n%s", diff)
	}
}

func TestSubsample_DeterministicOrder(t *testing.T) {
	points := PointSet{{9, 9, 9}, {0, 0, 0}, {9.1, 9.1, 9.1}, {4, 4, 4}}

	first, err := Subsample(points, 1)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Subsample(points, 1)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Voxels come out in order of first appearance.
	require.Len(t, first, 3)
	assert.InDelta(t, 9.05, first[0].X, 1e-9)
	assert.Equal(t, Point3D{0, 0, 0}, first[1])
	assert.Equal(t, Point3D{4, 4, 4}, first[2])
}

func TestSubsample_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	// Clusters 10 units apart, jittered by less than half a voxel, and an
	// isolated anchor that stays the grid origin on both passes.
	points := PointSet{{-5, -5, 95}}
	for cx := 0; cx < 5; cx++ {
		for cy := 0; cy < 5; cy++ {
			for i := 0; i < 20; i++ {
				points = append(points, Point3D{
					X: float64(cx)*10 + r.Float64()*0.4,
					Y: float64(cy)*10 + r.Float64()*0.4,
					Z: 100 + r.Float64()*0.4,
				})
			}
		}
	}

	once, err := Subsample(points, 1)
	require.NoError(t, err)
	require.Len(t, once, 26)

	twice, err := Subsample(once, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(once, twice, samePoints); diff != "" {
		t.Errorf("second pass changed the set (-once +twice):\n%s", diff)
	}
}

func TestSubsample_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		n := 1 + r.Intn(500)
		res := 0.25 + r.Float64()*5
		points := make(PointSet, n)
		for i := range points {
			points[i] = Point3D{
				X: r.Float64()*50 - 25,
				Y: r.Float64()*50 + 1000,
				Z: r.Float64() * 20,
			}
		}

		buckets, err := Bucket(points, res)
		require.NoError(t, err)
		out, err := Subsample(points, res)
		require.NoError(t, err)

		// One output point per occupied voxel.
		require.Len(t, out, len(buckets))

		total := 0
		seen := make(map[VoxelKey]bool)
		for i, b := range buckets {
			require.False(t, seen[b.Key], "voxel %v bucketed twice", b.Key)
			seen[b.Key] = true
			total += len(b.Points)

			mean := out[i]
			assert.InDelta(t, b.Mean().X, mean.X, 1e-9)
			assert.InDelta(t, b.Mean().Y, mean.Y, 1e-9)
			assert.InDelta(t, b.Mean().Z, mean.Z, 1e-9)

			// The mean lies within resolution of every member on each axis.
			for _, p := range b.Points {
				assert.LessOrEqual(t, math.Abs(p.X-mean.X), res)
				assert.LessOrEqual(t, math.Abs(p.Y-mean.Y), res)
				assert.LessOrEqual(t, math.Abs(p.Z-mean.Z), res)
			}
		}
		// Every input point lands in exactly one bucket.
		assert.Equal(t, n, total)
	}
}

func TestBucket_Keys(t *testing.T) {
	points := PointSet{{1, 1, 1}, {1.9, 1.9, 1.9}, {2, 1, 1}, {3.5, 4.5, 1}}

	buckets, err := Bucket(points, 1)
	require.NoError(t, err)

	keys := make([]VoxelKey, len(buckets))
	for i, b := range buckets {
		keys[i] = b.Key
	}
	assert.Equal(t, []VoxelKey{{0, 0, 0}, {1, 0, 0}, {2, 3, 0}}, keys)
	assert.Len(t, buckets[0].Points, 2)
}

func TestKeyOf(t *testing.T) {
	origin := Point3D{10, 20, 30}
	tests := []struct {
		name string
		p    Point3D
		res  float64
		want VoxelKey
	}{
		{"origin", Point3D{10, 20, 30}, 1, VoxelKey{0, 0, 0}},
		{"just below edge", Point3D{10.999, 20.999, 30.999}, 1, VoxelKey{0, 0, 0}},
		{"on edge", Point3D{11, 21, 31}, 1, VoxelKey{1, 1, 1}},
		{"coarse", Point3D{19, 29, 39}, 3, VoxelKey{3, 3, 3}},
		{"fine", Point3D{10.25, 20, 30.5}, 0.1, VoxelKey{2, 0, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyOf(tt.p, origin, tt.res))
		})
	}
}

func TestMinPoint(t *testing.T) {
	assert.Equal(t, Point3D{}, MinPoint(nil))
	assert.Equal(t, Point3D{-1, 0, 2}, MinPoint(PointSet{{3, 0, 5}, {-1, 4, 2}, {0, 1, 9}}))
}

func TestCloudSubsample_KeepsCRS(t *testing.T) {
	c := &Cloud{EPSG: 4326, Points: PointSet{{0, 0, 0}, {0.1, 0.1, 0.1}}}
	sub, err := c.Subsample(1)
	require.NoError(t, err)
	assert.Equal(t, 4326, sub.EPSG)
	assert.Equal(t, 1, sub.Len())

	_, err = c.Subsample(0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSubsample_ExtentBeyondKeyRange(t *testing.T) {
	points := PointSet{{0, 0, 0}, {1e19, 0, 0}, {2e19, 0, 0}}

	_, err := Subsample(points, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Bucket(points, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Same extent at a coarser grid fits.
	got, err := Subsample(points, 1e9)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSubsample_ExtentOverflowsFloat(t *testing.T) {
	points := PointSet{{-math.MaxFloat64, 0, 0}, {math.MaxFloat64, 0, 0}}
	_, err := Subsample(points, 1e300)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
