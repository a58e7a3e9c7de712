package lidar

import (
	"fmt"
	"math"
)

// VoxelKey identifies a cubic cell of the grid by its integer offset from the
// grid origin along each axis.
type VoxelKey [3]int64

// VoxelBucket holds the points that fell into one voxel.
type VoxelBucket struct {
	Key    VoxelKey
	Points PointSet
}

// Mean returns the component-wise arithmetic mean of the bucket's points.
func (b VoxelBucket) Mean() Point3D {
	var sum Point3D
	for _, p := range b.Points {
		sum.X += p.X
		sum.Y += p.Y
		sum.Z += p.Z
	}
	n := float64(len(b.Points))
	return Point3D{X: sum.X / n, Y: sum.Y / n, Z: sum.Z / n}
}

// MinPoint returns the per-axis minimum of the points. It returns the zero
// point for an empty set.
func MinPoint(points PointSet) Point3D {
	if len(points) == 0 {
		return Point3D{}
	}
	lo := points[0]
	for _, p := range points[1:] {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		lo.Z = math.Min(lo.Z, p.Z)
	}
	return lo
}

// KeyOf returns the voxel containing p for a grid anchored at origin.
func KeyOf(p, origin Point3D, resolution float64) VoxelKey {
	return VoxelKey{
		int64(math.Floor((p.X - origin.X) / resolution)),
		int64(math.Floor((p.Y - origin.Y) / resolution)),
		int64(math.Floor((p.Z - origin.Z) / resolution)),
	}
}

// Bucket groups points into voxels of side resolution, anchored at the
// per-axis minimum of the input. Buckets are returned in the order their
// first point appears in the input.
func Bucket(points PointSet, resolution float64) ([]VoxelBucket, error) {
	if err := checkInput(points, resolution); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	origin := MinPoint(points)
	index := make(map[VoxelKey]int)
	var buckets []VoxelBucket

	for _, p := range points {
		key := KeyOf(p, origin, resolution)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, VoxelBucket{Key: key})
		}
		buckets[i].Points = append(buckets[i].Points, p)
	}

	return buckets, nil
}

type voxel struct {
	sum Point3D
	num int
}

// Subsample reduces points to one point per occupied voxel of side
// resolution, the mean of the points in that voxel. Output order follows the
// first appearance of each voxel in the input.
func Subsample(points PointSet, resolution float64) (PointSet, error) {
	if err := checkInput(points, resolution); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return PointSet{}, nil
	}

	origin := MinPoint(points)
	index := make(map[VoxelKey]int)
	voxels := make([]voxel, 0)

	for _, p := range points {
		key := KeyOf(p, origin, resolution)
		i, ok := index[key]
		if !ok {
			i = len(voxels)
			index[key] = i
			voxels = append(voxels, voxel{})
		}
		v := &voxels[i]
		v.sum.X += p.X
		v.sum.Y += p.Y
		v.sum.Z += p.Z
		v.num++
	}

	out := make(PointSet, len(voxels))
	for i := range voxels {
		v := &voxels[i]
		n := float64(v.num)
		out[i] = Point3D{X: v.sum.X / n, Y: v.sum.Y / n, Z: v.sum.Z / n}
	}
	return out, nil
}

func checkInput(points PointSet, resolution float64) error {
	if !(resolution > 0) || math.IsInf(resolution, 1) {
		return fmt.Errorf("%w: resolution must be a positive finite number, got %v", ErrInvalidArgument, resolution)
	}
	if len(points) == 0 {
		return nil
	}
	lo, hi := points[0], points[0]
	for i, p := range points {
		if !p.IsFinite() {
			return fmt.Errorf("%w: point %d has a non-finite coordinate", ErrInvalidArgument, i)
		}
		lo.X, hi.X = math.Min(lo.X, p.X), math.Max(hi.X, p.X)
		lo.Y, hi.Y = math.Min(lo.Y, p.Y), math.Max(hi.Y, p.Y)
		lo.Z, hi.Z = math.Min(lo.Z, p.Z), math.Max(hi.Z, p.Z)
	}
	// voxel offsets must fit a VoxelKey component
	for axis, span := range [3]float64{hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z} {
		if cells := span / resolution; math.IsInf(span, 0) || cells >= maxVoxelOffset {
			return fmt.Errorf("%w: extent along axis %d spans %g voxels of size %v", ErrInvalidArgument, axis, cells, resolution)
		}
	}
	return nil
}

// maxVoxelOffset is 2^63, the first float64 beyond the int64 range.
const maxVoxelOffset = float64(1 << 63)
