// Package pointcloud defines an ordered container of points in 3D space.
//
// Unlike a dictionary-backed cloud, insertion order is preserved and points are
// addressable by index, which lets callers keep parallel per-point data (such as
// the measured range of a laser return) aligned with the cloud across filtering.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64, MaxX: -math.MaxFloat64,
		MinY: math.MaxFloat64, MaxY: -math.MaxFloat64,
		MinZ: math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point.
func (meta *MetaData) Merge(p r3.Vector) {
	if p.X > meta.MaxX {
		meta.MaxX = p.X
	}
	if p.Y > meta.MaxY {
		meta.MaxY = p.Y
	}
	if p.Z > meta.MaxZ {
		meta.MaxZ = p.Z
	}
	if p.X < meta.MinX {
		meta.MinX = p.X
	}
	if p.Y < meta.MinY {
		meta.MinY = p.Y
	}
	if p.Z < meta.MinZ {
		meta.MinZ = p.Z
	}
}

// PointCloud is an ordered collection of points.
type PointCloud struct {
	points []r3.Vector
	meta   MetaData
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with the given preallocated capacity.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{
		points: make([]r3.Vector, 0, size),
		meta:   NewMetaData(),
	}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	return len(cloud.points)
}

// MetaData returns the meta data.
func (cloud *PointCloud) MetaData() MetaData {
	return cloud.meta
}

// Add appends a point to the cloud.
func (cloud *PointCloud) Add(p r3.Vector) {
	cloud.points = append(cloud.points, p)
	cloud.meta.Merge(p)
}

// At returns the point at the given index.
func (cloud *PointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

// Iterate iterates over all points in the cloud in insertion order and calls the
// given function for each point. If the function returns false, iteration stops.
func (cloud *PointCloud) Iterate(fn func(i int, p r3.Vector) bool) {
	for i, p := range cloud.points {
		if !fn(i, p) {
			return
		}
	}
}
