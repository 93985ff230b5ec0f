// Package octomap implements a voxel occupancy map of known 3D space.
//
// Cells are cubes of a fixed resolution. A cell is either occupied, free, or
// unknown (never observed). The map supports the queries a Monte Carlo localizer
// needs: per-point occupancy, free-space enumeration for global initialization,
// and ray casting for coverage analysis.
package octomap

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// CellKey identifies a voxel by its integer grid coordinates.
type CellKey struct {
	X, Y, Z int32
}

// Map is a voxel occupancy map. It is not safe for concurrent mutation; build it
// once (or load it from a file) and share it read-only afterward.
type Map struct {
	resolution float64
	cells      map[CellKey]bool // value is whether the cell is occupied
	meta       metaBounds
}

type metaBounds struct {
	min, max r3.Vector
	valid    bool
}

// New returns an empty map with the given cell resolution.
func New(resolution float64) (*Map, error) {
	if resolution <= 0 {
		return nil, errors.Errorf("invalid resolution %.3f for occupancy map", resolution)
	}
	return &Map{
		resolution: resolution,
		cells:      map[CellKey]bool{},
	}, nil
}

// Resolution returns the edge length of one voxel.
func (m *Map) Resolution() float64 {
	return m.resolution
}

// Size returns the number of known (occupied or free) cells.
func (m *Map) Size() int {
	return len(m.cells)
}

// Bounds returns the metric min and max corners covered by known cells.
func (m *Map) Bounds() (r3.Vector, r3.Vector) {
	if !m.meta.valid {
		return r3.Vector{}, r3.Vector{}
	}
	half := m.resolution / 2
	return m.meta.min.Sub(r3.Vector{X: half, Y: half, Z: half}),
		m.meta.max.Add(r3.Vector{X: half, Y: half, Z: half})
}

// KeyAt returns the voxel key containing the given point.
func (m *Map) KeyAt(p r3.Vector) CellKey {
	return CellKey{
		X: int32(math.Floor(p.X / m.resolution)),
		Y: int32(math.Floor(p.Y / m.resolution)),
		Z: int32(math.Floor(p.Z / m.resolution)),
	}
}

// CellCenter returns the metric center of the given voxel.
func (m *Map) CellCenter(k CellKey) r3.Vector {
	return r3.Vector{
		X: (float64(k.X) + 0.5) * m.resolution,
		Y: (float64(k.Y) + 0.5) * m.resolution,
		Z: (float64(k.Z) + 0.5) * m.resolution,
	}
}

// SetOccupied marks the cell containing p as occupied.
func (m *Map) SetOccupied(p r3.Vector) {
	m.setCell(m.KeyAt(p), true)
}

// SetFree marks the cell containing p as free.
func (m *Map) SetFree(p r3.Vector) {
	k := m.KeyAt(p)
	// an occupied observation wins over a free one
	if occ, known := m.cells[k]; known && occ {
		return
	}
	m.setCell(k, false)
}

func (m *Map) setCell(k CellKey, occupied bool) {
	m.cells[k] = occupied
	center := m.CellCenter(k)
	if !m.meta.valid {
		m.meta = metaBounds{min: center, max: center, valid: true}
		return
	}
	m.meta.min = r3.Vector{
		X: math.Min(m.meta.min.X, center.X),
		Y: math.Min(m.meta.min.Y, center.Y),
		Z: math.Min(m.meta.min.Z, center.Z),
	}
	m.meta.max = r3.Vector{
		X: math.Max(m.meta.max.X, center.X),
		Y: math.Max(m.meta.max.Y, center.Y),
		Z: math.Max(m.meta.max.Z, center.Z),
	}
}

// At reports whether the cell containing p is occupied and whether it is known at all.
func (m *Map) At(p r3.Vector) (occupied, known bool) {
	occupied, known = m.cells[m.KeyAt(p)]
	return occupied, known
}

// IsOccupied reports whether the cell containing p is known occupied.
func (m *Map) IsOccupied(p r3.Vector) bool {
	occ, known := m.At(p)
	return known && occ
}

// IsFree reports whether the cell containing p is known free.
func (m *Map) IsFree(p r3.Vector) bool {
	occ, known := m.At(p)
	return known && !occ
}

// FreeCells returns the metric centers of all known free cells. The order is
// unspecified; callers sampling from it should pick indices at random.
func (m *Map) FreeCells() []r3.Vector {
	free := make([]r3.Vector, 0, len(m.cells))
	for k, occ := range m.cells {
		if !occ {
			free = append(free, m.CellCenter(k))
		}
	}
	return free
}

// Iterate calls fn for every known cell until fn returns false.
func (m *Map) Iterate(fn func(center r3.Vector, occupied bool) bool) {
	for k, occ := range m.cells {
		if !fn(m.CellCenter(k), occ) {
			return
		}
	}
}

// Prune drops all free cells, keeping only the occupied surface. Useful to
// compact a map built incrementally with InsertRay before writing it out.
func (m *Map) Prune() {
	for k, occ := range m.cells {
		if !occ {
			delete(m.cells, k)
		}
	}
}
