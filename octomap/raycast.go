package octomap

import (
	"github.com/golang/geo/r3"
)

// CastRay walks from origin along direction until it hits a known occupied cell
// or exceeds maxRange. It returns the center of the hit cell and whether a hit
// occurred. The direction need not be normalized.
func (m *Map) CastRay(origin, direction r3.Vector, maxRange float64) (r3.Vector, bool) {
	norm := direction.Norm()
	if norm == 0 || maxRange <= 0 {
		return r3.Vector{}, false
	}
	step := direction.Mul(m.resolution / (2 * norm))
	stepLen := m.resolution / 2

	pos := origin
	startKey := m.KeyAt(origin)
	for traveled := 0.0; traveled <= maxRange; traveled += stepLen {
		key := m.KeyAt(pos)
		if key != startKey {
			if occ, known := m.cells[key]; known && occ {
				return m.CellCenter(key), true
			}
		}
		pos = pos.Add(step)
	}
	return r3.Vector{}, false
}

// InsertRay marks every cell between origin and end as free and the cell at end
// as occupied, truncating the ray at maxRange.
func (m *Map) InsertRay(origin, end r3.Vector, maxRange float64) {
	diff := end.Sub(origin)
	dist := diff.Norm()
	if dist == 0 {
		m.SetOccupied(end)
		return
	}
	if maxRange > 0 && dist > maxRange {
		end = origin.Add(diff.Mul(maxRange / dist))
		dist = maxRange
	}

	step := diff.Mul(m.resolution / (2 * dist))
	stepLen := m.resolution / 2
	endKey := m.KeyAt(end)

	pos := origin
	for traveled := 0.0; traveled < dist; traveled += stepLen {
		if m.KeyAt(pos) == endKey {
			break
		}
		m.SetFree(pos)
		pos = pos.Add(step)
	}
	m.SetOccupied(end)
}
