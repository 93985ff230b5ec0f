package octomap

import (
	"bytes"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestOccupancyQueries(t *testing.T) {
	m, err := New(0.1)
	test.That(t, err, test.ShouldBeNil)

	m.SetOccupied(r3.Vector{X: 1, Y: 0, Z: 0})
	m.SetFree(r3.Vector{X: 0.5, Y: 0, Z: 0})

	test.That(t, m.IsOccupied(r3.Vector{X: 1.01, Y: 0.01, Z: 0.01}), test.ShouldBeTrue)
	test.That(t, m.IsFree(r3.Vector{X: 0.51, Y: 0.01, Z: 0.01}), test.ShouldBeTrue)

	// unknown space is neither occupied nor free
	test.That(t, m.IsOccupied(r3.Vector{X: -5, Y: -5, Z: -5}), test.ShouldBeFalse)
	test.That(t, m.IsFree(r3.Vector{X: -5, Y: -5, Z: -5}), test.ShouldBeFalse)

	// a free observation never downgrades an occupied cell
	m.SetFree(r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, m.IsOccupied(r3.Vector{X: 1, Y: 0, Z: 0}), test.ShouldBeTrue)
}

func TestInvalidResolution(t *testing.T) {
	_, err := New(0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCastRay(t *testing.T) {
	m, err := New(0.1)
	test.That(t, err, test.ShouldBeNil)

	// wall at x=2 across y
	for y := -1.0; y <= 1.0; y += 0.05 {
		m.SetOccupied(r3.Vector{X: 2, Y: y, Z: 0})
	}

	hit, ok := m.CastRay(r3.Vector{}, r3.Vector{X: 1}, 5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, hit.X, test.ShouldAlmostEqual, 2.05, 1e-9)

	_, ok = m.CastRay(r3.Vector{}, r3.Vector{X: -1}, 5)
	test.That(t, ok, test.ShouldBeFalse)

	// range too short to reach the wall
	_, ok = m.CastRay(r3.Vector{}, r3.Vector{X: 1}, 1)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestInsertRayAndPrune(t *testing.T) {
	m, err := New(0.1)
	test.That(t, err, test.ShouldBeNil)

	m.InsertRay(r3.Vector{}, r3.Vector{X: 1, Y: 0, Z: 0}, 5)
	test.That(t, m.IsOccupied(r3.Vector{X: 1, Y: 0, Z: 0}), test.ShouldBeTrue)
	test.That(t, m.IsFree(r3.Vector{X: 0.5, Y: 0, Z: 0}), test.ShouldBeTrue)
	test.That(t, len(m.FreeCells()), test.ShouldBeGreaterThan, 0)

	m.Prune()
	test.That(t, len(m.FreeCells()), test.ShouldEqual, 0)
	test.That(t, m.IsOccupied(r3.Vector{X: 1, Y: 0, Z: 0}), test.ShouldBeTrue)
}

func TestFileRoundTrip(t *testing.T) {
	m, err := New(0.2)
	test.That(t, err, test.ShouldBeNil)
	m.SetOccupied(r3.Vector{X: 1, Y: 2, Z: 3})
	m.SetFree(r3.Vector{X: 0, Y: 0, Z: 0})

	var buf bytes.Buffer
	test.That(t, m.WriteTo(&buf), test.ShouldBeNil)

	loaded, err := ReadFrom(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Resolution(), test.ShouldEqual, 0.2)
	test.That(t, loaded.Size(), test.ShouldEqual, m.Size())
	test.That(t, loaded.IsOccupied(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldBeTrue)
	test.That(t, loaded.IsFree(r3.Vector{X: 0, Y: 0, Z: 0}), test.ShouldBeTrue)
}

func TestLoaderRejectsGarbage(t *testing.T) {
	_, err := ReadFrom(bytes.NewBufferString("definitely not a map"))
	test.That(t, errors.Is(err, ErrBadFormat), test.ShouldBeTrue)

	_, err = ReadFrom(bytes.NewBuffer(nil))
	test.That(t, errors.Is(err, ErrBadFormat), test.ShouldBeTrue)
}
