package particlefilter

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/luruiwu/thesis/octomap"
)

// ErrInvalidDistribution is returned when a distribution cannot produce a valid
// sample within a bounded number of attempts.
var ErrInvalidDistribution = errors.New("distribution cannot produce a valid sample")

// maxSampleAttempts bounds how many times a distribution retries before failing.
const maxSampleAttempts = 100

// A StateDistribution produces independent pose samples. It is used only to
// (re)seed a particle set and is not retained afterward.
type StateDistribution interface {
	Sample() (State, error)
}

// GaussianDistribution samples each axis independently around a mean pose.
type GaussianDistribution struct {
	normals [6]distuv.Normal
}

// NewGaussianDistribution returns a distribution centered at mean with the
// given per-axis standard deviations.
func NewGaussianDistribution(mean State, stdDevs StdDevs, src rand.Source) *GaussianDistribution {
	mus := [6]float64{mean.X, mean.Y, mean.Z, mean.Roll, mean.Pitch, mean.Yaw}
	sigmas := [6]float64{stdDevs.X, stdDevs.Y, stdDevs.Z, stdDevs.Roll, stdDevs.Pitch, stdDevs.Yaw}

	dist := &GaussianDistribution{}
	for i := range dist.normals {
		dist.normals[i] = distuv.Normal{Mu: mus[i], Sigma: sigmas[i], Src: src}
	}
	return dist
}

// Sample draws one pose. Gaussian sampling cannot fail.
func (d *GaussianDistribution) Sample() (State, error) {
	return State{
		X:     d.normals[0].Rand(),
		Y:     d.normals[1].Rand(),
		Z:     d.normals[2].Rand(),
		Roll:  spatialWrap(d.normals[3].Rand()),
		Pitch: spatialWrap(d.normals[4].Rand()),
		Yaw:   spatialWrap(d.normals[5].Rand()),
	}, nil
}

// UniformFreeSpaceDistribution samples positions uniformly over the free cells
// of an occupancy map with a uniform heading, for global localization.
type UniformFreeSpaceDistribution struct {
	m         *octomap.Map
	freeCells []r3.Vector
	rnd       *rand.Rand
}

// NewUniformFreeSpaceDistribution enumerates the free cells of the map. It
// fails with ErrInvalidDistribution if the map records no free space.
func NewUniformFreeSpaceDistribution(m *octomap.Map, src rand.Source) (*UniformFreeSpaceDistribution, error) {
	cells := m.FreeCells()
	if len(cells) == 0 {
		return nil, errors.Wrap(ErrInvalidDistribution, "occupancy map has no free cells")
	}
	return &UniformFreeSpaceDistribution{m: m, freeCells: cells, rnd: rand.New(src)}, nil
}

// Sample draws a pose inside a random free cell with a uniform yaw. Roll and
// pitch are zero; the vehicle is assumed near-level when globally lost.
func (d *UniformFreeSpaceDistribution) Sample() (State, error) {
	res := d.m.Resolution()
	for attempt := 0; attempt < maxSampleAttempts; attempt++ {
		cell := d.freeCells[d.rnd.Intn(len(d.freeCells))]
		s := State{
			X:   cell.X + (d.rnd.Float64()-0.5)*res,
			Y:   cell.Y + (d.rnd.Float64()-0.5)*res,
			Z:   cell.Z + (d.rnd.Float64()-0.5)*res,
			Yaw: (d.rnd.Float64()*2 - 1) * math.Pi,
		}
		if d.m.IsFree(s.Pose().Point()) {
			return s, nil
		}
	}
	return State{}, errors.Wrapf(ErrInvalidDistribution,
		"no free sample found in %d attempts", maxSampleAttempts)
}

func spatialWrap(angle float64) float64 {
	for angle > math.Pi {
		angle -= 2 * math.Pi
	}
	for angle < -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}
