// Package particlefilter implements a sequential Monte Carlo estimator over
// 6-DOF vehicle poses: a weighted particle population with systematic
// resampling, an odometry-driven motion model, and a map-based observation model.
package particlefilter

import (
	"github.com/golang/geo/r3"

	"github.com/luruiwu/thesis/spatialmath"
)

// State is one hypothesized 6-DOF pose. It is a value type; operations produce
// new states rather than mutating in place.
type State struct {
	X     float64
	Y     float64
	Z     float64
	Roll  float64
	Pitch float64
	Yaw   float64
}

// Pose converts the state to a rigid transform.
func (s State) Pose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: s.X, Y: s.Y, Z: s.Z},
		&spatialmath.EulerAngles{Roll: s.Roll, Pitch: s.Pitch, Yaw: s.Yaw},
	)
}

// StateFromPose converts a rigid transform to a state.
func StateFromPose(p spatialmath.Pose) State {
	pt := p.Point()
	ea := p.EulerAngles()
	return State{X: pt.X, Y: pt.Y, Z: pt.Z, Roll: ea.Roll, Pitch: ea.Pitch, Yaw: ea.Yaw}
}

// StdDevs holds per-axis standard deviations for the six pose axes.
type StdDevs struct {
	X     float64
	Y     float64
	Z     float64
	Roll  float64
	Pitch float64
	Yaw   float64
}
