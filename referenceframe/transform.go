// Package referenceframe tracks stamped rigid transforms between named frames.
//
// It provides the small slice of tf-style functionality the localizer needs: a
// buffer of the latest transform per frame pair, tolerance-bounded lookups at a
// requested time, chained lookups through intermediate frames, and a broadcast
// interface for publishing corrections with an explicit validity window.
package referenceframe

import (
	"time"

	"github.com/luruiwu/thesis/spatialmath"
)

// TransformStamped is the pose of Child expressed in Parent at a moment in time.
// ValidUntil, when nonzero, extends the time window for which the transform may
// be used for interpolation by downstream consumers.
type TransformStamped struct {
	Parent     string
	Child      string
	Pose       spatialmath.Pose
	Stamp      time.Time
	ValidUntil time.Time
}

// Valid reports whether the transform can serve a lookup at time t within the
// given tolerance.
func (ts *TransformStamped) Valid(t time.Time, tolerance time.Duration) bool {
	if !ts.ValidUntil.IsZero() && !t.After(ts.ValidUntil) {
		return true
	}
	diff := t.Sub(ts.Stamp)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// A Broadcaster publishes stamped transforms to downstream consumers.
type Broadcaster interface {
	SendTransform(ts TransformStamped)
}
