package particlefilter

import (
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/luruiwu/thesis/referenceframe"
	"github.com/luruiwu/thesis/spatialmath"
)

// ErrPoseUnavailable is returned when no odometry pose can be resolved for a
// requested time. The caller must skip the step rather than predict with stale data.
var ErrPoseUnavailable = errors.New("odometry pose unavailable")

// MotionModel turns relative odometry into a stochastic prediction for each
// particle, modeling unmodeled drift as independent Gaussian noise on each of
// the six pose axes. Noise variance grows with elapsed time so that particles
// diffuse during periods with no sensor correction.
type MotionModel struct {
	buffer     *referenceframe.Buffer
	worldFrame string
	baseFrame  string
	stdDevs    StdDevs
	unit       distuv.Normal
	logger     golog.Logger

	lastOdomPose  spatialmath.Pose
	lastOdomStamp time.Time
	hasOdom       bool
}

// NewMotionModel returns a motion model that resolves odometry poses from the
// given transform buffer as the pose of baseFrame in worldFrame.
func NewMotionModel(
	buffer *referenceframe.Buffer,
	worldFrame, baseFrame string,
	stdDevs StdDevs,
	src rand.Source,
	logger golog.Logger,
) *MotionModel {
	return &MotionModel{
		buffer:     buffer,
		worldFrame: worldFrame,
		baseFrame:  baseFrame,
		stdDevs:    stdDevs,
		unit:       distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		logger:     logger,
	}
}

// LookupOdomPose resolves the odometry pose at the given time.
func (mm *MotionModel) LookupOdomPose(t time.Time) (spatialmath.Pose, error) {
	pose, err := mm.buffer.LookupTransform(mm.worldFrame, mm.baseFrame, t)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(ErrPoseUnavailable, "%s", err)
	}
	return pose, nil
}

// LastOdomPose returns the last recorded odometry pose and its stamp. The third
// return is false until odometry has been recorded at least once.
func (mm *MotionModel) LastOdomPose() (spatialmath.Pose, time.Time, bool) {
	return mm.lastOdomPose, mm.lastOdomStamp, mm.hasOdom
}

// SetLastOdomPose records the odometry pose bookkeeping for the next delta
// computation. This always advances, regardless of whether a scan was fused.
func (mm *MotionModel) SetLastOdomPose(pose spatialmath.Pose, stamp time.Time) {
	mm.lastOdomPose = pose
	mm.lastOdomStamp = stamp
	mm.hasOdom = true
}

// Reset clears odometry bookkeeping, for use on (re)initialization.
func (mm *MotionModel) Reset() {
	mm.lastOdomPose = spatialmath.Pose{}
	mm.lastOdomStamp = time.Time{}
	mm.hasOdom = false
}

// Predict composes the state with the odometry delta and perturbs each axis
// with Gaussian noise scaled by the elapsed time.
func (mm *MotionModel) Predict(s State, delta spatialmath.Pose, dt float64) State {
	return mm.perturb(StateFromPose(spatialmath.Compose(s.Pose(), delta)), dt)
}

// Drift grows motion uncertainty with no odometry correction, for steps where a
// scan is intentionally not fused. Time accounting always advances; the noise
// scale reflects the full elapsed interval.
func (mm *MotionModel) Drift(s State, dt float64) State {
	return mm.perturb(s, dt)
}

func (mm *MotionModel) perturb(s State, dt float64) State {
	if dt < 0 {
		dt = 0
	}
	scale := math.Sqrt(dt)
	return State{
		X:     s.X + mm.unit.Rand()*mm.stdDevs.X*scale,
		Y:     s.Y + mm.unit.Rand()*mm.stdDevs.Y*scale,
		Z:     s.Z + mm.unit.Rand()*mm.stdDevs.Z*scale,
		Roll:  spatialWrap(s.Roll + mm.unit.Rand()*mm.stdDevs.Roll*scale),
		Pitch: spatialWrap(s.Pitch + mm.unit.Rand()*mm.stdDevs.Pitch*scale),
		Yaw:   spatialWrap(s.Yaw + mm.unit.Rand()*mm.stdDevs.Yaw*scale),
	}
}
