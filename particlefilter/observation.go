package particlefilter

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/luruiwu/thesis/octomap"
	"github.com/luruiwu/thesis/pointcloud"
	"github.com/luruiwu/thesis/spatialmath"
)

// Per-beam endpoint probabilities against the map. Known-occupied endpoints are
// likely true returns; known-free endpoints contradict the map; unknown space
// is only mildly informative.
const (
	probHit     = 0.85
	probMiss    = 0.05
	probUnknown = 0.25
)

// ObservationModel scores a candidate pose by how consistent the processed
// laser returns are with the occupancy map as seen from that pose. The observed
// measurements are swappable per scan without reconstructing the filter.
type ObservationModel struct {
	m            *octomap.Map
	baseToSensor spatialmath.Pose
	cloud        *pointcloud.PointCloud
	ranges       []float64
	logger       golog.Logger
}

// NewObservationModel returns an observation model over the given map.
func NewObservationModel(m *octomap.Map, logger golog.Logger) *ObservationModel {
	return &ObservationModel{
		m:            m,
		baseToSensor: spatialmath.NewZeroPose(),
		logger:       logger,
	}
}

// SetBaseToSensorTransform sets the pose of the sensor frame in the vehicle
// base frame, used to project returns from particle poses into the map frame.
func (om *ObservationModel) SetBaseToSensorTransform(p spatialmath.Pose) {
	om.baseToSensor = p
}

// SetObservedMeasurements installs the processed observation for the next
// weighting step: a point cloud in the sensor frame and the measured range of
// each point, index-aligned.
func (om *ObservationModel) SetObservedMeasurements(cloud *pointcloud.PointCloud, ranges []float64) error {
	if cloud.Size() != len(ranges) {
		return errors.Errorf("cloud and ranges must be index-aligned: %d points vs %d ranges",
			cloud.Size(), len(ranges))
	}
	om.cloud = cloud
	om.ranges = ranges
	return nil
}

// LogLikelihood scores the candidate state against the installed measurements,
// returning the sum of per-point log probabilities. Staying in log space keeps
// scans with many returns from underflowing; ParticleSet.ReweightLog
// exponentiates after shifting by the population maximum.
func (om *ObservationModel) LogLikelihood(s State) float64 {
	if om.cloud == nil || om.cloud.Size() == 0 {
		return 0
	}

	sensorPose := spatialmath.Compose(s.Pose(), om.baseToSensor)
	origin := sensorPose.Point()
	logLik := 0.0
	om.cloud.Iterate(func(i int, pt r3.Vector) bool {
		r := om.ranges[i]
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return true
		}
		endpoint := sensorPose.TransformPoint(pt)
		occupied, known := om.m.At(endpoint)
		switch {
		case occupied:
			// a return this far is only plausible if the beam was not
			// already blocked halfway to the endpoint
			mid := origin.Add(endpoint.Sub(origin).Mul(0.5))
			if om.m.IsOccupied(mid) {
				logLik += math.Log(probMiss)
			} else {
				logLik += math.Log(probHit)
			}
		case known:
			logLik += math.Log(probMiss)
		default:
			logLik += math.Log(probUnknown)
		}
		return true
	})
	return logLik
}
