// Package lidar defines range-scan messages and the preprocessing that turns a
// raw scan into a compact observation usable by the localizer.
package lidar

import (
	"time"

	"github.com/luruiwu/thesis/pointcloud"
)

// Scan is one sweep of a scanning range sensor. Beam i has angle
// AngleMin + i*AngleIncrement (radians) and range Ranges[i].
type Scan struct {
	FrameID        string
	Stamp          time.Time
	AngleMin       float64
	AngleIncrement float64
	RangeMin       float64
	Ranges         []float64
}

// Observation is a processed scan: a point cloud in the sensor frame plus the
// measured range of each retained point, index-aligned with the cloud. It is
// produced once per accepted scan and consumed once.
type Observation struct {
	FrameID string
	Stamp   time.Time
	Cloud   *pointcloud.PointCloud
	Ranges  []float64
}
