// Package localization orchestrates Monte Carlo localization: it owns the
// particle population, drives prediction and correction from incoming scans,
// gates sensor fusion on actual vehicle motion, and publishes a time-valid
// map correction usable by a downstream control stack.
package localization

import (
	"time"

	"github.com/pkg/errors"

	"github.com/luruiwu/thesis/lidar"
	"github.com/luruiwu/thesis/spatialmath"
)

// ErrNotInitialized is returned for scans arriving before any initialization.
var ErrNotInitialized = errors.New("localization not initialized")

// ErrStaleScan is returned for scans older than the last processed scan.
var ErrStaleScan = errors.New("scan is older than previously processed data")

// PoseStamped is a pose in a named frame at a moment in time.
type PoseStamped struct {
	FrameID string
	Stamp   time.Time
	Pose    spatialmath.Pose
}

// PoseArray is the full particle population expressed as poses in a named
// frame, for visualization and debugging.
type PoseArray struct {
	FrameID string
	Stamp   time.Time
	Poses   []spatialmath.Pose
}

// A Publisher receives the engine's outputs. Implementations must be safe for
// use from the engine's goroutines and should not block.
type Publisher interface {
	PublishPose(p PoseStamped)
	PublishParticles(pa PoseArray)
	PublishFilteredCloud(obs *lidar.Observation)
}
