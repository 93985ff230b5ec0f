package localization

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/luruiwu/thesis/referenceframe"
	"github.com/luruiwu/thesis/spatialmath"
)

// TransformEstimator re-broadcasts the current map-to-odometry correction on a
// fixed period so downstream consumers can interpolate vehicle pose in the map
// frame between fused updates. Each broadcast carries a validity window of one
// tolerance period; consumers must treat an expired, unrefreshed transform as
// stale and degrade accordingly.
type TransformEstimator struct {
	clk         clock.Clock
	tolerance   time.Duration
	mapFrame    string
	worldFrame  string
	broadcaster referenceframe.Broadcaster
	logger      golog.Logger

	mu            sync.Mutex
	correction    spatialmath.Pose
	hasCorrection bool

	cancelCtx               context.Context
	cancelFn                func()
	activeBackgroundWorkers sync.WaitGroup
	startOnce               sync.Once
}

// NewTransformEstimator returns an estimator broadcasting mapFrame->worldFrame
// corrections with the given tolerance window.
func NewTransformEstimator(
	clk clock.Clock,
	tolerance time.Duration,
	mapFrame, worldFrame string,
	broadcaster referenceframe.Broadcaster,
	logger golog.Logger,
) *TransformEstimator {
	cancelCtx, cancelFn := context.WithCancel(context.Background())
	return &TransformEstimator{
		clk:         clk,
		tolerance:   tolerance,
		mapFrame:    mapFrame,
		worldFrame:  worldFrame,
		broadcaster: broadcaster,
		logger:      logger,
		cancelCtx:   cancelCtx,
		cancelFn:    cancelFn,
	}
}

// Start launches the periodic re-broadcast loop.
func (te *TransformEstimator) Start() {
	te.startOnce.Do(func() {
		te.activeBackgroundWorkers.Add(1)
		goutils.ManagedGo(func() {
			ticker := te.clk.Ticker(te.tolerance)
			defer ticker.Stop()
			for {
				select {
				case <-te.cancelCtx.Done():
					return
				case <-ticker.C:
					te.broadcastLatest(te.clk.Now())
				}
			}
		}, te.activeBackgroundWorkers.Done)
	})
}

// Close stops the re-broadcast loop.
func (te *TransformEstimator) Close() {
	te.cancelFn()
	te.activeBackgroundWorkers.Wait()
}

// SetCorrection installs a freshly computed map->odometry correction and
// broadcasts it immediately, stamped at the fused update's time.
func (te *TransformEstimator) SetCorrection(correction spatialmath.Pose, stamp time.Time) {
	te.mu.Lock()
	te.correction = correction
	te.hasCorrection = true
	te.mu.Unlock()
	te.broadcastLatest(stamp)
}

// Correction returns the current correction, if any has been computed yet.
func (te *TransformEstimator) Correction() (spatialmath.Pose, bool) {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.correction, te.hasCorrection
}

func (te *TransformEstimator) broadcastLatest(stamp time.Time) {
	te.mu.Lock()
	correction, ok := te.correction, te.hasCorrection
	te.mu.Unlock()
	if !ok {
		return
	}
	te.broadcaster.SendTransform(referenceframe.TransformStamped{
		Parent:     te.mapFrame,
		Child:      te.worldFrame,
		Pose:       correction,
		Stamp:      stamp,
		ValidUntil: stamp.Add(te.tolerance),
	})
}
