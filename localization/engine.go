package localization

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/exp/rand"

	"github.com/luruiwu/thesis/config"
	"github.com/luruiwu/thesis/lidar"
	"github.com/luruiwu/thesis/octomap"
	"github.com/luruiwu/thesis/particlefilter"
	"github.com/luruiwu/thesis/referenceframe"
	"github.com/luruiwu/thesis/spatialmath"
)

const scanQueueSize = 100

type initRequest struct {
	dist  particlefilter.StateDistribution
	stamp time.Time
	reply chan error
}

// Engine is the localization state machine. It starts uninitialized, rejecting
// scans, and transitions to tracking on any initialization event. All particle
// set mutation happens on a single goroutine fed by channels, so scan updates,
// initialization events, and estimate reads never interleave.
type Engine struct {
	cfg    config.Config
	logger golog.Logger

	m         *octomap.Map
	buffer    *referenceframe.Buffer
	pub       Publisher
	pre       *lidar.Preprocessor
	mm        *particlefilter.MotionModel
	om        *particlefilter.ObservationModel
	estimator *TransformEstimator
	rnd       *rand.Rand

	// owned by the run loop
	set               *particlefilter.ParticleSet
	initialized       bool
	firstRun          bool
	lastScanTime      time.Time
	haveScanTime      bool
	lastLocalizedPose spatialmath.Pose

	scanCh chan *lidar.Scan
	initCh chan initRequest

	estMu       sync.RWMutex
	estimate    PoseStamped
	hasEstimate bool

	cancelCtx               context.Context
	cancelFn                func()
	activeBackgroundWorkers sync.WaitGroup
	startOnce               sync.Once
}

// NewEngine wires up the localization engine. The engine does not process
// anything until Start is called and an initialization entry point succeeds.
func NewEngine(
	cfg config.Config,
	m *octomap.Map,
	buffer *referenceframe.Buffer,
	broadcaster referenceframe.Broadcaster,
	pub Publisher,
	clk clock.Clock,
	logger golog.Logger,
) *Engine {
	cancelCtx, cancelFn := context.WithCancel(context.Background())
	rnd := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))

	loc := cfg.Localization
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		m:      m,
		buffer: buffer,
		pub:    pub,
		pre:    lidar.NewPreprocessor(loc.MinRange, loc.MaxRange, loc.SensorSampleDistance, logger),
		om:     particlefilter.NewObservationModel(m, logger),
		rnd:    rnd,

		scanCh:    make(chan *lidar.Scan, scanQueueSize),
		initCh:    make(chan initRequest),
		cancelCtx: cancelCtx,
		cancelFn:  cancelFn,
	}
	e.mm = particlefilter.NewMotionModel(
		buffer, cfg.Frames.World, cfg.Frames.BaseFootprint, noiseStdDevs(loc.Movement), rnd, logger)
	e.estimator = NewTransformEstimator(
		clk, loc.TransformTolerance(), cfg.Frames.Map, cfg.Frames.World, broadcaster, logger)
	return e
}

func noiseStdDevs(sd config.StdDevs) particlefilter.StdDevs {
	return particlefilter.StdDevs{
		X: sd.X, Y: sd.Y, Z: sd.Z,
		Roll: sd.Roll, Pitch: sd.Pitch, Yaw: sd.Yaw,
	}
}

// Start launches the run loop and the periodic transform re-broadcast.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.activeBackgroundWorkers.Add(1)
		goutils.ManagedGo(e.runLoop, e.activeBackgroundWorkers.Done)
		e.estimator.Start()
	})
}

// Close stops all background work and waits for it to finish.
func (e *Engine) Close() error {
	e.cancelFn()
	e.estimator.Close()
	e.activeBackgroundWorkers.Wait()
	return nil
}

func (e *Engine) runLoop() {
	for {
		select {
		case <-e.cancelCtx.Done():
			return
		case req := <-e.initCh:
			req.reply <- e.handleInit(req)
		case scan := <-e.scanCh:
			if err := e.processScan(scan); err != nil {
				e.logger.Warnw("skipping scan", "error", err)
			}
		}
	}
}

// HandleScan enqueues a scan for processing. It never blocks; if the engine
// cannot keep up, the scan is dropped with a warning.
func (e *Engine) HandleScan(scan *lidar.Scan) {
	select {
	case e.scanCh <- scan:
	default:
		e.logger.Warn("scan queue full, dropping scan")
	}
}

// InitializeFromPose seeds the particle set with a Gaussian distribution
// centered at the given pose, using the configured per-axis std-devs.
func (e *Engine) InitializeFromPose(ctx context.Context, pose spatialmath.Pose, stamp time.Time) error {
	mean := particlefilter.StateFromPose(pose)
	pt := pose.Point()
	ea := pose.EulerAngles()
	e.logger.Infof("set pose position around (x: %f, y: %f, z: %f)", pt.X, pt.Y, pt.Z)
	e.logger.Infof("set pose orientation around (roll: %f, pitch: %f, yaw: %f)", ea.Roll, ea.Pitch, ea.Yaw)

	dist := particlefilter.NewGaussianDistribution(mean, noiseStdDevs(e.cfg.Localization.Movement), e.rnd)
	return e.requestInit(ctx, dist, stamp)
}

// InitializeFromConfig seeds the particle set with a Gaussian distribution
// centered at the statically configured initial pose.
func (e *Engine) InitializeFromConfig(ctx context.Context) error {
	e.logger.Info("initializing position from configured parameters")
	ip := e.cfg.Localization.InitialPose
	mean := particlefilter.State{X: ip.X, Y: ip.Y, Z: ip.Z, Roll: ip.Roll, Pitch: ip.Pitch, Yaw: ip.Yaw}
	dist := particlefilter.NewGaussianDistribution(mean, noiseStdDevs(e.cfg.Localization.Movement), e.rnd)
	return e.requestInit(ctx, dist, time.Now())
}

// GlobalLocalization re-seeds the particle set uniformly over the free cells of
// the occupancy map.
func (e *Engine) GlobalLocalization(ctx context.Context) error {
	e.logger.Info("initializing global localization with uniform distribution")
	dist, err := particlefilter.NewUniformFreeSpaceDistribution(e.m, e.rnd)
	if err != nil {
		return err
	}
	return e.requestInit(ctx, dist, time.Now())
}

func (e *Engine) requestInit(ctx context.Context, dist particlefilter.StateDistribution, stamp time.Time) error {
	req := initRequest{dist: dist, stamp: stamp, reply: make(chan error, 1)}
	select {
	case e.initCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.cancelCtx.Done():
		return errors.New("engine closed")
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.cancelCtx.Done():
		return errors.New("engine closed")
	}
}

func (e *Engine) handleInit(req initRequest) error {
	if e.set == nil {
		set, err := particlefilter.NewParticleSet(e.cfg.Localization.NumParticles, req.dist, e.rnd)
		if err != nil {
			return err
		}
		e.set = set
	} else if err := e.set.Reinitialize(req.dist); err != nil {
		return err
	}

	e.mm.Reset()
	e.initialized = true
	e.firstRun = true
	e.haveScanTime = false
	e.logger.Infof("particle filter initialized with %d particles", e.set.Size())
	e.publishPoseEstimate(req.stamp)
	return nil
}

// CurrentEstimate returns the latest published best-pose estimate.
func (e *Engine) CurrentEstimate() (PoseStamped, bool) {
	e.estMu.RLock()
	defer e.estMu.RUnlock()
	return e.estimate, e.hasEstimate
}

// Estimator exposes the transform estimator, for consumers of the correction.
func (e *Engine) Estimator() *TransformEstimator {
	return e.estimator
}

func (e *Engine) processScan(scan *lidar.Scan) error {
	if !e.initialized {
		return errors.Wrap(ErrNotInitialized, "call an initialization entry point first")
	}
	if e.haveScanTime && scan.Stamp.Before(e.lastScanTime) {
		return errors.Wrapf(ErrStaleScan,
			"scan is %v older than previous data", e.lastScanTime.Sub(scan.Stamp))
	}

	odomPose, err := e.mm.LookupOdomPose(scan.Stamp)
	if err != nil {
		return err
	}

	// the first scan after initialization always fuses; afterward fusion is
	// gated on actual motion since the last fused update
	var fuseErr error
	if e.firstRun || e.isAboveMotionThreshold(odomPose) {
		if fuseErr = e.fuseScan(scan, odomPose); fuseErr == nil {
			e.lastLocalizedPose = odomPose
		}
	} else if _, lastStamp, ok := e.mm.LastOdomPose(); ok {
		dt := scan.Stamp.Sub(lastStamp).Seconds()
		e.set.Predict(func(s particlefilter.State) particlefilter.State {
			return e.mm.Drift(s, dt)
		})
	}

	e.advanceBookkeeping(scan, odomPose)
	if fuseErr == nil && !e.cfg.Localization.PublishUpdated {
		e.publishPoseEstimate(scan.Stamp)
	}
	return fuseErr
}

// advanceBookkeeping records the odometry pose and scan time. This happens for
// every accepted scan regardless of whether it was fused, so the next delta
// computation starts from the freshest odometry.
func (e *Engine) advanceBookkeeping(scan *lidar.Scan, odomPose spatialmath.Pose) {
	e.mm.SetLastOdomPose(odomPose, scan.Stamp)
	e.firstRun = false
	e.lastScanTime = scan.Stamp
	e.haveScanTime = true
}

func (e *Engine) fuseScan(scan *lidar.Scan, odomPose spatialmath.Pose) error {
	start := time.Now()

	if lastOdom, lastStamp, ok := e.mm.LastOdomPose(); ok {
		delta := spatialmath.PoseBetween(lastOdom, odomPose)
		dt := scan.Stamp.Sub(lastStamp).Seconds()
		e.set.Predict(func(s particlefilter.State) particlefilter.State {
			return e.mm.Predict(s, delta, dt)
		})
	}

	obs := e.pre.Process(scan)

	baseToSensor, err := e.buffer.LookupTransform(e.cfg.Frames.BaseLink, scan.FrameID, scan.Stamp)
	if err != nil {
		return err
	}

	e.pub.PublishFilteredCloud(obs)

	e.om.SetBaseToSensorTransform(baseToSensor)
	if err := e.om.SetObservedMeasurements(obs.Cloud, obs.Ranges); err != nil {
		return err
	}

	if err := e.set.ReweightLog(e.om.LogLikelihood); err != nil {
		if errors.Is(err, particlefilter.ErrWeightCollapse) {
			// keep prior weights and skip resampling for this scan
			e.logger.Warn("sensor model rejected all particles, keeping prior weights")
		} else {
			return err
		}
	} else {
		e.set.ResampleIfNeeded()
	}

	if e.cfg.Localization.PublishUpdated {
		e.publishPoseEstimate(scan.Stamp)
	}
	e.logger.Debugf("scan fused in %v", time.Since(start))
	return nil
}

// isAboveMotionThreshold reports whether the vehicle moved or rotated beyond
// the configured thresholds since the last fused update.
func (e *Engine) isAboveMotionThreshold(odomPose spatialmath.Pose) bool {
	delta := spatialmath.PoseBetween(e.lastLocalizedPose, odomPose)
	yaw := delta.EulerAngles().Yaw
	return delta.TranslationNorm() >= e.cfg.Localization.ObservationThresholdTranslation ||
		math.Abs(yaw) >= e.cfg.Localization.ObservationThresholdRotation
}

func (e *Engine) publishPoseEstimate(stamp time.Time) {
	particles := e.set.Snapshot()
	poses := particlesToPoses(particles)

	e.pub.PublishParticles(PoseArray{FrameID: e.cfg.Frames.Map, Stamp: stamp, Poses: poses})

	bestPose := e.set.Estimate().Pose()
	best := PoseStamped{FrameID: e.cfg.Frames.Map, Stamp: stamp, Pose: bestPose}
	e.pub.PublishPose(best)

	e.estMu.Lock()
	e.estimate = best
	e.hasEstimate = true
	e.estMu.Unlock()

	// refresh the map->odometry correction from the best particle; if the
	// odometry chain cannot be resolved the previous correction stays in
	// effect until it expires past its tolerance window
	worldToBase, err := e.buffer.LookupTransform(e.cfg.Frames.World, e.cfg.Frames.BaseFootprint, stamp)
	if err != nil {
		e.logger.Warnw("failed to resolve odometry chain, not refreshing map correction", "error", err)
		return
	}
	correction := spatialmath.Compose(bestPose, spatialmath.PoseInverse(worldToBase))
	e.estimator.SetCorrection(correction, stamp)
}

// particlesToPoses converts a population snapshot to poses. The per-particle
// conversions are independent, so the work is split across workers writing to
// disjoint output slots.
func particlesToPoses(particles []particlefilter.Particle) []spatialmath.Pose {
	poses := make([]spatialmath.Pose, len(particles))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(particles) {
		workers = len(particles)
	}
	if workers <= 1 {
		for i := range particles {
			poses[i] = particles[i].State.Pose()
		}
		return poses
	}

	chunk := (len(particles) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(particles); start += chunk {
		end := start + chunk
		if end > len(particles) {
			end = len(particles)
		}
		start, end := start, end
		wg.Add(1)
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				poses[i] = particles[i].State.Pose()
			}
		})
	}
	wg.Wait()
	return poses
}
