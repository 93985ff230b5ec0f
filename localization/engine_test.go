package localization

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/luruiwu/thesis/config"
	"github.com/luruiwu/thesis/lidar"
	"github.com/luruiwu/thesis/octomap"
	"github.com/luruiwu/thesis/referenceframe"
	"github.com/luruiwu/thesis/spatialmath"
)

type mockPublisher struct {
	mu         sync.Mutex
	poses      []PoseStamped
	arrays     []PoseArray
	cloudCount int
}

func (p *mockPublisher) PublishPose(ps PoseStamped) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.poses = append(p.poses, ps)
}

func (p *mockPublisher) PublishParticles(pa PoseArray) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arrays = append(p.arrays, pa)
}

func (p *mockPublisher) PublishFilteredCloud(*lidar.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cloudCount++
}

func (p *mockPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.poses), p.cloudCount
}

func (p *mockPublisher) lastPose(t *testing.T) PoseStamped {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	test.That(t, len(p.poses), test.ShouldBeGreaterThan, 0)
	return p.poses[len(p.poses)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// corridorMap has free space around the origin and a wall plane at x=2.
func corridorMap(t *testing.T) *octomap.Map {
	t.Helper()
	m, err := octomap.New(0.1)
	test.That(t, err, test.ShouldBeNil)
	for y := -2.0; y <= 2.0; y += 0.05 {
		for z := -1.0; z <= 1.0; z += 0.05 {
			m.SetOccupied(r3.Vector{X: 2, Y: y, Z: z})
		}
	}
	for x := -1.5; x < 1.9; x += 0.05 {
		for y := -1.5; y <= 1.5; y += 0.05 {
			m.SetFree(r3.Vector{X: x, Y: y, Z: 0})
		}
	}
	return m
}

type testWorld struct {
	engine *Engine
	buffer *referenceframe.Buffer
	pub    *mockPublisher
	cfg    config.Config
	t0     time.Time
}

func newTestWorld(t *testing.T, withOdometry bool) *testWorld {
	t.Helper()
	logger := golog.NewTestLogger(t)

	cfg := config.Default()
	cfg.Localization.NumParticles = 300

	m := corridorMap(t)
	buffer := referenceframe.NewBuffer(time.Second)
	pub := &mockPublisher{}
	t0 := time.Now()

	if withOdometry {
		setOdometry(t, buffer, cfg, spatialmath.NewZeroPose(), t0)
	}
	// static sensor mounting
	test.That(t, buffer.SetTransform(referenceframe.TransformStamped{
		Parent: cfg.Frames.BaseLink, Child: "laser",
		Pose:  spatialmath.NewZeroPose(),
		Stamp: t0, ValidUntil: t0.Add(time.Hour),
	}), test.ShouldBeNil)

	engine := NewEngine(cfg, m, buffer, buffer, pub, clock.NewMock(), logger)
	engine.Start()
	t.Cleanup(func() {
		test.That(t, engine.Close(), test.ShouldBeNil)
	})
	return &testWorld{engine: engine, buffer: buffer, pub: pub, cfg: cfg, t0: t0}
}

func setOdometry(t *testing.T, buffer *referenceframe.Buffer, cfg config.Config, pose spatialmath.Pose, stamp time.Time) {
	t.Helper()
	test.That(t, buffer.SetTransform(referenceframe.TransformStamped{
		Parent: cfg.Frames.World, Child: cfg.Frames.BaseFootprint,
		Pose: pose, Stamp: stamp,
	}), test.ShouldBeNil)
}

func wallScan(stamp time.Time, rangeToWall float64) *lidar.Scan {
	return &lidar.Scan{
		FrameID:        "laser",
		Stamp:          stamp,
		AngleMin:       0,
		AngleIncrement: 0.01,
		RangeMin:       0.05,
		Ranges:         []float64{rangeToWall},
	}
}

func TestEndToEndStationaryVehicle(t *testing.T) {
	w := newTestWorld(t, true)
	ctx := context.Background()

	err := w.engine.InitializeFromPose(ctx, spatialmath.NewZeroPose(), w.t0)
	test.That(t, err, test.ShouldBeNil)

	// initialization publishes immediately
	poseCount, _ := w.pub.counts()
	test.That(t, poseCount, test.ShouldEqual, 1)

	w.engine.HandleScan(wallScan(w.t0, 2.0))
	waitFor(t, "fused scan publish", func() bool {
		n, clouds := w.pub.counts()
		return n >= 2 && clouds >= 1
	})

	est, ok := w.engine.CurrentEstimate()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, est.FrameID, test.ShouldEqual, w.cfg.Frames.Map)
	// vehicle has not moved: the estimate stays within 3 sigma of the origin
	sigma := w.cfg.Localization.Movement.X
	test.That(t, est.Pose.TranslationNorm(), test.ShouldBeLessThan, 3*sigma*math.Sqrt(3))

	// the particle snapshot matches the population size
	w.pub.mu.Lock()
	lastArray := w.pub.arrays[len(w.pub.arrays)-1]
	w.pub.mu.Unlock()
	test.That(t, len(lastArray.Poses), test.ShouldEqual, 300)

	// a fused update computed a map correction
	_, hasCorrection := w.engine.Estimator().Correction()
	test.That(t, hasCorrection, test.ShouldBeTrue)
}

func TestMotionThresholdGate(t *testing.T) {
	w := newTestWorld(t, true)
	ctx := context.Background()

	test.That(t, w.engine.InitializeFromPose(ctx, spatialmath.NewZeroPose(), w.t0), test.ShouldBeNil)

	// first scan after initialization always fuses
	w.engine.HandleScan(wallScan(w.t0, 2.0))
	waitFor(t, "first fusion", func() bool {
		_, clouds := w.pub.counts()
		return clouds == 1
	})

	// two small motions below both thresholds: drift only, no further fusion
	for i, dx := range []float64{0.1, 0.2} {
		stamp := w.t0.Add(time.Duration(i+1) * 100 * time.Millisecond)
		setOdometry(t, w.buffer, w.cfg, spatialmath.NewPoseFromPoint(r3.Vector{X: dx}), stamp)
		before, _ := w.pub.counts()
		w.engine.HandleScan(wallScan(stamp, 2.0-dx))
		waitFor(t, "drift publish", func() bool {
			n, _ := w.pub.counts()
			return n > before
		})
		_, clouds := w.pub.counts()
		test.That(t, clouds, test.ShouldEqual, 1)
	}

	// motion beyond the translation threshold fuses again
	stamp := w.t0.Add(300 * time.Millisecond)
	setOdometry(t, w.buffer, w.cfg, spatialmath.NewPoseFromPoint(r3.Vector{X: 0.5}), stamp)
	w.engine.HandleScan(wallScan(stamp, 1.5))
	waitFor(t, "second fusion", func() bool {
		_, clouds := w.pub.counts()
		return clouds == 2
	})

	// pure rotation beyond the rotation threshold also fuses
	stamp = w.t0.Add(400 * time.Millisecond)
	setOdometry(t, w.buffer, w.cfg, spatialmath.NewPose(
		r3.Vector{X: 0.5}, &spatialmath.EulerAngles{Yaw: 0.5}), stamp)
	w.engine.HandleScan(wallScan(stamp, 2.0))
	waitFor(t, "rotation fusion", func() bool {
		_, clouds := w.pub.counts()
		return clouds == 3
	})
}

func TestScanBeforeInitializationDropped(t *testing.T) {
	w := newTestWorld(t, true)

	w.engine.HandleScan(wallScan(w.t0, 2.0))
	time.Sleep(50 * time.Millisecond)
	poseCount, cloudCount := w.pub.counts()
	test.That(t, poseCount, test.ShouldEqual, 0)
	test.That(t, cloudCount, test.ShouldEqual, 0)
}

func TestStaleScanDropped(t *testing.T) {
	w := newTestWorld(t, true)
	ctx := context.Background()

	test.That(t, w.engine.InitializeFromPose(ctx, spatialmath.NewZeroPose(), w.t0), test.ShouldBeNil)
	w.engine.HandleScan(wallScan(w.t0, 2.0))
	waitFor(t, "first publish", func() bool {
		n, _ := w.pub.counts()
		return n >= 2
	})

	before, _ := w.pub.counts()
	w.engine.HandleScan(wallScan(w.t0.Add(-time.Second), 2.0))
	time.Sleep(50 * time.Millisecond)
	after, _ := w.pub.counts()
	test.That(t, after, test.ShouldEqual, before)
}

func TestNoOdometrySkipsScan(t *testing.T) {
	w := newTestWorld(t, false)
	ctx := context.Background()

	test.That(t, w.engine.InitializeFromPose(ctx, spatialmath.NewZeroPose(), w.t0), test.ShouldBeNil)
	poseCount, _ := w.pub.counts()

	w.engine.HandleScan(wallScan(w.t0, 2.0))
	time.Sleep(50 * time.Millisecond)
	after, clouds := w.pub.counts()
	test.That(t, after, test.ShouldEqual, poseCount)
	test.That(t, clouds, test.ShouldEqual, 0)
}

func TestGlobalLocalizationImmediateScan(t *testing.T) {
	w := newTestWorld(t, true)
	ctx := context.Background()

	test.That(t, w.engine.GlobalLocalization(ctx), test.ShouldBeNil)
	poseCount, _ := w.pub.counts()
	test.That(t, poseCount, test.ShouldEqual, 1)

	// a scan arriving before any motion must still produce some estimate
	w.engine.HandleScan(wallScan(w.t0, 2.0))
	waitFor(t, "post-global-localization publish", func() bool {
		n, _ := w.pub.counts()
		return n >= 2
	})
	test.That(t, w.pub.lastPose(t).FrameID, test.ShouldEqual, w.cfg.Frames.Map)
}

func TestReinitializationResetsTracking(t *testing.T) {
	w := newTestWorld(t, true)
	ctx := context.Background()

	test.That(t, w.engine.InitializeFromPose(ctx, spatialmath.NewZeroPose(), w.t0), test.ShouldBeNil)
	w.engine.HandleScan(wallScan(w.t0, 2.0))
	waitFor(t, "first fusion", func() bool {
		_, clouds := w.pub.counts()
		return clouds == 1
	})

	// re-seeding makes the next scan fuse again regardless of motion
	test.That(t, w.engine.InitializeFromPose(ctx,
		spatialmath.NewPoseFromPoint(r3.Vector{X: 0.2}), w.t0.Add(time.Second)), test.ShouldBeNil)
	stamp := w.t0.Add(1100 * time.Millisecond)
	setOdometry(t, w.buffer, w.cfg, spatialmath.NewZeroPose(), stamp)
	w.engine.HandleScan(wallScan(stamp, 2.0))
	waitFor(t, "post-reinit fusion", func() bool {
		_, clouds := w.pub.counts()
		return clouds == 2
	})
}

func TestInitializeFromConfig(t *testing.T) {
	w := newTestWorld(t, true)
	ctx := context.Background()

	test.That(t, w.engine.InitializeFromConfig(ctx), test.ShouldBeNil)
	est, ok := w.engine.CurrentEstimate()
	test.That(t, ok, test.ShouldBeTrue)
	// configured initial pose defaults to the origin
	test.That(t, est.Pose.TranslationNorm(), test.ShouldBeLessThan, 1.5)
}
