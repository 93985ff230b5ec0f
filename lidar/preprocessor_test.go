package lidar

import (
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestRangeFiltering(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pre := NewPreprocessor(0.05, 14, 0, logger)

	scan := &Scan{
		FrameID:        "laser",
		Stamp:          time.Now(),
		AngleMin:       0,
		AngleIncrement: math.Pi / 2,
		RangeMin:       0.05,
		Ranges:         []float64{0.02, 5.0, 15.0, 3.0},
	}

	obs := pre.Process(scan)
	test.That(t, obs.Cloud.Size(), test.ShouldEqual, 2)
	test.That(t, obs.Ranges, test.ShouldResemble, []float64{5.0, 3.0})

	// beam 1 at angle π/2: (0, 5); beam 3 at angle 3π/2: (0, -3)
	test.That(t, obs.Cloud.At(0).X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, obs.Cloud.At(0).Y, test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, obs.Cloud.At(1).X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, obs.Cloud.At(1).Y, test.ShouldAlmostEqual, -3, 1e-9)
}

func TestSensorMinimumWins(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pre := NewPreprocessor(0.05, 14, 0, logger)

	// the sensor's own minimum is stricter than the filter's
	scan := &Scan{
		RangeMin: 0.5,
		Ranges:   []float64{0.3, 0.6},
	}
	obs := pre.Process(scan)
	test.That(t, obs.Cloud.Size(), test.ShouldEqual, 1)
	test.That(t, obs.Ranges, test.ShouldResemble, []float64{0.6})
}

func TestDownsamplingKeepsAlignment(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pre := NewPreprocessor(0.05, 14, 0.2, logger)

	// a dense arc of beams all ~1m out; downsampling should collapse most of
	// them while keeping ranges aligned with retained points
	n := 100
	ranges := make([]float64, n)
	for i := range ranges {
		ranges[i] = 1.0
	}
	scan := &Scan{
		AngleMin:       -math.Pi / 4,
		AngleIncrement: (math.Pi / 2) / float64(n),
		RangeMin:       0.05,
		Ranges:         ranges,
	}

	obs := pre.Process(scan)
	test.That(t, obs.Cloud.Size(), test.ShouldBeLessThan, n/2)
	test.That(t, obs.Cloud.Size(), test.ShouldBeGreaterThan, 0)
	test.That(t, len(obs.Ranges), test.ShouldEqual, obs.Cloud.Size())
	for i := range obs.Ranges {
		// every retained range must equal the distance of its retained point
		test.That(t, obs.Cloud.At(i).Norm(), test.ShouldAlmostEqual, obs.Ranges[i], 1e-9)
	}
}

func TestNaNBeamsDropped(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pre := NewPreprocessor(0.05, 14, 0, logger)
	scan := &Scan{
		RangeMin: 0.05,
		Ranges:   []float64{math.NaN(), 1.0},
	}
	obs := pre.Process(scan)
	test.That(t, obs.Cloud.Size(), test.ShouldEqual, 1)
	test.That(t, obs.Ranges, test.ShouldResemble, []float64{1.0})
}
