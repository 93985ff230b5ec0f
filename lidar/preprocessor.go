package lidar

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/luruiwu/thesis/pointcloud"
)

// Preprocessor converts raw scans into Observations: it drops out-of-range
// beams, converts the rest from polar to Cartesian in the sensor frame, and
// spatially decorrelates the result so that downstream likelihood evaluation
// cost tracks the spatial extent of the scan rather than its beam density.
type Preprocessor struct {
	minRange       float64
	maxRange       float64
	sampleDistance float64
	logger         golog.Logger
}

// NewPreprocessor returns a preprocessor that keeps beams with range in
// [max(scan.RangeMin, minRange), maxRange] and downsamples retained points so
// no two are closer than sampleDistance.
func NewPreprocessor(minRange, maxRange, sampleDistance float64, logger golog.Logger) *Preprocessor {
	return &Preprocessor{
		minRange:       minRange,
		maxRange:       maxRange,
		sampleDistance: sampleDistance,
		logger:         logger,
	}
}

// Process turns a raw scan into an Observation.
func (p *Preprocessor) Process(scan *Scan) *Observation {
	laserMin := math.Max(scan.RangeMin, p.minRange)

	cloud := pointcloud.NewWithPrealloc(len(scan.Ranges))
	ranges := make([]float64, 0, len(scan.Ranges))
	skipped := 0
	for i, r := range scan.Ranges {
		if math.IsNaN(r) || r < laserMin || r > p.maxRange {
			skipped++
			continue
		}
		angle := scan.AngleMin + float64(i)*scan.AngleIncrement
		cloud.Add(r3.Vector{
			X: r * math.Cos(angle),
			Y: r * math.Sin(angle),
			Z: 0,
		})
		ranges = append(ranges, r)
	}

	sampled, indices := pointcloud.UniformSample(cloud, p.sampleDistance)
	sampledRanges := make([]float64, len(indices))
	for i, idx := range indices {
		sampledRanges[i] = ranges[idx]
	}

	p.logger.Debugf("scan subsampled: %d from %d (%d out of valid range)",
		sampled.Size(), cloud.Size(), skipped)

	return &Observation{
		FrameID: scan.FrameID,
		Stamp:   scan.Stamp,
		Cloud:   sampled,
		Ranges:  sampledRanges,
	}
}
