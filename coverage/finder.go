// Package coverage sweeps a known occupancy map with an omnidirectional range
// sensor to find the surface a vehicle can observe, and the positions it must
// visit to observe it.
package coverage

import (
	"context"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/luruiwu/thesis/config"
	"github.com/luruiwu/thesis/octomap"
)

const angleStep = math.Pi / 8

// Result is the outcome of a coverage sweep: the surface cells observable from
// the waypoint list, stored as an occupancy map at the source map's resolution.
type Result struct {
	Covered   *octomap.Map
	Waypoints []r3.Vector
}

// Finder plans sensor positions over a bounding volume and raycasts from each
// to locate observable surfaces.
type Finder struct {
	m      *octomap.Map
	cfg    config.Coverage
	logger golog.Logger

	// minimum clearance between the vehicle center and any observed surface
	safetyOffset float64
}

// NewFinder returns a Finder sweeping the given map.
func NewFinder(m *octomap.Map, cfg config.Coverage, logger golog.Logger) (*Finder, error) {
	if m.Size() == 0 {
		return nil, errors.New("cannot plan coverage over an empty map")
	}
	return &Finder{
		m:            m,
		cfg:          cfg,
		logger:       logger,
		safetyOffset: cfg.SafetyOffset + cfg.UAVRadius,
	}, nil
}

// Run sweeps the map's bounding volume on a grid spaced at half the sensor
// range, raycasting in all directions from each grid position. Surface hits
// above the minimum obstacle height are inserted into the covered map, and
// each position that observed at least one reachable surface becomes a
// waypoint. Positions below the ground plane are never visited.
func (f *Finder) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	covered, err := octomap.New(f.m.Resolution())
	if err != nil {
		return nil, err
	}

	minBound, maxBound := f.m.Bounds()
	if minBound.Z < 0 {
		minBound.Z = 0
	}
	f.logger.Infof("sweeping bounds [%v, %v] at %.2fm steps", minBound, maxBound, 0.5*f.cfg.SensorRange)

	var waypoints []r3.Vector
	step := 0.5 * f.cfg.SensorRange
	for z := minBound.Z; z < maxBound.Z; z += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := minBound.X; x < maxBound.X; x += step {
			for y := minBound.Y; y < maxBound.Y; y += step {
				position := r3.Vector{X: x, Y: y, Z: z}
				if f.observeFrom(position, covered) {
					waypoints = append(waypoints, position)
				}
			}
		}
	}

	covered.Prune()
	f.logger.Infow("coverage sweep finished",
		"waypoints", len(waypoints),
		"coveredCells", covered.Size(),
		"took", time.Since(start))
	return &Result{Covered: covered, Waypoints: waypoints}, nil
}

// observeFrom raycasts the full sphere from one sensor position and reports
// whether any reachable surface was observed from it.
func (f *Finder) observeFrom(position r3.Vector, covered *octomap.Map) bool {
	observed := false
	for horizontal := -math.Pi; horizontal <= math.Pi; horizontal += angleStep {
		for vertical := -math.Pi; vertical <= math.Pi; vertical += angleStep {
			direction := r3.Vector{
				X: math.Cos(vertical) * math.Cos(horizontal),
				Y: math.Cos(vertical) * math.Sin(horizontal),
				Z: math.Sin(vertical),
			}
			hit, ok := f.m.CastRay(position, direction, f.cfg.SensorRange)
			if !ok {
				continue
			}
			// the floor is not a surface worth observing
			if hit.Z < f.cfg.MinObstacleHeight {
				continue
			}
			// a position this close to a surface cannot be flown to
			if !f.clearanceOK(position, hit) {
				continue
			}
			covered.InsertRay(position, hit, f.cfg.SensorRange)
			observed = true
		}
	}
	return observed
}

// clearanceOK reports whether the sensor position keeps the required per-axis
// clearance from an observed surface point.
func (f *Finder) clearanceOK(position, hit r3.Vector) bool {
	return math.Abs(hit.X-position.X) >= f.safetyOffset ||
		math.Abs(hit.Y-position.Y) >= f.safetyOffset ||
		math.Abs(hit.Z-position.Z) >= f.safetyOffset
}
