package particlefilter

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// ErrWeightCollapse is returned when the sensor model rejects every particle,
// leaving no weight to normalize. The caller decides whether to keep prior
// weights or reinitialize.
var ErrWeightCollapse = errors.New("all particle weights collapsed to zero")

// Particle is one pose hypothesis with a non-negative weight. Identity is
// positional: a particle is referred to by its index in the set.
type Particle struct {
	State  State
	Weight float64
}

// ParticleSet is an ordered, fixed-size population of weighted particles.
// Weights sum to 1 after every weighting or resampling step. It is not safe for
// concurrent use; a single goroutine must own all mutation.
type ParticleSet struct {
	particles     []Particle
	scratch       []float64
	bestIndex     int
	lastWeighting time.Time
	rnd           *rand.Rand
}

// NewParticleSet draws n independent samples from the given distribution with
// uniform weights.
func NewParticleSet(n int, dist StateDistribution, src rand.Source) (*ParticleSet, error) {
	if n < 1 {
		return nil, errors.Errorf("particle count must be at least 1, got %d", n)
	}
	ps := &ParticleSet{
		particles: make([]Particle, n),
		scratch:   make([]float64, n),
		rnd:       rand.New(src),
	}
	if err := ps.Reinitialize(dist); err != nil {
		return nil, err
	}
	return ps, nil
}

// Reinitialize re-seeds the population in place from the distribution and
// resets weights to uniform. On failure the previous population is untouched.
func (ps *ParticleSet) Reinitialize(dist StateDistribution) error {
	n := len(ps.particles)
	fresh := make([]State, n)
	for i := range fresh {
		s, err := dist.Sample()
		if err != nil {
			return err
		}
		fresh[i] = s
	}

	weight := 1.0 / float64(n)
	for i := range ps.particles {
		ps.particles[i] = Particle{State: fresh[i], Weight: weight}
	}
	ps.bestIndex = 0
	ps.lastWeighting = time.Time{}
	return nil
}

// Size returns the number of particles, fixed for the lifetime of the set.
func (ps *ParticleSet) Size() int {
	return len(ps.particles)
}

// Particle returns the particle at the given index.
func (ps *ParticleSet) Particle(i int) Particle {
	return ps.particles[i]
}

// Predict applies the given state transition to every particle independently.
// Weights are untouched.
func (ps *ParticleSet) Predict(transition func(State) State) {
	for i := range ps.particles {
		ps.particles[i].State = transition(ps.particles[i].State)
	}
}

// Reweight multiplies each particle's weight by the likelihood of its state and
// renormalizes. If the total unnormalized weight is numerically zero, it fails
// with ErrWeightCollapse and leaves all weights unchanged.
func (ps *ParticleSet) Reweight(likelihood func(State) float64) error {
	total := 0.0
	for i := range ps.particles {
		w := ps.particles[i].Weight * likelihood(ps.particles[i].State)
		ps.scratch[i] = w
		total += w
	}
	return ps.commitScratchWeights(total)
}

// ReweightLog is Reweight for likelihoods scored in log space. Scores are
// shifted by their maximum before exponentiation, so long products of
// per-measurement probabilities cannot underflow the whole population to zero;
// the shift is a constant factor absorbed by renormalization.
func (ps *ParticleSet) ReweightLog(logLikelihood func(State) float64) error {
	maxLog := math.Inf(-1)
	for i := range ps.particles {
		l := logLikelihood(ps.particles[i].State)
		ps.scratch[i] = l
		if l > maxLog {
			maxLog = l
		}
	}
	if math.IsInf(maxLog, -1) {
		return ErrWeightCollapse
	}

	total := 0.0
	for i := range ps.particles {
		w := ps.particles[i].Weight * math.Exp(ps.scratch[i]-maxLog)
		ps.scratch[i] = w
		total += w
	}
	return ps.commitScratchWeights(total)
}

func (ps *ParticleSet) commitScratchWeights(total float64) error {
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return ErrWeightCollapse
	}
	best := 0
	for i := range ps.particles {
		ps.particles[i].Weight = ps.scratch[i] / total
		if ps.particles[i].Weight > ps.particles[best].Weight {
			best = i
		}
	}
	ps.bestIndex = best
	ps.lastWeighting = time.Now()
	return nil
}

// LastWeighting returns when the set was last reweighted against sensor data,
// or the zero time if it has not been since (re)initialization.
func (ps *ParticleSet) LastWeighting() time.Time {
	return ps.lastWeighting
}

// EffectiveSampleSize returns 1/Σ(w²), a measure of population diversity in
// [1, N]. N means uniform weights; 1 means a single particle holds all weight.
func (ps *ParticleSet) EffectiveSampleSize() float64 {
	sumSq := 0.0
	for i := range ps.particles {
		sumSq += ps.particles[i].Weight * ps.particles[i].Weight
	}
	if sumSq == 0 {
		return 0
	}
	return 1 / sumSq
}

// ResampleIfNeeded performs systematic resampling only if the effective sample
// size has fallen below half the population, and reports whether it resampled.
// Resampling on Neff rather than on every step bounds the variance injected by
// resampling when the population is already well concentrated.
func (ps *ParticleSet) ResampleIfNeeded() bool {
	if ps.EffectiveSampleSize() >= float64(len(ps.particles))/2 {
		return false
	}
	ps.resample()
	return true
}

// resample performs systematic (low-variance) resampling: N ordered sample
// points spaced 1/N apart with a single random offset, walking the
// cumulative-weight staircase once. Weights are reset to uniform afterward.
func (ps *ParticleSet) resample() {
	n := len(ps.particles)
	for i := range ps.particles {
		ps.scratch[i] = ps.particles[i].Weight
	}
	cum := make([]float64, n)
	floats.CumSum(cum, ps.scratch)

	step := 1.0 / float64(n)
	offset := ps.rnd.Float64() * step

	selected := make([]Particle, n)
	j := 0
	for i := 0; i < n; i++ {
		target := offset + float64(i)*step
		for j < n-1 && cum[j] < target {
			j++
		}
		selected[i] = Particle{State: ps.particles[j].State, Weight: step}
	}
	ps.particles = selected
	ps.bestIndex = 0
}

// BestParticle returns the maximum-weight particle. This is a mode estimate,
// not an MMSE estimate; selecting the single best hypothesis is a deliberate
// design choice, kept from the reference behavior.
func (ps *ParticleSet) BestParticle() Particle {
	return ps.particles[ps.bestIndex]
}

// Estimate returns the best particle's state as the point estimate of the pose.
func (ps *ParticleSet) Estimate() State {
	return ps.BestParticle().State
}

// Snapshot copies the current population, for publication outside the owning
// goroutine.
func (ps *ParticleSet) Snapshot() []Particle {
	out := make([]Particle, len(ps.particles))
	copy(out, ps.particles)
	return out
}
