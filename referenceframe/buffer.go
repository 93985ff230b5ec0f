package referenceframe

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/luruiwu/thesis/spatialmath"
)

// ErrTransformUnavailable is returned when a requested frame chain cannot be
// resolved at the requested time.
var ErrTransformUnavailable = errors.New("transform unavailable")

type frameKey struct {
	parent, child string
}

// Buffer holds the latest transform per frame pair and resolves lookups between
// any two frames connected through the stored tree. It is safe for concurrent use.
type Buffer struct {
	mu         sync.RWMutex
	transforms map[frameKey]TransformStamped
	parents    map[string]string // child -> parent edges
	tolerance  time.Duration
}

// NewBuffer returns an empty buffer whose lookups accept transforms stamped
// within the given tolerance of the requested time.
func NewBuffer(tolerance time.Duration) *Buffer {
	return &Buffer{
		transforms: map[frameKey]TransformStamped{},
		parents:    map[string]string{},
		tolerance:  tolerance,
	}
}

// SetTransform stores the transform, replacing any previous one for the same
// frame pair.
func (b *Buffer) SetTransform(ts TransformStamped) error {
	if ts.Parent == "" || ts.Child == "" || ts.Parent == ts.Child {
		return errors.Errorf("invalid frame pair %q -> %q", ts.Parent, ts.Child)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transforms[frameKey{ts.Parent, ts.Child}] = ts
	b.parents[ts.Child] = ts.Parent
	return nil
}

// SendTransform implements Broadcaster by storing the transform in the buffer.
func (b *Buffer) SendTransform(ts TransformStamped) {
	//nolint:errcheck
	b.SetTransform(ts)
}

// LookupTransform resolves the pose of child in parent at time t. Both frames
// must be connected to a common ancestor through stored transforms, and every
// edge on the chain must be valid at t within the buffer's tolerance. It fails
// fast with an error wrapping ErrTransformUnavailable; it never waits for data.
func (b *Buffer) LookupTransform(parent, child string, t time.Time) (spatialmath.Pose, error) {
	if parent == child {
		return spatialmath.NewZeroPose(), nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	parentChain, err := b.chainToRoot(parent)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	childChain, err := b.chainToRoot(child)
	if err != nil {
		return spatialmath.Pose{}, err
	}

	common := ""
	for frame := range parentChain {
		if _, ok := childChain[frame]; ok {
			common = frame
			break
		}
	}
	if common == "" {
		return spatialmath.Pose{}, errors.Wrapf(ErrTransformUnavailable,
			"frames %q and %q share no common ancestor", parent, child)
	}

	// pose of child in parent = (common->parent)^-1 ⊕ (common->child)
	commonToParent, err := b.poseFromAncestor(common, parent, t)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	commonToChild, err := b.poseFromAncestor(common, child, t)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.Compose(spatialmath.PoseInverse(commonToParent), commonToChild), nil
}

// chainToRoot returns the set of ancestors of frame (including itself), walking
// stored child->parent edges. Assumes b.mu is held.
func (b *Buffer) chainToRoot(frame string) (map[string]struct{}, error) {
	ancestors := map[string]struct{}{frame: {}}
	current := frame
	for {
		parent, ok := b.parents[current]
		if !ok {
			return ancestors, nil
		}
		if _, seen := ancestors[parent]; seen {
			return nil, errors.Wrapf(ErrTransformUnavailable, "frame cycle through %q", parent)
		}
		ancestors[parent] = struct{}{}
		current = parent
	}
}

// poseFromAncestor composes the chain ancestor -> ... -> frame. Assumes b.mu is held.
func (b *Buffer) poseFromAncestor(ancestor, frame string, t time.Time) (spatialmath.Pose, error) {
	if ancestor == frame {
		return spatialmath.NewZeroPose(), nil
	}

	// collect edges frame -> ancestor, then compose top-down
	var chain []TransformStamped
	current := frame
	for current != ancestor {
		parent, ok := b.parents[current]
		if !ok {
			return spatialmath.Pose{}, errors.Wrapf(ErrTransformUnavailable,
				"no parent stored for frame %q", current)
		}
		ts, ok := b.transforms[frameKey{parent, current}]
		if !ok {
			return spatialmath.Pose{}, errors.Wrapf(ErrTransformUnavailable,
				"no transform stored for %q -> %q", parent, current)
		}
		if !ts.Valid(t, b.tolerance) {
			return spatialmath.Pose{}, errors.Wrapf(ErrTransformUnavailable,
				"transform %q -> %q stamped %v cannot serve lookup at %v",
				parent, current, ts.Stamp, t)
		}
		chain = append(chain, ts)
		current = parent
	}

	pose := spatialmath.NewZeroPose()
	for i := len(chain) - 1; i >= 0; i-- {
		pose = spatialmath.Compose(pose, chain[i].Pose)
	}
	return pose, nil
}
