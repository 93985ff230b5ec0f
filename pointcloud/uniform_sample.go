package pointcloud

import "github.com/golang/geo/r3"

// UniformSample spatially decorrelates a cloud: it greedily retains points in
// insertion order such that no two retained points are closer than radius, and
// returns the retained cloud together with the original indices of the retained
// points so that parallel per-point data can be filtered to match.
//
// The size of the output depends on the spatial extent of the input, not its
// density, which bounds downstream per-point work even for very dense inputs.
func UniformSample(cloud *PointCloud, radius float64) (*PointCloud, []int) {
	if radius <= 0 {
		indices := make([]int, cloud.Size())
		for i := range indices {
			indices[i] = i
		}
		return cloud, indices
	}

	radiusSq := radius * radius
	sampled := NewWithPrealloc(cloud.Size())
	indices := make([]int, 0, cloud.Size())
	cloud.Iterate(func(i int, p r3.Vector) bool {
		for _, kept := range sampled.points {
			if kept.Sub(p).Norm2() < radiusSq {
				return true
			}
		}
		sampled.Add(p)
		indices = append(indices, i)
		return true
	})
	return sampled, indices
}
