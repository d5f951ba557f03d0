package hotspot

import "fmt"

// NoiseLabel is the reserved cluster id for points that are reachable by no
// core point.
const NoiseLabel = 0

// Labeling is the outcome of one clustering pass. Labels is parallel to the
// input event slice: NoiseLabel for noise, 1..NumClusters for membership.
// Cluster ids are pass-local; there is no id stability guarantee across
// passes (membership is deterministic, numbering is processing-order
// dependent).
type Labeling struct {
	Labels      []int
	NumClusters int
}

// DBSCANClusterer runs density-based clustering over an event snapshot.
// Every pass re-clusters from scratch; the full re-cluster per tick is the
// documented scalability ceiling of this engine, not an accident.
type DBSCANClusterer struct {
	eps    float64
	minPts int
}

// NewDBSCANClusterer validates the density parameters and returns a
// clusterer. eps is in degrees, matching the event coordinate space.
func NewDBSCANClusterer(eps float64, minPts int) (*DBSCANClusterer, error) {
	if eps <= 0 {
		return nil, fmt.Errorf("%w: eps must be positive, got %v", ErrInvalidParameter, eps)
	}
	if minPts <= 0 {
		return nil, fmt.Errorf("%w: min_points must be positive, got %d", ErrInvalidParameter, minPts)
	}
	return &DBSCANClusterer{eps: eps, minPts: minPts}, nil
}

// Params returns the configured eps and min_points.
func (c *DBSCANClusterer) Params() (eps float64, minPts int) {
	return c.eps, c.minPts
}

// Cluster labels the given events. A point is core if it has at least
// min_points neighbors (itself included) within eps; clusters grow by
// transitively connecting core points and absorbing their border neighbors.
// Points are processed in input order and neighbor expansion visits indices
// ascending, so a fixed input always yields an identical labeling.
func (c *DBSCANClusterer) Cluster(events []Event) Labeling {
	n := len(events)
	if n == 0 {
		return Labeling{}
	}

	// 0 = unvisited, -1 = noise, >0 = cluster id.
	labels := make([]int, n)
	clusterID := 0

	si := BuildSpatialIndex(events, c.eps)

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}

		neighbors := si.Neighbors(i, c.eps)
		if len(neighbors) < c.minPts {
			labels[i] = -1
			continue
		}

		clusterID++
		expandCluster(si, labels, i, neighbors, clusterID, c.eps, c.minPts)
	}

	// Collapse the internal noise marker onto the reserved label.
	for i, l := range labels {
		if l < 0 {
			labels[i] = NoiseLabel
		}
	}

	return Labeling{Labels: labels, NumClusters: clusterID}
}

// expandCluster grows a cluster from a core point using a queue of neighbor
// indices. Border points (fewer than minPts neighbors) join the cluster but
// contribute no further expansion.
func expandCluster(si *SpatialIndex, labels []int, seed int, neighbors []int, clusterID int, eps float64, minPts int) {
	labels[seed] = clusterID

	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]

		if labels[idx] == -1 {
			labels[idx] = clusterID // noise becomes a border point
		}
		if labels[idx] != 0 {
			continue
		}

		labels[idx] = clusterID
		next := si.Neighbors(idx, eps)
		if len(next) >= minPts {
			neighbors = append(neighbors, next...)
		}
	}
}

// NoiseCount returns the number of points labeled noise.
func (l Labeling) NoiseCount() int {
	n := 0
	for _, label := range l.Labels {
		if label == NoiseLabel {
			n++
		}
	}
	return n
}

// Members returns the event indices of each cluster, keyed 1..NumClusters.
// Indices are ascending because labels are scanned in input order.
func (l Labeling) Members() map[int][]int {
	members := make(map[int][]int, l.NumClusters)
	for i, label := range l.Labels {
		if label != NoiseLabel {
			members[label] = append(members[label], i)
		}
	}
	return members
}
