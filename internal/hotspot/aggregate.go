package hotspot

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Degree-to-kilometre scale factors used to convert bounding boxes into an
// approximate linear radius. Longitude degrees shrink with latitude, so the
// pair is asymmetric. Defaults approximate the south-eastern Australia road
// network the crash feed covers; deployments elsewhere override them in
// configuration.
const (
	DefaultKmPerDegreeLat = 111.2
	DefaultKmPerDegreeLon = 88.8
)

// AggregateOptions controls cluster summarisation.
type AggregateOptions struct {
	// MinClusterSize drops clusters with fewer members entirely: they are
	// neither summarised nor counted toward alerts.
	MinClusterSize int

	// Degree-to-km scale factors for the radius approximation. Zero values
	// fall back to the defaults.
	KmPerDegreeLat float64
	KmPerDegreeLon float64
}

// Summary is a read-only snapshot of one retained cluster. Cluster ids are
// pass-local; the alert table derives its own stable keys from the centroid.
type Summary struct {
	ClusterID int `json:"cluster_id"`
	Rank      int `json:"rank"`

	Count        int     `json:"count"`
	SeveritySum  float64 `json:"severity_sum"`
	SeverityMean float64 `json:"severity_mean"`
	SeverityP95  float64 `json:"severity_p95"`
	Fatalities   int     `json:"fatalities"`

	// Arithmetic-mean centroid. Deliberately not a geodesic centroid: at
	// hotspot scale (hundreds of metres) the error is negligible.
	CentroidLat float64 `json:"centroid_lat"`
	CentroidLon float64 `json:"centroid_lon"`

	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`

	// RadiusKm is half the bounding-box diagonal after degree-to-km scaling.
	RadiusKm float64 `json:"radius_km"`

	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
}

// Aggregate summarises the clusters in a labeling and ranks them descending
// by total severity (ties: member count descending, centroid latitude
// ascending, then centroid longitude ascending so the order is total).
// Ranks are assigned 1..K with no gaps.
func Aggregate(events []Event, labeling Labeling, opts AggregateOptions) []Summary {
	kmLat := opts.KmPerDegreeLat
	if kmLat == 0 {
		kmLat = DefaultKmPerDegreeLat
	}
	kmLon := opts.KmPerDegreeLon
	if kmLon == 0 {
		kmLon = DefaultKmPerDegreeLon
	}

	members := labeling.Members()

	// Iterate cluster ids in order so the pre-rank slice is deterministic.
	summaries := make([]Summary, 0, len(members))
	for cid := 1; cid <= labeling.NumClusters; cid++ {
		idxs := members[cid]
		if len(idxs) < opts.MinClusterSize || len(idxs) == 0 {
			continue
		}
		summaries = append(summaries, summariseCluster(events, idxs, cid, kmLat, kmLon))
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.SeveritySum != b.SeveritySum {
			return a.SeveritySum > b.SeveritySum
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.CentroidLat != b.CentroidLat {
			return a.CentroidLat < b.CentroidLat
		}
		return a.CentroidLon < b.CentroidLon
	})
	for i := range summaries {
		summaries[i].Rank = i + 1
	}

	return summaries
}

func summariseCluster(events []Event, idxs []int, clusterID int, kmLat, kmLon float64) Summary {
	first := events[idxs[0]]
	s := Summary{
		ClusterID:  clusterID,
		Count:      len(idxs),
		MinLat:     first.Lat,
		MaxLat:     first.Lat,
		MinLon:     first.Lon,
		MaxLon:     first.Lon,
		FirstEvent: first.Timestamp,
		LastEvent:  first.Timestamp,
	}

	var sumLat, sumLon float64
	severities := make([]float64, 0, len(idxs))

	for _, i := range idxs {
		e := events[i]
		sumLat += e.Lat
		sumLon += e.Lon
		severities = append(severities, e.Severity)
		s.SeveritySum += e.Severity
		s.Fatalities += e.Killed

		s.MinLat = math.Min(s.MinLat, e.Lat)
		s.MaxLat = math.Max(s.MaxLat, e.Lat)
		s.MinLon = math.Min(s.MinLon, e.Lon)
		s.MaxLon = math.Max(s.MaxLon, e.Lon)
		if e.Timestamp.Before(s.FirstEvent) {
			s.FirstEvent = e.Timestamp
		}
		if e.Timestamp.After(s.LastEvent) {
			s.LastEvent = e.Timestamp
		}
	}

	n := float64(len(idxs))
	s.CentroidLat = sumLat / n
	s.CentroidLon = sumLon / n

	s.SeverityMean = stat.Mean(severities, nil)
	sort.Float64s(severities)
	s.SeverityP95 = stat.Quantile(0.95, stat.Empirical, severities, nil)

	dLatKm := (s.MaxLat - s.MinLat) * kmLat
	dLonKm := (s.MaxLon - s.MinLon) * kmLon
	s.RadiusKm = 0.5 * math.Hypot(dLatKm, dLonKm)

	return s
}

// VerifyRanks checks the rank totality invariant: ranks must be exactly
// 1..K in order. A violation is a programming error, reported as state
// corruption by the engine.
func VerifyRanks(summaries []Summary) bool {
	for i, s := range summaries {
		if s.Rank != i+1 {
			return false
		}
	}
	return true
}
