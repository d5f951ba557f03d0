package hotspot

// BatchResult is the outcome of a one-shot clustering run over a static
// dataset.
type BatchResult struct {
	Summaries []Summary `json:"summaries"`

	TotalEvents  int `json:"total_events"`
	NoiseCount   int `json:"noise_count"`
	DroppedSmall int `json:"dropped_small_clusters"`
	NumClusters  int `json:"num_clusters"`
}

// RunBatch runs a single DBSCAN plus aggregation pass with no windowing and
// no alerting. This is the degenerate case of the streaming tick: the same
// primitives over the whole dataset at once.
func RunBatch(events []Event, eps float64, minPts int, opts AggregateOptions) (BatchResult, error) {
	clusterer, err := NewDBSCANClusterer(eps, minPts)
	if err != nil {
		return BatchResult{}, err
	}

	labeling := clusterer.Cluster(events)
	summaries := Aggregate(events, labeling, opts)

	res := BatchResult{
		Summaries:   summaries,
		TotalEvents: len(events),
		NoiseCount:  labeling.NoiseCount(),
		NumClusters: labeling.NumClusters,
	}

	// Events in clusters below min_cluster_size are neither summarised nor
	// noise; account for them so the partition adds up.
	summarised := 0
	for _, s := range summaries {
		summarised += s.Count
	}
	res.DroppedSmall = len(events) - res.NoiseCount - summarised

	return res, nil
}
