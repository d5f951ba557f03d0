package hotspot

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func labeledEvents() ([]Event, Labeling) {
	ts := func(i int) time.Time { return time.Date(2024, 3, 1, 0, i, 0, 0, time.UTC) }
	events := []Event{
		// Cluster 1: 3 members, one fatality.
		NewEvent("a1", ts(0), -37.80, 145.00, 1, 0, 0), // severity 10
		NewEvent("a2", ts(1), -37.81, 145.01, 0, 1, 0), // severity 2
		NewEvent("a3", ts(2), -37.82, 145.02, 0, 0, 1), // severity 1
		// Cluster 2: 4 members, no fatalities.
		NewEvent("b1", ts(3), -36.50, 144.00, 0, 2, 0), // severity 4
		NewEvent("b2", ts(4), -36.51, 144.01, 0, 1, 1), // severity 3
		NewEvent("b3", ts(5), -36.52, 144.02, 0, 1, 0), // severity 2
		NewEvent("b4", ts(6), -36.53, 144.03, 0, 0, 2), // severity 2
		// Noise.
		NewEvent("n1", ts(7), -35.00, 147.00, 0, 0, 1),
		// Small cluster 3: below min_cluster_size.
		NewEvent("c1", ts(8), -38.00, 146.00, 0, 1, 0),
		NewEvent("c2", ts(9), -38.01, 146.01, 0, 1, 0),
	}
	labeling := Labeling{
		Labels:      []int{1, 1, 1, 2, 2, 2, 2, 0, 3, 3},
		NumClusters: 3,
	}
	return events, labeling
}

func TestAggregateDropsNoiseAndSmallClusters(t *testing.T) {
	events, labeling := labeledEvents()
	summaries := Aggregate(events, labeling, AggregateOptions{MinClusterSize: 3})

	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	for _, s := range summaries {
		if s.ClusterID == 3 {
			t.Errorf("small cluster 3 should have been dropped")
		}
	}
}

// The union of summarised members, noise, and dropped-small-cluster members
// must equal the total event count.
func TestAggregateCompleteness(t *testing.T) {
	events, labeling := labeledEvents()
	minSize := 3
	summaries := Aggregate(events, labeling, AggregateOptions{MinClusterSize: minSize})

	summarised := 0
	for _, s := range summaries {
		summarised += s.Count
	}
	dropped := 0
	for _, members := range labeling.Members() {
		if len(members) < minSize {
			dropped += len(members)
		}
	}
	total := summarised + labeling.NoiseCount() + dropped
	if total != len(events) {
		t.Errorf("partition does not add up: %d summarised + %d noise + %d dropped != %d events",
			summarised, labeling.NoiseCount(), dropped, len(events))
	}
}

func TestAggregateRanksBySeverity(t *testing.T) {
	events, labeling := labeledEvents()
	summaries := Aggregate(events, labeling, AggregateOptions{MinClusterSize: 3})

	// Cluster 1 sums to 13, cluster 2 to 11.
	if summaries[0].ClusterID != 1 || summaries[1].ClusterID != 2 {
		t.Fatalf("expected cluster order [1 2], got [%d %d]", summaries[0].ClusterID, summaries[1].ClusterID)
	}
	if summaries[0].SeveritySum != 13 || summaries[1].SeveritySum != 11 {
		t.Errorf("unexpected severity sums: %v, %v", summaries[0].SeveritySum, summaries[1].SeveritySum)
	}
	if !VerifyRanks(summaries) {
		t.Errorf("ranks are not the gap-free sequence 1..K")
	}
}

func TestAggregateRankTotalityManyClusters(t *testing.T) {
	// Many clusters with identical severity and count exercise the full
	// tie-break chain down to centroid coordinates.
	var events []Event
	labels := []int{}
	for c := 0; c < 6; c++ {
		for i := 0; i < 3; i++ {
			events = append(events, NewEvent(
				string(rune('a'+c))+string(rune('0'+i)),
				time.Date(2024, 3, 1, 0, c, i, 0, time.UTC),
				-38.0+float64(c)*0.1,
				145.0,
				0, 1, 0,
			))
			labels = append(labels, c+1)
		}
	}
	labeling := Labeling{Labels: labels, NumClusters: 6}
	summaries := Aggregate(events, labeling, AggregateOptions{MinClusterSize: 1})

	if len(summaries) != 6 {
		t.Fatalf("expected 6 summaries, got %d", len(summaries))
	}
	if !VerifyRanks(summaries) {
		t.Fatalf("ranks are not 1..6")
	}
	// Equal severity and count: southernmost centroid first.
	for i := 1; i < len(summaries); i++ {
		if summaries[i-1].CentroidLat >= summaries[i].CentroidLat {
			t.Errorf("tie-break by latitude violated at rank %d", i+1)
		}
	}
}

func TestAggregateClusterStats(t *testing.T) {
	events, labeling := labeledEvents()
	summaries := Aggregate(events, labeling, AggregateOptions{MinClusterSize: 3})
	s := summaries[0] // cluster 1

	if s.Count != 3 {
		t.Errorf("expected count 3, got %d", s.Count)
	}
	if s.Fatalities != 1 {
		t.Errorf("expected 1 fatality, got %d", s.Fatalities)
	}
	if math.Abs(s.SeverityMean-13.0/3.0) > 1e-9 {
		t.Errorf("expected mean %v, got %v", 13.0/3.0, s.SeverityMean)
	}
	if math.Abs(s.CentroidLat-(-37.81)) > 1e-9 || math.Abs(s.CentroidLon-145.01) > 1e-9 {
		t.Errorf("unexpected centroid (%v, %v)", s.CentroidLat, s.CentroidLon)
	}
	if s.MinLat != -37.82 || s.MaxLat != -37.80 || s.MinLon != 145.00 || s.MaxLon != 145.02 {
		t.Errorf("unexpected bounding box: %+v", s)
	}
	if !s.FirstEvent.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first event time %v", s.FirstEvent)
	}
	if !s.LastEvent.Equal(time.Date(2024, 3, 1, 0, 2, 0, 0, time.UTC)) {
		t.Errorf("unexpected last event time %v", s.LastEvent)
	}
}

func TestAggregateRadiusUsesScaleFactors(t *testing.T) {
	events, labeling := labeledEvents()
	opts := AggregateOptions{MinClusterSize: 3, KmPerDegreeLat: 100, KmPerDegreeLon: 50}
	s := Aggregate(events, labeling, opts)[0]

	// Cluster 1 spans 0.02 degrees in both axes.
	want := 0.5 * math.Hypot(0.02*100, 0.02*50)
	if math.Abs(s.RadiusKm-want) > 1e-9 {
		t.Errorf("expected radius %v km, got %v", want, s.RadiusKm)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	events, labeling := labeledEvents()
	opts := AggregateOptions{MinClusterSize: 2}

	first := Aggregate(events, labeling, opts)
	second := Aggregate(events, labeling, opts)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("aggregation not deterministic (-first +second):\n%s", diff)
	}
}
