package hotspot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arterial-data/hotspot.report/internal/geo"
)

// AlertKind distinguishes first-time hotspots from re-observations of a known
// one.
type AlertKind string

const (
	AlertNew        AlertKind = "NEW"
	AlertContinuing AlertKind = "CONTINUING"
)

// RecordState is the lifecycle state of an alert-table entry. Removal is
// implicit: a record past its grace period is deleted from the table.
type RecordState string

const (
	RecordActive   RecordState = "active"
	RecordExpiring RecordState = "expiring"
)

// Alert is one emission toward the alert sink.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	RecordKey string    `json:"record_key"`
	Summary   Summary   `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertRecord tracks one known hotspot across passes. Raw cluster ids are not
// stable between passes, so identity is the record key (rounded centroid plus
// first-seen hour bucket) and matching is done by centroid distance.
type AlertRecord struct {
	Key         string      `json:"key"`
	CentroidLat float64     `json:"centroid_lat"`
	CentroidLon float64     `json:"centroid_lon"`
	Summary     Summary     `json:"summary"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	AlertCount  int         `json:"alert_count"`
	Missed      int         `json:"missed_passes"`
	State       RecordState `json:"state"`

	lastEmitted time.Time
}

// AlertPolicyConfig configures thresholding, matching, and expiry.
type AlertPolicyConfig struct {
	// A summary is alert-worthy when either threshold is met (logical OR).
	CountThreshold    int
	SeverityThreshold float64

	// MatchRadiusKm bounds centroid matching against existing records.
	MatchRadiusKm float64

	// GracePeriodPasses is how many consecutive unmatched evaluations a
	// record survives before removal.
	GracePeriodPasses int

	// RepeatCooldown optionally suppresses CONTINUING emissions for a
	// matched record until the cooldown since its last emission has elapsed.
	// Zero disables the cooldown.
	RepeatCooldown time.Duration
}

// AlertPolicy owns the in-memory alert table and decides which hotspot
// summaries are worth emitting each pass.
type AlertPolicy struct {
	mu      sync.Mutex
	cfg     AlertPolicyConfig
	records map[string]*AlertRecord
}

// NewAlertPolicy validates the configuration and returns an empty table.
func NewAlertPolicy(cfg AlertPolicyConfig) (*AlertPolicy, error) {
	if cfg.MatchRadiusKm <= 0 {
		return nil, fmt.Errorf("%w: match_radius_km must be positive, got %v", ErrInvalidParameter, cfg.MatchRadiusKm)
	}
	if cfg.GracePeriodPasses < 0 {
		return nil, fmt.Errorf("%w: grace_period_passes must be non-negative, got %d", ErrInvalidParameter, cfg.GracePeriodPasses)
	}
	if cfg.CountThreshold <= 0 && cfg.SeverityThreshold <= 0 {
		return nil, fmt.Errorf("%w: at least one alert threshold must be positive", ErrInvalidParameter)
	}
	return &AlertPolicy{
		cfg:     cfg,
		records: make(map[string]*AlertRecord),
	}, nil
}

// alertWorthy applies the OR-threshold: raw volume or severity alone is
// enough to trigger.
func (p *AlertPolicy) alertWorthy(s Summary) bool {
	if p.cfg.CountThreshold > 0 && s.Count >= p.cfg.CountThreshold {
		return true
	}
	return p.cfg.SeverityThreshold > 0 && s.SeveritySum >= p.cfg.SeverityThreshold
}

// Evaluate matches the current pass's summaries against the alert table,
// emitting a NEW alert for each unmatched alert-worthy hotspot and at most
// one CONTINUING alert per matched record per pass. Records unmatched for
// more than the grace period are removed.
func (p *AlertPolicy) Evaluate(summaries []Summary, now time.Time) []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()

	var alerts []Alert
	matched := make(map[string]bool, len(p.records))

	for _, s := range summaries {
		if !p.alertWorthy(s) {
			continue
		}

		rec := p.nearestRecordLocked(s)
		if rec == nil {
			rec = &AlertRecord{
				Key:         recordKey(s.CentroidLat, s.CentroidLon, now),
				CentroidLat: s.CentroidLat,
				CentroidLon: s.CentroidLon,
				Summary:     s,
				FirstSeen:   now,
				LastSeen:    now,
				AlertCount:  1,
				State:       RecordActive,
				lastEmitted: now,
			}
			p.records[rec.Key] = rec
			matched[rec.Key] = true
			alerts = append(alerts, Alert{
				ID:        uuid.NewString(),
				Kind:      AlertNew,
				RecordKey: rec.Key,
				Summary:   s,
				Timestamp: now,
			})
			continue
		}

		firstMatchThisPass := !matched[rec.Key]
		matched[rec.Key] = true

		rec.LastSeen = now
		rec.Summary = s
		rec.CentroidLat = s.CentroidLat
		rec.CentroidLon = s.CentroidLon
		rec.Missed = 0
		rec.State = RecordActive // EXPIRING re-arms on match
		rec.AlertCount++

		if firstMatchThisPass && p.cooldownElapsed(rec, now) {
			rec.lastEmitted = now
			alerts = append(alerts, Alert{
				ID:        uuid.NewString(),
				Kind:      AlertContinuing,
				RecordKey: rec.Key,
				Summary:   s,
				Timestamp: now,
			})
		}
	}

	// Age out records that saw no hotspot this pass.
	for key, rec := range p.records {
		if matched[key] {
			continue
		}
		rec.Missed++
		rec.State = RecordExpiring
		if rec.Missed > p.cfg.GracePeriodPasses {
			delete(p.records, key)
		}
	}

	return alerts
}

func (p *AlertPolicy) cooldownElapsed(rec *AlertRecord, now time.Time) bool {
	if p.cfg.RepeatCooldown <= 0 {
		return true
	}
	return now.Sub(rec.lastEmitted) >= p.cfg.RepeatCooldown
}

// nearestRecordLocked returns the closest record within the match radius, or
// nil. Ties break by smallest distance, then earliest first-seen.
func (p *AlertPolicy) nearestRecordLocked(s Summary) *AlertRecord {
	var best *AlertRecord
	bestDist := p.cfg.MatchRadiusKm

	for _, rec := range p.records {
		d := geo.DistanceKm(s.CentroidLat, s.CentroidLon, rec.CentroidLat, rec.CentroidLon)
		if d > bestDist {
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && rec.FirstSeen.Before(best.FirstSeen)) {
			best = rec
			bestDist = d
		}
	}
	return best
}

// Records returns a copy of the current alert table, ordered by first-seen
// then key for determinism.
func (p *AlertPolicy) Records() []AlertRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]AlertRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// recordKey builds the stable identity for a record: centroid rounded to
// three decimal places (~100m) plus the hour bucket of the pass that first
// saw it.
func recordKey(lat, lon float64, firstSeen time.Time) string {
	return fmt.Sprintf("%.3f:%.3f@%s", lat, lon, firstSeen.UTC().Truncate(time.Hour).Format("2006-01-02T15"))
}
