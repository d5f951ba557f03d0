package hotspot

import (
	"fmt"
	"math"
	"time"
)

// Severity weights for crash outcome counts. These match the scoring used by
// the upstream road-safety dataset: a fatality dominates, serious injuries
// count double, other injuries count once.
const (
	SeverityWeightKilled  = 10
	SeverityWeightSerious = 2
	SeverityWeightOther   = 1
)

// Event is a single geolocated crash record. Events are immutable once
// created: the window buffer owns the live copies and callers only ever see
// value copies or snapshot slices.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`

	// Outcome counts feeding the severity score.
	Killed          int `json:"killed"`
	SeriousInjuries int `json:"serious_injuries"`
	OtherInjuries   int `json:"other_injuries"`

	// Severity is precomputed at ingestion (see ComputeSeverity).
	Severity float64 `json:"severity"`

	// Attrs carries auxiliary columns (road name, type, ...) through the
	// pipeline without the engine interpreting them.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// ComputeSeverity returns the weighted severity score for outcome counts.
func ComputeSeverity(killed, serious, other int) float64 {
	return float64(killed*SeverityWeightKilled + serious*SeverityWeightSerious + other*SeverityWeightOther)
}

// NewEvent builds an Event with its severity derived from the outcome counts.
func NewEvent(id string, ts time.Time, lat, lon float64, killed, serious, other int) Event {
	return Event{
		ID:              id,
		Timestamp:       ts,
		Lat:             lat,
		Lon:             lon,
		Killed:          killed,
		SeriousInjuries: serious,
		OtherInjuries:   other,
		Severity:        ComputeSeverity(killed, serious, other),
	}
}

// Validate reports whether the event is safe to ingest. Range checks on
// coordinates are a collaborator concern; the engine only requires finite
// values and a usable identity.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty event id", ErrMalformedEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: event %s has zero timestamp", ErrMalformedEvent, e.ID)
	}
	if !isFinite(e.Lat) || !isFinite(e.Lon) {
		return fmt.Errorf("%w: event %s has non-finite coordinates (%v, %v)", ErrMalformedEvent, e.ID, e.Lat, e.Lon)
	}
	if !isFinite(e.Severity) || e.Severity < 0 {
		return fmt.Errorf("%w: event %s has invalid severity %v", ErrMalformedEvent, e.ID, e.Severity)
	}
	if e.Killed < 0 || e.SeriousInjuries < 0 || e.OtherInjuries < 0 {
		return fmt.Errorf("%w: event %s has negative outcome counts", ErrMalformedEvent, e.ID)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
