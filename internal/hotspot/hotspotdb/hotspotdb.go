// Package hotspotdb persists per-tick hotspot snapshots and alert emissions
// to sqlite so dashboards and reports can query history without holding the
// engine's in-memory state.
package hotspotdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arterial-data/hotspot.report/internal/hotspot"
)

// Store wraps the sqlite handle. It implements both engine sink interfaces,
// so it can be wired directly into the publish path.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open hotspot db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS hotspots (
			hotspot_id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick_unix_nanos BIGINT NOT NULL,
			rank INTEGER NOT NULL,
			member_count INTEGER NOT NULL,
			severity_sum DOUBLE NOT NULL,
			severity_mean DOUBLE NOT NULL,
			severity_p95 DOUBLE NOT NULL,
			fatalities INTEGER NOT NULL,
			centroid_lat DOUBLE NOT NULL,
			centroid_lon DOUBLE NOT NULL,
			min_lat DOUBLE NOT NULL,
			max_lat DOUBLE NOT NULL,
			min_lon DOUBLE NOT NULL,
			max_lon DOUBLE NOT NULL,
			radius_km DOUBLE NOT NULL,
			first_event_unix_nanos BIGINT NOT NULL,
			last_event_unix_nanos BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_hotspots_tick ON hotspots(tick_unix_nanos);
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			record_key TEXT NOT NULL,
			ts_unix_nanos BIGINT NOT NULL,
			member_count INTEGER NOT NULL,
			severity_sum DOUBLE NOT NULL,
			centroid_lat DOUBLE NOT NULL,
			centroid_lon DOUBLE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_record ON alerts(record_key, ts_unix_nanos);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create hotspot schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PublishHotspots inserts one tick's ranked hotspot list in a single
// transaction, so a reader never observes a partially written snapshot.
func (s *Store) PublishHotspots(ctx context.Context, tick time.Time, summaries []hotspot.Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hotspot snapshot tx: %w", err)
	}

	const query = `
		INSERT INTO hotspots (
			tick_unix_nanos, rank, member_count,
			severity_sum, severity_mean, severity_p95, fatalities,
			centroid_lat, centroid_lon,
			min_lat, max_lat, min_lon, max_lon, radius_km,
			first_event_unix_nanos, last_event_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, sum := range summaries {
		if _, err := tx.ExecContext(ctx, query,
			tick.UnixNano(),
			sum.Rank,
			sum.Count,
			sum.SeveritySum,
			sum.SeverityMean,
			sum.SeverityP95,
			sum.Fatalities,
			sum.CentroidLat,
			sum.CentroidLon,
			sum.MinLat,
			sum.MaxLat,
			sum.MinLon,
			sum.MaxLon,
			sum.RadiusKm,
			sum.FirstEvent.UnixNano(),
			sum.LastEvent.UnixNano(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert hotspot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hotspot snapshot: %w", err)
	}
	return nil
}

// PublishAlert records one alert emission. INSERT OR REPLACE keeps redelivery
// idempotent on the alert id.
func (s *Store) PublishAlert(ctx context.Context, a hotspot.Alert) error {
	const query = `
		INSERT OR REPLACE INTO alerts (
			alert_id, kind, record_key, ts_unix_nanos,
			member_count, severity_sum, centroid_lat, centroid_lon
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		a.ID,
		string(a.Kind),
		a.RecordKey,
		a.Timestamp.UnixNano(),
		a.Summary.Count,
		a.Summary.SeveritySum,
		a.Summary.CentroidLat,
		a.Summary.CentroidLon,
	); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// StoredHotspot is one persisted hotspot row.
type StoredHotspot struct {
	TickUnixNanos int64
	Rank          int
	Count         int
	SeveritySum   float64
	CentroidLat   float64
	CentroidLon   float64
	RadiusKm      float64
}

// RecentHotspots returns persisted hotspots within a time range (inclusive),
// newest ticks first, rank ascending within a tick.
func (s *Store) RecentHotspots(ctx context.Context, startNanos, endNanos int64, limit int) ([]StoredHotspot, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT tick_unix_nanos, rank, member_count, severity_sum,
			centroid_lat, centroid_lon, radius_km
		FROM hotspots
		WHERE tick_unix_nanos BETWEEN ? AND ?
		ORDER BY tick_unix_nanos DESC, rank ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, startNanos, endNanos, limit)
	if err != nil {
		return nil, fmt.Errorf("query hotspots: %w", err)
	}
	defer rows.Close()

	var out []StoredHotspot
	for rows.Next() {
		var h StoredHotspot
		if err := rows.Scan(
			&h.TickUnixNanos,
			&h.Rank,
			&h.Count,
			&h.SeveritySum,
			&h.CentroidLat,
			&h.CentroidLon,
			&h.RadiusKm,
		); err != nil {
			return nil, fmt.Errorf("scan hotspot: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hotspots: %w", err)
	}
	return out, nil
}

// AlertCount returns the number of persisted alerts for a record key.
func (s *Store) AlertCount(ctx context.Context, recordKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE record_key = ?`, recordKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
