// Package transport connects the engine to the outside world: file replay
// and NATS on the inbound side, NDJSON files and NATS subjects on the
// outbound side. The engine itself never knows which is in use.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arterial-data/hotspot.report/internal/hotspot"
)

// IngestFunc is the engine's ingestion entry point. Implementations return
// hotspot.ErrMalformedEvent / ErrDuplicateEvent for rejected records; the
// source logs and carries on.
type IngestFunc func(hotspot.Event) error

// maxReplayLineBytes bounds one NDJSON record.
const maxReplayLineBytes = 1 << 20

// ReplayOptions controls file replay pacing.
type ReplayOptions struct {
	// Pace sleeps between events according to their timestamp gaps so a
	// historical file drives the engine at a realistic rate.
	Pace bool
	// MaxDelay caps a single pacing sleep; crash data has multi-hour gaps.
	MaxDelay time.Duration
}

// ReplayFile streams an NDJSON event file into ingest, one record per line.
// Unparseable lines and rejected events are logged and skipped; only I/O
// errors abort the replay.
func ReplayFile(ctx context.Context, path string, opts ReplayOptions, ingest IngestFunc, logger zerolog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLineBytes)

	var prev time.Time
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}

		var ev hotspot.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("skipping unparseable replay record")
			continue
		}

		if opts.Pace && !prev.IsZero() {
			delay := ev.Timestamp.Sub(prev)
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		prev = ev.Timestamp

		if err := ingest(ev); err != nil {
			if errors.Is(err, hotspot.ErrMalformedEvent) || errors.Is(err, hotspot.ErrDuplicateEvent) {
				logger.Debug().Err(err).Int("line", line).Msg("event rejected")
				continue
			}
			return fmt.Errorf("ingest replay event at line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}
	return nil
}

// ReadEvents loads an entire NDJSON event file, for batch runs. Unparseable
// lines are an error here: a batch over silently truncated input would be
// misleading.
func ReadEvents(path string) ([]hotspot.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLineBytes)

	var events []hotspot.Event
	line := 0
	for scanner.Scan() {
		line++
		var ev hotspot.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("parse event at line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events file: %w", err)
	}
	return events, nil
}

// FileSink appends hotspot snapshots and alerts as NDJSON to two files. This
// is the daemon's durable default output.
type FileSink struct {
	mu       sync.Mutex
	hotspots *os.File
	alerts   *os.File
}

// snapshotRecord is the on-disk shape of one tick's hotspot list.
type snapshotRecord struct {
	Tick     time.Time         `json:"tick"`
	Hotspots []hotspot.Summary `json:"hotspots"`
}

// NewFileSink opens (appending) the two output files.
func NewFileSink(hotspotPath, alertPath string) (*FileSink, error) {
	hf, err := os.OpenFile(hotspotPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open hotspot output: %w", err)
	}
	af, err := os.OpenFile(alertPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		hf.Close()
		return nil, fmt.Errorf("open alert output: %w", err)
	}
	return &FileSink{hotspots: hf, alerts: af}, nil
}

// PublishHotspots appends the full ranked list as one NDJSON line.
func (s *FileSink) PublishHotspots(_ context.Context, tick time.Time, summaries []hotspot.Summary) error {
	data, err := json.Marshal(snapshotRecord{Tick: tick, Hotspots: summaries})
	if err != nil {
		return fmt.Errorf("marshal hotspot snapshot: %w", err)
	}
	return s.appendLine(s.hotspots, data)
}

// PublishAlert appends one alert as an NDJSON line.
func (s *FileSink) PublishAlert(_ context.Context, a hotspot.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.appendLine(s.alerts, data)
}

func (s *FileSink) appendLine(f *os.File, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", hotspot.ErrSinkUnavailable, err)
	}
	return nil
}

// Close flushes and closes both files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.hotspots.Close(), s.alerts.Close())
}
