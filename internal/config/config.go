// Package config loads the engine tuning file. The schema uses pointer
// fields so a partial JSON file only overrides what it names; the Get*
// accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arterial-data/hotspot.report/internal/hotspot"
)

// Config is the root tuning schema. Duration fields are strings like "30s"
// so the same JSON works for files and runtime updates.
type Config struct {
	// Clustering params
	Eps            *float64 `json:"eps,omitempty"`
	MinPoints      *int     `json:"min_points,omitempty"`
	MinClusterSize *int     `json:"min_cluster_size,omitempty"`

	// Window params: exactly one of the two eviction policies is required.
	WindowMaxAge   *string `json:"window_max_age,omitempty"` // duration string like "24h"
	WindowMaxCount *int    `json:"window_max_count,omitempty"`

	// Alert params
	AlertCountThreshold    *int     `json:"alert_count_threshold,omitempty"`
	AlertSeverityThreshold *float64 `json:"alert_severity_threshold,omitempty"`
	MatchRadiusKm          *float64 `json:"match_radius_km,omitempty"`
	GracePeriodPasses      *int     `json:"grace_period_passes,omitempty"`
	RepeatCooldown         *string  `json:"repeat_cooldown,omitempty"`

	// Engine params
	TickEveryEvents   *int    `json:"tick_every_events,omitempty"`
	TickInterval      *string `json:"tick_interval,omitempty"` // duration string like "30s"
	ClusteringTimeout *string `json:"clustering_timeout,omitempty"`
	ShutdownGrace     *string `json:"shutdown_grace,omitempty"`

	// Geometry params
	KmPerDegreeLat *float64 `json:"km_per_degree_lat,omitempty"`
	KmPerDegreeLon *float64 `json:"km_per_degree_lon,omitempty"`
}

// Default returns a Config with all fields unset, i.e. pure defaults.
func Default() *Config {
	return &Config{}
}

// Load reads and validates a JSON tuning file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field-level constraints. Cross-field constraints (cadence,
// window policy) are enforced when the engine config is assembled.
func (c *Config) Validate() error {
	if c.Eps != nil && *c.Eps <= 0 {
		return fmt.Errorf("eps must be positive, got %f", *c.Eps)
	}
	if c.MinPoints != nil && *c.MinPoints <= 0 {
		return fmt.Errorf("min_points must be positive, got %d", *c.MinPoints)
	}
	if c.MinClusterSize != nil && *c.MinClusterSize < 0 {
		return fmt.Errorf("min_cluster_size must be non-negative, got %d", *c.MinClusterSize)
	}
	if c.WindowMaxCount != nil && *c.WindowMaxCount <= 0 {
		return fmt.Errorf("window_max_count must be positive, got %d", *c.WindowMaxCount)
	}
	for name, d := range map[string]*string{
		"window_max_age":     c.WindowMaxAge,
		"repeat_cooldown":    c.RepeatCooldown,
		"tick_interval":      c.TickInterval,
		"clustering_timeout": c.ClusteringTimeout,
		"shutdown_grace":     c.ShutdownGrace,
	} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
		}
	}
	return nil
}

// GetEps returns the DBSCAN radius in degrees or the default.
func (c *Config) GetEps() float64 {
	if c.Eps == nil {
		return 0.01
	}
	return *c.Eps
}

// GetMinPoints returns the DBSCAN density threshold or the default.
func (c *Config) GetMinPoints() int {
	if c.MinPoints == nil {
		return 10
	}
	return *c.MinPoints
}

// GetMinClusterSize returns the post-filter size or the default.
func (c *Config) GetMinClusterSize() int {
	if c.MinClusterSize == nil {
		return 5
	}
	return *c.MinClusterSize
}

// GetAlertCountThreshold returns the member-count alert threshold.
func (c *Config) GetAlertCountThreshold() int {
	if c.AlertCountThreshold == nil {
		return 20
	}
	return *c.AlertCountThreshold
}

// GetAlertSeverityThreshold returns the severity-sum alert threshold.
func (c *Config) GetAlertSeverityThreshold() float64 {
	if c.AlertSeverityThreshold == nil {
		return 50
	}
	return *c.AlertSeverityThreshold
}

// GetMatchRadiusKm returns the alert-table match radius.
func (c *Config) GetMatchRadiusKm() float64 {
	if c.MatchRadiusKm == nil {
		return 1.0
	}
	return *c.MatchRadiusKm
}

// GetGracePeriodPasses returns the record expiry grace period.
func (c *Config) GetGracePeriodPasses() int {
	if c.GracePeriodPasses == nil {
		return 3
	}
	return *c.GracePeriodPasses
}

// GetRepeatCooldown returns the CONTINUING-alert suppression window.
func (c *Config) GetRepeatCooldown() time.Duration {
	return c.duration(c.RepeatCooldown, 0)
}

// GetTickEveryEvents returns the count cadence, 0 when unset.
func (c *Config) GetTickEveryEvents() int {
	if c.TickEveryEvents == nil {
		return 0
	}
	return *c.TickEveryEvents
}

// GetTickInterval returns the duration cadence. Defaults to 30s so a config
// that sets neither cadence still ticks.
func (c *Config) GetTickInterval() time.Duration {
	if c.TickInterval == nil && c.TickEveryEvents != nil {
		return 0 // count cadence explicitly chosen
	}
	return c.duration(c.TickInterval, 30*time.Second)
}

// GetClusteringTimeout returns the per-tick clustering budget.
func (c *Config) GetClusteringTimeout() time.Duration {
	return c.duration(c.ClusteringTimeout, 5*time.Second)
}

// GetShutdownGrace returns how long shutdown waits for an in-flight tick.
func (c *Config) GetShutdownGrace() time.Duration {
	return c.duration(c.ShutdownGrace, 5*time.Second)
}

// GetKmPerDegreeLat returns the latitude scale factor.
func (c *Config) GetKmPerDegreeLat() float64 {
	if c.KmPerDegreeLat == nil {
		return hotspot.DefaultKmPerDegreeLat
	}
	return *c.KmPerDegreeLat
}

// GetKmPerDegreeLon returns the longitude scale factor.
func (c *Config) GetKmPerDegreeLon() float64 {
	if c.KmPerDegreeLon == nil {
		return hotspot.DefaultKmPerDegreeLon
	}
	return *c.KmPerDegreeLon
}

func (c *Config) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// EngineConfig assembles the resolved engine configuration. The window
// eviction policy is the one cross-field requirement a file cannot default:
// exactly one of window_max_age / window_max_count must be set.
func (c *Config) EngineConfig() (hotspot.EngineConfig, error) {
	var window hotspot.WindowPolicy
	switch {
	case c.WindowMaxAge != nil && c.WindowMaxCount != nil:
		return hotspot.EngineConfig{}, fmt.Errorf("window_max_age and window_max_count are mutually exclusive")
	case c.WindowMaxAge != nil:
		window.MaxAge = c.duration(c.WindowMaxAge, 0)
		if window.MaxAge <= 0 {
			return hotspot.EngineConfig{}, fmt.Errorf("window_max_age must be a positive duration")
		}
	case c.WindowMaxCount != nil:
		window.MaxCount = *c.WindowMaxCount
	default:
		return hotspot.EngineConfig{}, fmt.Errorf("one of window_max_age or window_max_count is required")
	}

	return hotspot.EngineConfig{
		Eps:            c.GetEps(),
		MinPoints:      c.GetMinPoints(),
		MinClusterSize: c.GetMinClusterSize(),
		Window:         window,
		Alerts: hotspot.AlertPolicyConfig{
			CountThreshold:    c.GetAlertCountThreshold(),
			SeverityThreshold: c.GetAlertSeverityThreshold(),
			MatchRadiusKm:     c.GetMatchRadiusKm(),
			GracePeriodPasses: c.GetGracePeriodPasses(),
			RepeatCooldown:    c.GetRepeatCooldown(),
		},
		KmPerDegreeLat:    c.GetKmPerDegreeLat(),
		KmPerDegreeLon:    c.GetKmPerDegreeLon(),
		TickEveryEvents:   c.GetTickEveryEvents(),
		TickInterval:      c.GetTickInterval(),
		ClusteringTimeout: c.GetClusteringTimeout(),
		ShutdownGrace:     c.GetShutdownGrace(),
	}, nil
}
