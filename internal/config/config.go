// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration. Precedence:
// defaults, then YAML file, then .env file, then process environment. Flags
// are applied by the caller on top.
package config

import (
	"time"
)

// Config is the full daemon configuration tree.
type Config struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Plugins  Plugins  `yaml:"plugins"`
	Scraping Scraping `yaml:"scraping"`
	Prober   Prober   `yaml:"prober"`
	Stream   Stream   `yaml:"stream"`
	Titles   Titles   `yaml:"titles"`
	Hosters  Hosters  `yaml:"hosters"`
	Log      Log      `yaml:"log"`
}

// Server configures the HTTP surface.
type Server struct {
	Listen       string `yaml:"listen"`
	BaseURL      string `yaml:"base_url"`
	RateLimitRPM int    `yaml:"rate_limit_rpm"`
	DevMode      bool   `yaml:"dev_mode"`
}

// Storage selects and configures the KV backend.
type Storage struct {
	Backend  string `yaml:"backend"` // badger, sqlite, redis, memory
	Path     string `yaml:"path"`
	Addr     string `yaml:"addr"` // redis only
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PluginOverride carries per-plugin knobs from configuration.
type PluginOverride struct {
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	MaxConcurrent  int  `yaml:"max_concurrent"`
	MaxResults     int  `yaml:"max_results"`
	Disabled       bool `yaml:"disabled"`
}

// Plugins configures discovery.
type Plugins struct {
	Dir       string                    `yaml:"dir"`
	Overrides map[string]PluginOverride `yaml:"overrides"`
}

// Scraping tunes the outbound pipeline: pool sizes, the adaptive rate
// limiter and the circuit breaker.
type Scraping struct {
	FastSlots              int     `yaml:"fast_slots"`     // 0 = autotune
	HeadlessSlots          int     `yaml:"headless_slots"` // 0 = autotune
	InitialRate            float64 `yaml:"initial_rate"`
	MinRate                float64 `yaml:"min_rate"`
	MaxRate                float64 `yaml:"max_rate"`
	BreakerThreshold       int     `yaml:"breaker_threshold"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
}

// Prober tunes the background probes.
type Prober struct {
	Enabled             bool   `yaml:"enabled"`
	TickSeconds         int    `yaml:"tick_seconds"`
	HealthIntervalHours int    `yaml:"health_interval_hours"`
	SearchRunsPerWeek   int    `yaml:"search_runs_per_week"`
	Categories          []int  `yaml:"categories"`
	QueryPoolURL        string `yaml:"query_pool_url"`
	QueryCachePath      string `yaml:"query_cache_path"`
}

// Stream tunes the Stremio orchestrator.
type Stream struct {
	TopN              int            `yaml:"top_n"`
	Exploration       float64        `yaml:"exploration"`
	MinConfidence     float64        `yaml:"min_confidence"`
	SimilarityMin     float64        `yaml:"similarity_min"`
	ResolveTarget     int            `yaml:"resolve_target"`
	MaxProbe          int            `yaml:"max_probe"`
	QualityMultiplier float64        `yaml:"quality_multiplier"`
	HosterBonuses     map[string]int `yaml:"hoster_bonuses"`
}

// Titles configures the metadata sources.
type Titles struct {
	TMDBAPIKey string `yaml:"tmdb_api_key"`
}

// Hosters points at the hoster family definitions.
type Hosters struct {
	Path string `yaml:"path"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: Server{
			Listen:       ":8080",
			RateLimitRPM: 300,
		},
		Storage: Storage{
			Backend: "badger",
			Path:    "./data",
		},
		Plugins: Plugins{
			Dir: "./plugins",
		},
		Scraping: Scraping{
			InitialRate:            10,
			MinRate:                0.5,
			MaxRate:                50,
			BreakerThreshold:       5,
			BreakerCooldownSeconds: 60,
		},
		Prober: Prober{
			Enabled:             true,
			TickSeconds:         300,
			HealthIntervalHours: 24,
			SearchRunsPerWeek:   2,
			Categories:          []int{2000, 5000},
		},
		Stream: Stream{
			TopN:              5,
			Exploration:       0.15,
			MinConfidence:     0.1,
			SimilarityMin:     0.7,
			ResolveTarget:     15,
			MaxProbe:          30,
			QualityMultiplier: 1,
		},
		Hosters: Hosters{
			Path: "./hosters.yaml",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// BreakerCooldown returns the cooldown as a duration.
func (s Scraping) BreakerCooldown() time.Duration {
	return time.Duration(s.BreakerCooldownSeconds) * time.Second
}

// Tick returns the scheduler tick as a duration.
func (p Prober) Tick() time.Duration {
	return time.Duration(p.TickSeconds) * time.Second
}

// HealthInterval returns the health cadence as a duration.
func (p Prober) HealthInterval() time.Duration {
	return time.Duration(p.HealthIntervalHours) * time.Hour
}
