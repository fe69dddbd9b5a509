// SPDX-License-Identifier: MIT

package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrapecast/scrapecast/internal/log"
)

// Load builds the effective configuration. path may be empty (defaults plus
// environment only); a missing file at an explicit path is an error. Unknown
// YAML keys fail the load so typos never silently disable features.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	loadDotEnv(".env")
	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv reads KEY=VALUE lines into the process environment without
// overriding variables that are already set.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
	log.WithComponent("config").Debug().Str("path", path).Msg("dotenv file applied")
}

// applyEnv overlays SCRAPECAST_* variables onto the config.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Listen, "SCRAPECAST_LISTEN")
	setString(&cfg.Server.BaseURL, "SCRAPECAST_BASE_URL")
	setInt(&cfg.Server.RateLimitRPM, "SCRAPECAST_RATE_LIMIT_RPM")
	setBool(&cfg.Server.DevMode, "SCRAPECAST_DEV_MODE")

	setString(&cfg.Storage.Backend, "SCRAPECAST_STORAGE_BACKEND")
	setString(&cfg.Storage.Path, "SCRAPECAST_DATA_DIR")
	setString(&cfg.Storage.Addr, "SCRAPECAST_REDIS_ADDR")
	setString(&cfg.Storage.Password, "SCRAPECAST_REDIS_PASSWORD")
	setInt(&cfg.Storage.DB, "SCRAPECAST_REDIS_DB")

	setString(&cfg.Plugins.Dir, "SCRAPECAST_PLUGINS_DIR")
	setString(&cfg.Hosters.Path, "SCRAPECAST_HOSTERS_PATH")
	setString(&cfg.Titles.TMDBAPIKey, "SCRAPECAST_TMDB_API_KEY")
	setString(&cfg.Log.Level, "SCRAPECAST_LOG_LEVEL")

	setInt(&cfg.Scraping.FastSlots, "SCRAPECAST_FAST_SLOTS")
	setInt(&cfg.Scraping.HeadlessSlots, "SCRAPECAST_HEADLESS_SLOTS")
	setBool(&cfg.Prober.Enabled, "SCRAPECAST_PROBER_ENABLED")
	setString(&cfg.Prober.QueryPoolURL, "SCRAPECAST_QUERY_POOL_URL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithComponent("config").Warn().Str("key", key).Str("value", v).Msg("ignoring non-integer environment variable")
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithComponent("config").Warn().Str("key", key).Str("value", v).Msg("ignoring non-boolean environment variable")
		return
	}
	*dst = b
}

// Validate checks ranges and enumerations. All violations are reported at
// once, each prefixed with its section.field path.
func Validate(cfg Config) error {
	var problems []string
	add := func(field, format string, args ...any) {
		problems = append(problems, field+": "+fmt.Sprintf(format, args...))
	}

	if cfg.Server.Listen == "" {
		add("server.listen", "must not be empty")
	}
	if cfg.Server.RateLimitRPM < 0 || cfg.Server.RateLimitRPM > 100000 {
		add("server.rate_limit_rpm", "must be in [0, 100000], got %d", cfg.Server.RateLimitRPM)
	}

	switch cfg.Storage.Backend {
	case "badger", "sqlite", "memory":
	case "redis":
		if cfg.Storage.Addr == "" {
			add("storage.addr", "required for the redis backend")
		}
	default:
		add("storage.backend", "must be one of badger, sqlite, redis, memory; got %q", cfg.Storage.Backend)
	}
	if (cfg.Storage.Backend == "badger" || cfg.Storage.Backend == "sqlite") && cfg.Storage.Path == "" {
		add("storage.path", "required for the %s backend", cfg.Storage.Backend)
	}

	if cfg.Plugins.Dir == "" {
		add("plugins.dir", "must not be empty")
	}
	for name, ov := range cfg.Plugins.Overrides {
		if ov.TimeoutSeconds < 0 || ov.TimeoutSeconds > 300 {
			add("plugins.overrides."+name+".timeout_seconds", "must be in [0, 300], got %d", ov.TimeoutSeconds)
		}
		if ov.MaxConcurrent < 0 || ov.MaxConcurrent > 50 {
			add("plugins.overrides."+name+".max_concurrent", "must be in [0, 50], got %d", ov.MaxConcurrent)
		}
		if ov.MaxResults < 0 || ov.MaxResults > 1000 {
			add("plugins.overrides."+name+".max_results", "must be in [0, 1000], got %d", ov.MaxResults)
		}
	}

	s := cfg.Scraping
	if s.FastSlots < 0 || s.FastSlots > 100 {
		add("scraping.fast_slots", "must be in [0, 100], got %d", s.FastSlots)
	}
	if s.HeadlessSlots < 0 || s.HeadlessSlots > 20 {
		add("scraping.headless_slots", "must be in [0, 20], got %d", s.HeadlessSlots)
	}
	if s.MinRate <= 0 || s.MaxRate < s.MinRate {
		add("scraping.min_rate", "need 0 < min_rate <= max_rate, got %.2f..%.2f", s.MinRate, s.MaxRate)
	}
	if s.InitialRate < s.MinRate || s.InitialRate > s.MaxRate {
		add("scraping.initial_rate", "must be within [min_rate, max_rate], got %.2f", s.InitialRate)
	}
	if s.BreakerThreshold < 1 || s.BreakerThreshold > 100 {
		add("scraping.breaker_threshold", "must be in [1, 100], got %d", s.BreakerThreshold)
	}
	if s.BreakerCooldownSeconds < 1 || s.BreakerCooldownSeconds > 3600 {
		add("scraping.breaker_cooldown_seconds", "must be in [1, 3600], got %d", s.BreakerCooldownSeconds)
	}

	p := cfg.Prober
	if p.TickSeconds < 10 || p.TickSeconds > 3600 {
		add("prober.tick_seconds", "must be in [10, 3600], got %d", p.TickSeconds)
	}
	if p.HealthIntervalHours < 1 || p.HealthIntervalHours > 168 {
		add("prober.health_interval_hours", "must be in [1, 168], got %d", p.HealthIntervalHours)
	}
	if p.SearchRunsPerWeek < 1 || p.SearchRunsPerWeek > 14 {
		add("prober.search_runs_per_week", "must be in [1, 14], got %d", p.SearchRunsPerWeek)
	}
	for _, cat := range p.Categories {
		if cat < 1000 || cat > 9999 {
			add("prober.categories", "category ids are four digits, got %d", cat)
		}
	}

	st := cfg.Stream
	if st.TopN < 1 || st.TopN > 50 {
		add("stream.top_n", "must be in [1, 50], got %d", st.TopN)
	}
	if st.Exploration < 0 || st.Exploration > 1 {
		add("stream.exploration", "must be in [0, 1], got %.2f", st.Exploration)
	}
	if st.MinConfidence < 0 || st.MinConfidence > 1 {
		add("stream.min_confidence", "must be in [0, 1], got %.2f", st.MinConfidence)
	}
	if st.SimilarityMin <= 0 || st.SimilarityMin > 1 {
		add("stream.similarity_min", "must be in (0, 1], got %.2f", st.SimilarityMin)
	}
	if st.ResolveTarget < 1 || st.ResolveTarget > 100 {
		add("stream.resolve_target", "must be in [1, 100], got %d", st.ResolveTarget)
	}
	if st.MaxProbe < 1 || st.MaxProbe > 200 {
		add("stream.max_probe", "must be in [1, 200], got %d", st.MaxProbe)
	}
	if st.QualityMultiplier <= 0 || st.QualityMultiplier > 10 {
		add("stream.quality_multiplier", "must be in (0, 10], got %.2f", st.QualityMultiplier)
	}
	for hoster, bonus := range st.HosterBonuses {
		if bonus < 1 || bonus > 5 {
			add("stream.hoster_bonuses."+hoster, "must be in [1, 5], got %d", bonus)
		}
	}

	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("log.level", "must be one of trace, debug, info, warn, error; got %q", cfg.Log.Level)
	}

	if len(problems) > 0 {
		return errors.New("config: invalid configuration:\n  " + strings.Join(problems, "\n  "))
	}
	return nil
}
