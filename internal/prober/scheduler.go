// SPDX-License-Identifier: MIT

package prober

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/metrics"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/scoring"
)

// Config tunes the probe scheduler.
type Config struct {
	Tick              time.Duration
	HealthInterval    time.Duration
	SearchRunsPerWeek int
	Categories        []int
	HealthConcurrency int64
	SearchConcurrency int64
}

// DefaultConfig returns the production cadence: daily health probes and two
// mini-searches per week per (plugin, category, bucket), checked every five
// minutes.
func DefaultConfig() Config {
	return Config{
		Tick:              5 * time.Minute,
		HealthInterval:    24 * time.Hour,
		SearchRunsPerWeek: 2,
		Categories:        []int{2000, 5000},
		HealthConcurrency: 5,
		SearchConcurrency: 3,
	}
}

// Scheduler drives the background probes. Every tick it checks which probes
// are due from the persisted last-run timestamps, so restarts never reset the
// cadence.
type Scheduler struct {
	cfg      Config
	registry *plugin.Registry
	scores   *scoring.Store
	health   *HealthProber
	search   *SearchProber
	queries  *QueryPool

	healthSem *semaphore.Weighted
	searchSem *semaphore.Weighted
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewScheduler wires a scheduler. Zero config fields fall back to defaults.
func NewScheduler(cfg Config, registry *plugin.Registry, scores *scoring.Store, health *HealthProber, search *SearchProber, queries *QueryPool) *Scheduler {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.SearchRunsPerWeek <= 0 {
		cfg.SearchRunsPerWeek = def.SearchRunsPerWeek
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if cfg.HealthConcurrency <= 0 {
		cfg.HealthConcurrency = def.HealthConcurrency
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = def.SearchConcurrency
	}
	return &Scheduler{
		cfg:       cfg,
		registry:  registry,
		scores:    scores,
		health:    health,
		search:    search,
		queries:   queries,
		healthSem: semaphore.NewWeighted(cfg.HealthConcurrency),
		searchSem: semaphore.NewWeighted(cfg.SearchConcurrency),
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight probes.
func (s *Scheduler) Run(ctx context.Context) {
	logger := log.WithComponent("prober")
	logger.Info().Dur("tick", s.cfg.Tick).Msg("probe scheduler started")

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info().Msg("probe scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep dispatches every due probe. Dispatch order follows plugin
// registration order.
func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now()
	searchInterval := 7 * 24 * time.Hour / time.Duration(s.cfg.SearchRunsPerWeek)

	for _, name := range s.registry.Names() {
		desc, err := s.registry.Describe(name)
		if err != nil {
			continue
		}

		if s.due(ctx, scoring.LastRunKey("health", name, 0, ""), now, s.cfg.HealthInterval) {
			s.dispatch(ctx, s.healthSem, func(ctx context.Context) {
				s.runHealth(ctx, desc)
			})
		}

		buckets := desc.AgeBuckets
		if len(buckets) == 0 {
			buckets = plugin.Buckets
		}
		for _, cat := range s.cfg.Categories {
			for _, bucket := range buckets {
				if !s.due(ctx, scoring.LastRunKey("search", name, cat, bucket), now, searchInterval) {
					continue
				}
				cat, bucket := cat, bucket
				s.dispatch(ctx, s.searchSem, func(ctx context.Context) {
					s.runSearch(ctx, desc, cat, bucket)
				})
			}
		}
	}
}

func (s *Scheduler) due(ctx context.Context, key string, now time.Time, interval time.Duration) bool {
	last, err := s.scores.LastRun(ctx, key)
	if err != nil {
		log.WithComponent("prober").Warn().Err(err).Str("key", key).Msg("last-run lookup failed")
		return false
	}
	return last.IsZero() || now.Sub(last) >= interval
}

// dispatch runs fn on its own goroutine under the probe-type semaphore. A
// panicking probe is contained and logged, never taking the scheduler down.
func (s *Scheduler) dispatch(ctx context.Context, sem *semaphore.Weighted, fn func(context.Context)) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				log.WithComponent("prober").Error().Any("panic", r).Msg("probe panicked")
			}
		}()
		fn(ctx)
	}()
}

func (s *Scheduler) runHealth(ctx context.Context, desc plugin.Descriptor) {
	probe, usedURL := s.health.Probe(ctx, desc)
	outcome := "down"
	switch {
	case probe.Captcha:
		outcome = "captcha"
	case probe.OK:
		outcome = "ok"
	}
	metrics.RecordProbeResult("health", desc.Name, outcome)
	log.WithComponent("prober").Debug().
		Str("plugin", desc.Name).
		Str("url", usedURL).
		Str("outcome", outcome).
		Dur("duration", probe.Duration).
		Msg("health probe")

	if err := s.scores.RecordHealth(ctx, desc.Name, probe); err != nil {
		log.WithComponent("prober").Warn().Err(err).Str("plugin", desc.Name).Msg("health score update failed")
	}
}

func (s *Scheduler) runSearch(ctx context.Context, desc plugin.Descriptor, category int, bucket plugin.AgeBucket) {
	query := s.pickQuery(ctx, desc.Name, category, bucket)
	probe := s.search.Probe(ctx, desc.Name, plugin.Query{Text: query, Category: category})
	outcome := "error"
	if probe.OK {
		outcome = "ok"
	}
	metrics.RecordProbeResult("search", desc.Name, outcome)
	log.WithComponent("prober").Debug().
		Str("plugin", desc.Name).
		Int("category", category).
		Str("bucket", string(bucket)).
		Str("query", query).
		Str("outcome", outcome).
		Msg("search probe")

	if err := s.scores.RecordSearch(ctx, desc.Name, category, bucket, probe); err != nil {
		log.WithComponent("prober").Warn().Err(err).Str("plugin", desc.Name).Msg("search score update failed")
	}
}

// pickQuery selects this week's probe query for a (plugin, category, bucket)
// deterministically, so the same tuple probes the same query all week while
// different tuples spread across the pool.
func (s *Scheduler) pickQuery(ctx context.Context, pluginName string, category int, bucket plugin.AgeBucket) string {
	pool := s.queries.QueriesForWeek(ctx, len(bundledQueries))
	if len(pool) == 0 {
		return bundledQueries[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(scoring.SnapshotKey(pluginName, category, bucket)))
	return pool[int(h.Sum32())%len(pool)]
}
