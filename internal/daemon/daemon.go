// SPDX-License-Identifier: MIT

// Package daemon wires the components together and runs them until the
// context is cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrapecast/scrapecast/internal/api"
	"github.com/scrapecast/scrapecast/internal/config"
	"github.com/scrapecast/scrapecast/internal/crawljob"
	"github.com/scrapecast/scrapecast/internal/health"
	"github.com/scrapecast/scrapecast/internal/indexer"
	"github.com/scrapecast/scrapecast/internal/kv"
	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/platform/httpx"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/pool"
	"github.com/scrapecast/scrapecast/internal/prober"
	"github.com/scrapecast/scrapecast/internal/ratelimit"
	"github.com/scrapecast/scrapecast/internal/resilience"
	"github.com/scrapecast/scrapecast/internal/resolver"
	"github.com/scrapecast/scrapecast/internal/scoring"
	"github.com/scrapecast/scrapecast/internal/stream"
	"github.com/scrapecast/scrapecast/internal/sysinfo"
	"github.com/scrapecast/scrapecast/internal/titles"
)

const (
	shutdownGrace    = 10 * time.Second
	resolverCacheTTL = 2 * time.Hour

	tmdbBaseURL        = "https://api.themoviedb.org"
	imdbSuggestBaseURL = "https://v3.sg.media-imdb.com"
)

// Run starts the daemon and blocks until ctx is cancelled or the HTTP
// server fails. Teardown is best effort and runs in reverse start order.
func Run(ctx context.Context, cfg config.Config, version string) error {
	logger := log.WithComponent("daemon")

	store, err := kv.Open(kv.Config{
		Backend:  cfg.Storage.Backend,
		Path:     cfg.Storage.Path,
		Addr:     cfg.Storage.Addr,
		Password: cfg.Storage.Password,
		DB:       cfg.Storage.DB,
	})
	if err != nil {
		return fmt.Errorf("daemon: open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("storage close failed")
		}
	}()

	fastSlots, headlessSlots := cfg.Scraping.FastSlots, cfg.Scraping.HeadlessSlots
	if fastSlots == 0 || headlessSlots == 0 {
		tuning := sysinfo.Autotune(sysinfo.Detect())
		if fastSlots == 0 {
			fastSlots = tuning.FastSlots
		}
		if headlessSlots == 0 {
			headlessSlots = tuning.HeadlessSlots
		}
		logger.Info().Int("fast", fastSlots).Int("headless", headlessSlots).Msg("autotuned pool slots")
	}

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.InitialRate = cfg.Scraping.InitialRate
	rlCfg.MinRate = cfg.Scraping.MinRate
	rlCfg.MaxRate = cfg.Scraping.MaxRate
	limiter := ratelimit.NewLimiter(rlCfg)
	defer limiter.Close()

	scrapeClient := httpx.NewScrapeClient(limiter)
	metaClient := httpx.NewClient(0)

	// Headless units stay discoverable without a renderer; they fail at
	// dispatch with ErrBrowserUnavailable until an embedding is wired.
	registry, err := plugin.Discover(cfg.Plugins.Dir, pluginOverrides(cfg.Plugins.Overrides), scrapeClient, nil)
	if err != nil {
		return fmt.Errorf("daemon: plugin discovery: %w", err)
	}

	resolvers := resolver.NewRegistry(scrapeClient, resolverCacheTTL)
	defer resolvers.Close()
	if err := loadHosters(resolvers, scrapeClient, cfg.Hosters.Path); err != nil {
		return fmt.Errorf("daemon: hosters: %w", err)
	}

	titleSvc := titles.NewService(titleSources(cfg, metaClient)...)
	defer titleSvc.Close()

	scores := scoring.NewStore(store)
	p := pool.New(fastSlots, headlessSlots)
	breakers := resilience.NewRegistry(cfg.Scraping.BreakerThreshold, cfg.Scraping.BreakerCooldown())
	jobs := crawljob.NewStore(store)

	idx := indexer.New(registry, breakers, p, jobs, store, scrapeClient)
	defer idx.Close()

	streams := stream.New(stream.Config{
		TopN:              cfg.Stream.TopN,
		Exploration:       cfg.Stream.Exploration,
		MinConfidence:     cfg.Stream.MinConfidence,
		SimilarityMin:     cfg.Stream.SimilarityMin,
		ResolveTarget:     cfg.Stream.ResolveTarget,
		MaxProbe:          cfg.Stream.MaxProbe,
		QualityMultiplier: cfg.Stream.QualityMultiplier,
		HosterBonus:       cfg.Stream.HosterBonuses,
	}, registry, breakers, p, scores, titleSvc, resolvers, stream.NewPlayStore(store))

	healthProber := prober.NewHealthProber(scrapeClient)

	probeCtx, stopProbes := context.WithCancel(context.Background())
	defer stopProbes()
	probesDone := make(chan struct{})
	if cfg.Prober.Enabled {
		queries := prober.NewQueryPool(cfg.Prober.QueryPoolURL, cfg.Prober.QueryCachePath, metaClient)
		sched := prober.NewScheduler(prober.Config{
			Tick:              cfg.Prober.Tick(),
			HealthInterval:    cfg.Prober.HealthInterval(),
			SearchRunsPerWeek: cfg.Prober.SearchRunsPerWeek,
			Categories:        cfg.Prober.Categories,
		}, registry, scores,
			healthProber,
			prober.NewSearchProber(registry, resolvers, scrapeClient),
			queries)
		go func() {
			defer close(probesDone)
			sched.Run(probeCtx)
		}()
	} else {
		close(probesDone)
	}

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewKVChecker(store))
	hm.RegisterChecker(health.NewPluginChecker(registry.Names))

	apiServer := api.New(api.Deps{
		Config:    cfg,
		Version:   version,
		Registry:  registry,
		Indexer:   idx,
		Streams:   streams,
		Scores:    scores,
		Breakers:  breakers,
		Jobs:      jobs,
		Titles:    titleSvc,
		Resolvers: resolvers,
		Limiter:   limiter,
		Pool:      p,
		Prober:    healthProber,
		Health:    hm,
	})
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Server.Listen).Str("version", version).Msg("http server starting")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	hm.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("daemon: http server: %w", err)
	}

	hm.SetReady(false)
	stopProbes()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	logger.Info().Int64("inflight", apiServer.Inflight()).Msg("draining http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown incomplete")
	}
	<-probesDone

	logger.Info().Msg("daemon stopped")
	return runErr
}

func pluginOverrides(in map[string]config.PluginOverride) map[string]plugin.Overrides {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]plugin.Overrides, len(in))
	for name, ov := range in {
		out[name] = plugin.Overrides{
			Timeout:       time.Duration(ov.TimeoutSeconds) * time.Second,
			MaxConcurrent: ov.MaxConcurrent,
			MaxResults:    ov.MaxResults,
			Disabled:      ov.Disabled,
		}
	}
	return out
}

func titleSources(cfg config.Config, client *http.Client) []titles.Source {
	var sources []titles.Source
	if cfg.Titles.TMDBAPIKey != "" {
		sources = append(sources, titles.NewTMDB(cfg.Titles.TMDBAPIKey, tmdbBaseURL, client))
	}
	sources = append(sources, titles.NewIMDbSuggest(imdbSuggestBaseURL, client))
	return sources
}

// hosterFile is the on-disk shape of the hoster family definitions.
type hosterFile struct {
	Hosters []resolver.HosterConfig `yaml:"hosters"`
}

// loadHosters reads the hoster definitions and registers the XFS family.
// A missing file is not fatal; the daemon then serves download links only.
func loadHosters(reg *resolver.Registry, client *http.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithComponent("daemon").Warn().Str("path", path).Msg("no hoster definitions, stream resolution disabled")
			return nil
		}
		return err
	}
	var file hosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := resolver.RegisterXFSFamily(reg, client, file.Hosters); err != nil {
		return err
	}
	log.WithComponent("daemon").Info().Int("hosters", len(file.Hosters)).Msg("hoster resolvers registered")
	return nil
}
