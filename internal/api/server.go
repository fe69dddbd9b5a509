// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: Torznab feeds, the Stremio addon,
// crawljob downloads, health and stats.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/scrapecast/scrapecast/internal/config"
	"github.com/scrapecast/scrapecast/internal/crawljob"
	"github.com/scrapecast/scrapecast/internal/health"
	"github.com/scrapecast/scrapecast/internal/indexer"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/pool"
	"github.com/scrapecast/scrapecast/internal/prober"
	"github.com/scrapecast/scrapecast/internal/ratelimit"
	"github.com/scrapecast/scrapecast/internal/resilience"
	"github.com/scrapecast/scrapecast/internal/resolver"
	"github.com/scrapecast/scrapecast/internal/scoring"
	"github.com/scrapecast/scrapecast/internal/stream"
	"github.com/scrapecast/scrapecast/internal/titles"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries everything the HTTP layer serves.
type Deps struct {
	Config    config.Config
	Version   string
	Registry  *plugin.Registry
	Indexer   *indexer.Orchestrator
	Streams   *stream.Orchestrator
	Scores    *scoring.Store
	Breakers  *resilience.Registry
	Jobs      *crawljob.Store
	Titles    *titles.Service
	Resolvers *resolver.Registry
	Limiter   *ratelimit.Limiter
	Pool      *pool.Pool
	Prober    *prober.HealthProber
	Health    *health.Manager
}

// Server is the HTTP layer.
type Server struct {
	deps     Deps
	inflight inflight
}

// New creates the server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Inflight reports the number of requests currently being served.
func (s *Server) Inflight() int64 {
	return s.inflight.Count()
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.inflight.middleware)
	r.Use(requestLogger)
	r.Use(recoverer(s.deps.Config.Server.DevMode))
	if rpm := s.deps.Config.Server.RateLimitRPM; rpm > 0 {
		r.Use(httprate.LimitByIP(rpm, time.Minute))
	}

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/indexers", s.handleIndexers)
	r.Route("/torznab/{plugin}", func(r chi.Router) {
		r.Get("/", s.handleTorznab)
		r.Get("/api", s.handleTorznab) // Prowlarr appends /api to the indexer URL
		r.Get("/health", s.handlePluginHealth)
	})

	r.Route("/download/{jobID}", func(r chi.Router) {
		r.Get("/", s.handleDownload)
		r.Get("/info", s.handleDownloadInfo)
	})

	r.Route("/stremio", func(r chi.Router) {
		r.Get("/manifest.json", s.handleManifest)
		r.Get("/catalog/{type}/{catalogID}/{extra}", s.handleCatalog)
		r.Get("/catalog/{type}/{catalogID}.json", s.handleCatalog)
		r.Get("/stream/{type}/{id}", s.handleStream)
		r.Get("/play/{token}", s.handlePlay)
	})
	r.Get("/play/{token}", s.handlePlay) // legacy path, kept for old installs

	r.Route("/stats", func(r chi.Router) {
		r.Get("/metrics", s.handleStatsMetrics)
		r.Get("/plugin-scores", s.handlePluginScores)
	})

	return r
}

// baseURL returns the externally visible base URL, preferring configuration
// over the request host.
func (s *Server) baseURL(r *http.Request) string {
	if b := s.deps.Config.Server.BaseURL; b != "" {
		return b
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
