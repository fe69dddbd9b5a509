// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scrapecast/scrapecast/internal/crawljob"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/pool"
	"github.com/scrapecast/scrapecast/internal/resilience"
)

type indexerInfo struct {
	plugin.Descriptor
	Breaker resilience.Snapshot `json:"breaker"`
	Torznab string              `json:"torznab"`
}

// handleIndexers lists every discovered plugin with its breaker state and
// Torznab endpoint.
func (s *Server) handleIndexers(w http.ResponseWriter, r *http.Request) {
	base := s.baseURL(r)
	names := s.deps.Registry.Names()
	out := make([]indexerInfo, 0, len(names))
	for _, name := range names {
		desc, err := s.deps.Registry.Describe(name)
		if err != nil {
			continue // removed between Names and Describe
		}
		out = append(out, indexerInfo{
			Descriptor: desc,
			Breaker:    s.deps.Breakers.For(name).Snapshot(),
			Torznab:    base + "/torznab/" + name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  s.deps.Version,
		"indexers": out,
	})
}

// handleDownload serves the stored crawljob in its wire format.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", crawljob.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.PackageName+`.crawljob"`)
	w.Header().Set("X-CrawlJob-Id", job.ID)
	w.Header().Set("X-CrawlJob-Links", strconv.Itoa(len(job.URLs)))
	_, _ = w.Write(crawljob.Serialize(job))
}

// handleDownloadInfo returns the job as JSON for inspection.
func (s *Server) handleDownloadInfo(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleStatsMetrics reports pool occupancy, per-domain rates and cache
// counters as one JSON document.
func (s *Server) handleStatsMetrics(w http.ResponseWriter, r *http.Request) {
	rates := make(map[string]float64)
	for _, domain := range s.deps.Limiter.Domains() {
		rates[domain] = s.deps.Limiter.Rate(domain)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"http": map[string]any{
			"inflight": s.Inflight(),
		},
		"pool": map[string]any{
			"active_queries": s.deps.Pool.Active(),
			"fast": map[string]int{
				"slots":  s.deps.Pool.Slots(pool.Fast),
				"in_use": s.deps.Pool.InUse(pool.Fast),
			},
			"headless": map[string]int{
				"slots":  s.deps.Pool.Slots(pool.Headless),
				"in_use": s.deps.Pool.InUse(pool.Headless),
			},
		},
		"rate_limits": rates,
		"caches": map[string]any{
			"indexer":  s.deps.Indexer.CacheStats(),
			"resolver": s.deps.Resolvers.CacheStats(),
		},
		"breakers": s.deps.Breakers.Snapshots(),
	})
}

// handlePluginScores dumps every score snapshot, optionally filtered by the
// plugin query parameter.
func (s *Server) handlePluginScores(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.deps.Scores.Snapshots(r.Context(), r.URL.Query().Get("plugin"), 0, "")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": snaps})
}
