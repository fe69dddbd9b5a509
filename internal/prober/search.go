// SPDX-License-Identifier: MIT

package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/scrapecast/scrapecast/internal/metrics"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/scoring"
)

const (
	searchProbeTimeout = 10 * time.Second
	searchProbeItems   = 20
	// itemsSaturation is the hit count at which items_ratio reaches 1.
	itemsSaturation = 10
	linkChecksMax   = 3
	linkCheckBudget = 3 * time.Second
)

// linkChecker reports whether a result URL belongs to a known hoster. The
// resolver registry implements it.
type linkChecker interface {
	Supports(rawURL string) bool
}

// SearchProber runs a short real search against a plugin and grades the
// outcome: did it answer, how fast, how many hits, and do the hits point at
// hosters we can actually resolve.
type SearchProber struct {
	registry *plugin.Registry
	hosters  linkChecker
	client   *http.Client
	timeout  time.Duration
}

// NewSearchProber wires the prober. hosters may be nil when no resolver
// registry exists; supported/reachable ratios are then zero.
func NewSearchProber(registry *plugin.Registry, hosters linkChecker, client *http.Client) *SearchProber {
	return &SearchProber{registry: registry, hosters: hosters, client: client, timeout: searchProbeTimeout}
}

// Probe searches the named plugin and grades the results.
func (s *SearchProber) Probe(ctx context.Context, name string, q plugin.Query) scoring.SearchProbe {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.registry.Get(name)
	if err != nil {
		return scoring.SearchProbe{}
	}

	start := time.Now()
	results, err := p.Search(ctx, q)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObservePluginSearch(name, "error", elapsed.Seconds())
		return scoring.SearchProbe{Duration: elapsed}
	}
	metrics.ObservePluginSearch(name, "ok", elapsed.Seconds())

	if len(results) > searchProbeItems {
		results = results[:searchProbeItems]
	}
	probe := scoring.SearchProbe{
		OK:         true,
		Duration:   elapsed,
		ItemsRatio: minf(1, float64(len(results))/itemsSaturation),
	}
	if s.hosters == nil || len(results) == 0 {
		return probe
	}

	var supported []string
	for _, r := range results {
		if s.hosters.Supports(r.URL) {
			supported = append(supported, r.URL)
			continue
		}
		for _, alt := range r.Alternatives {
			if s.hosters.Supports(alt.URL) {
				supported = append(supported, alt.URL)
				break
			}
		}
	}
	probe.HosterSupportedRatio = float64(len(supported)) / float64(len(results))

	if len(supported) > linkChecksMax {
		supported = supported[:linkChecksMax]
	}
	reachable := 0
	for _, u := range supported {
		if s.linkAlive(ctx, u) {
			reachable++
		}
	}
	if len(supported) > 0 {
		probe.HosterReachableRatio = float64(reachable) / float64(len(supported))
	}
	return probe
}

func (s *SearchProber) linkAlive(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, linkCheckBudget)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 400
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
