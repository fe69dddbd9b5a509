// SPDX-License-Identifier: MIT

// Package prober runs the background health and mini-search probes that feed
// the plugin score store.
package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/scrapecast/scrapecast/internal/log"
)

// bundledQueries is the fallback pool when no fetched pool is available.
// Broad, evergreen titles so every plugin has a fair chance of hits.
var bundledQueries = []string{
	"matrix",
	"inception",
	"interstellar",
	"breaking bad",
	"the office",
	"avatar",
	"batman",
	"star wars",
	"game of thrones",
	"stranger things",
	"john wick",
	"dune",
}

const queryPoolCacheTTL = 24 * time.Hour

// QueryPool provides probe queries with deterministic weekly rotation. The
// pool is fetched from a remote list when configured, cached on disk for a
// day, and falls back to the bundled list.
type QueryPool struct {
	fetchURL  string
	cachePath string
	client    *http.Client
	now       func() time.Time
}

// NewQueryPool creates a pool. fetchURL may be empty to use only the bundled
// list; cachePath may be empty to skip disk caching.
func NewQueryPool(fetchURL, cachePath string, client *http.Client) *QueryPool {
	return &QueryPool{fetchURL: fetchURL, cachePath: cachePath, client: client, now: time.Now}
}

// QueriesForWeek returns n queries for the current ISO week. The selection
// is a seeded shuffle keyed on (year, week), so every scheduler instance
// picks the same queries for the same week.
func (p *QueryPool) QueriesForWeek(ctx context.Context, n int) []string {
	pool := p.load(ctx)
	year, week := p.now().UTC().ISOWeek()
	seed := int64(year)*100 + int64(week)

	shuffled := append([]string(nil), pool...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func (p *QueryPool) load(ctx context.Context) []string {
	if cached := p.readCache(); cached != nil {
		return cached
	}
	if p.fetchURL == "" {
		return bundledQueries
	}
	fetched, err := p.fetch(ctx)
	if err != nil {
		log.WithComponent("prober").Warn().Err(err).Msg("query pool fetch failed, using bundled list")
		return bundledQueries
	}
	p.writeCache(fetched)
	return fetched
}

type poolCacheFile struct {
	FetchedAt time.Time `json:"fetched_at"`
	Queries   []string  `json:"queries"`
}

func (p *QueryPool) readCache() []string {
	if p.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(p.cachePath)
	if err != nil {
		return nil
	}
	var f poolCacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	if p.now().Sub(f.FetchedAt) > queryPoolCacheTTL || len(f.Queries) == 0 {
		return nil
	}
	return f.Queries
}

func (p *QueryPool) writeCache(queries []string) {
	if p.cachePath == "" {
		return
	}
	data, err := json.Marshal(poolCacheFile{FetchedAt: p.now(), Queries: queries})
	if err != nil {
		return
	}
	if err := renameio.WriteFile(p.cachePath, data, 0o644); err != nil {
		log.WithComponent("prober").Warn().Err(err).Str("path", p.cachePath).Msg("query pool cache write failed")
	}
}

func (p *QueryPool) fetch(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fetchURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("prober: query pool fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var queries []string
	if err := json.Unmarshal(body, &queries); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("prober: fetched query pool is empty")
	}
	return queries, nil
}
