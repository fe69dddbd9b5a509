// SPDX-License-Identifier: MIT

// Package indexer orchestrates single-plugin searches for the Torznab
// surface: cache, circuit breaker, pool budget, link validation and crawljob
// creation.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrapecast/scrapecast/internal/cache"
	"github.com/scrapecast/scrapecast/internal/crawljob"
	"github.com/scrapecast/scrapecast/internal/kv"
	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/metrics"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/pool"
	"github.com/scrapecast/scrapecast/internal/resilience"
)

const (
	resultCacheTTL   = 15 * time.Minute
	resultKeyPrefix  = "results:"
	cacheSweepPeriod = 5 * time.Minute
	validateTimeout  = 3 * time.Second
	validateParallel = 8
	defaultTimeout   = 30 * time.Second
	defaultLimit     = 100
)

// Item is one search hit enriched with its crawljob handle.
type Item struct {
	plugin.Result
	JobID string `json:"job_id,omitempty"`
}

// Request is one Torznab search.
type Request struct {
	Plugin string
	Query  plugin.Query
	Offset int
	Limit  int
}

// Response carries the paginated window plus cache provenance for the
// X-Cache header.
type Response struct {
	Items  []Item
	Total  int
	Cached bool
}

// Orchestrator runs indexer searches end to end.
type Orchestrator struct {
	registry *plugin.Registry
	breakers *resilience.Registry
	pool     *pool.Pool
	jobs     *crawljob.Store
	store    kv.Store
	client   *http.Client
	results  *cache.Cache[[]Item]
	validate bool
}

// New wires the orchestrator. client is used for link validation and should
// carry the rate-limited transport; jobs may be nil to skip crawljob
// creation, store may be nil to keep results in memory only.
func New(registry *plugin.Registry, breakers *resilience.Registry, p *pool.Pool, jobs *crawljob.Store, store kv.Store, client *http.Client) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		breakers: breakers,
		pool:     p,
		jobs:     jobs,
		store:    store,
		client:   client,
		results:  cache.New[[]Item](cacheSweepPeriod),
		validate: true,
	}
}

// Close stops the result cache janitor.
func (o *Orchestrator) Close() { o.results.Stop() }

// CacheStats exposes result cache counters for the stats endpoint.
func (o *Orchestrator) CacheStats() cache.Stats { return o.results.Stats() }

// Search runs one plugin search. Identical queries within the cache window
// are served from the validated result cache: in-memory first, then the KV
// store, which also carries the window across restarts.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	desc, err := o.registry.Describe(req.Plugin)
	if err != nil {
		return nil, err
	}

	key := cacheKey(req.Plugin, req.Query)
	if items, ok := o.results.Get(key); ok {
		metrics.RecordCacheHit("indexer")
		return paginate(items, req.Offset, req.Limit, true), nil
	}
	if items, ok := o.storedItems(ctx, key); ok {
		metrics.RecordCacheHit("indexer")
		o.results.Set(key, items, resultCacheTTL)
		return paginate(items, req.Offset, req.Limit, true), nil
	}
	metrics.RecordCacheMiss("indexer")

	results, err := o.dispatch(ctx, desc, req.Query)
	if err != nil {
		return nil, err
	}

	results = dedupe(results)
	if o.validate {
		results = o.validateLinks(ctx, results)
	}
	sortResults(results)

	items := o.makeItems(ctx, desc, results)
	o.results.Set(key, items, resultCacheTTL)
	o.storeItems(key, items)
	return paginate(items, req.Offset, req.Limit, false), nil
}

// storedItems reads the KV copy of a result window.
func (o *Orchestrator) storedItems(ctx context.Context, key string) ([]Item, bool) {
	if o.store == nil {
		return nil, false
	}
	data, err := o.store.Get(ctx, resultKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.WithComponent("indexer").Warn().Err(err).Msg("result cache read failed")
		}
		return nil, false
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		log.WithComponent("indexer").Warn().Err(err).Msg("dropping unreadable cached results")
		return nil, false
	}
	return items, true
}

// storeItems writes the window through to the KV store off the hot path.
func (o *Orchestrator) storeItems(key string, items []Item) {
	if o.store == nil {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	kv.PutAsync(o.store, resultKeyPrefix+key, data, resultCacheTTL)
}

// dispatch runs the plugin under its breaker, pool budget and timeout.
func (o *Orchestrator) dispatch(ctx context.Context, desc plugin.Descriptor, q plugin.Query) ([]plugin.Result, error) {
	kind := pool.Fast
	if desc.Mode == plugin.ModeHeadless {
		kind = pool.Headless
	}
	budget := o.pool.Register()
	defer budget.Close()

	var results []plugin.Result
	err := o.breakers.For(desc.Name).Execute(func() error {
		release, err := budget.Acquire(ctx, kind)
		if err != nil {
			return err
		}
		defer release()

		p, err := o.registry.Get(desc.Name)
		if err != nil {
			return err
		}

		timeout := desc.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		results, err = p.Search(sctx, q)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ObservePluginSearch(desc.Name, outcome, time.Since(start).Seconds())
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("indexer: plugin %s: %w", desc.Name, err)
		}
		return nil, fmt.Errorf("indexer: plugin %s search: %w", desc.Name, err)
	}
	return results, nil
}

// validateLinks probes the full union of primary and alternative URLs in one
// parallel batch. A dead primary is replaced by the first live alternative,
// dead alternatives are dropped, and results with no live link at all fall
// out, so every surviving result carries validated links only.
func (o *Orchestrator) validateLinks(ctx context.Context, results []plugin.Result) []plugin.Result {
	type linkRef struct{ result, alt int } // alt == -1 is the primary
	var refs []linkRef
	for i, r := range results {
		refs = append(refs, linkRef{i, -1})
		for j := range r.Alternatives {
			refs = append(refs, linkRef{i, j})
		}
	}

	alive := make([]bool, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateParallel)
	for k, ref := range refs {
		k, ref := k, ref
		g.Go(func() error {
			rawURL := results[ref.result].URL
			if ref.alt >= 0 {
				rawURL = results[ref.result].Alternatives[ref.alt].URL
			}
			alive[k] = o.linkAlive(gctx, rawURL)
			return nil
		})
	}
	_ = g.Wait()

	primaryAlive := make([]bool, len(results))
	liveAlts := make([][]plugin.AltLink, len(results))
	for k, ref := range refs {
		if !alive[k] {
			continue
		}
		if ref.alt < 0 {
			primaryAlive[ref.result] = true
		} else {
			liveAlts[ref.result] = append(liveAlts[ref.result], results[ref.result].Alternatives[ref.alt])
		}
	}

	out := results[:0]
	for i, r := range results {
		alts := liveAlts[i]
		if !primaryAlive[i] {
			if len(alts) == 0 {
				log.WithComponent("indexer").Debug().Str("title", r.Title).Msg("dropping result with no live link")
				continue
			}
			r.URL = alts[0].URL
			alts = alts[1:]
		}
		r.Alternatives = alts
		out = append(out, r)
	}
	return out
}

// linkAlive HEADs the URL with a GET fallback for servers that reject HEAD.
func (o *Orchestrator) linkAlive(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	status, err := o.check(ctx, http.MethodHead, rawURL)
	if err != nil {
		return false
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = o.check(ctx, http.MethodGet, rawURL)
		if err != nil {
			return false
		}
	}
	return status < 400
}

func (o *Orchestrator) check(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// makeItems creates one crawljob per result. A failed job write degrades the
// item to direct links instead of failing the search.
func (o *Orchestrator) makeItems(ctx context.Context, desc plugin.Descriptor, results []plugin.Result) []Item {
	items := make([]Item, 0, len(results))
	for _, r := range results {
		item := Item{Result: r}
		if o.jobs != nil {
			urls := append([]string{r.URL}, altURLs(r.Alternatives)...)
			job, err := crawljob.New(r.Title, urls, r.SourceURL, 0)
			if err == nil {
				err = o.jobs.Put(ctx, job)
			}
			if err != nil {
				log.WithComponent("indexer").Warn().Err(err).Str("plugin", desc.Name).Msg("crawljob creation failed")
			} else {
				item.JobID = job.ID
			}
		}
		items = append(items, item)
	}
	return items
}

func altURLs(alts []plugin.AltLink) []string {
	out := make([]string, 0, len(alts))
	for _, a := range alts {
		out = append(out, a.URL)
	}
	return out
}

// dedupe removes repeated (normalized title, primary URL) pairs, keeping the
// first occurrence.
func dedupe(results []plugin.Result) []plugin.Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		k := normalizeTitle(r.Title) + "\x00" + r.URL
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// normalizeTitle lowercases and collapses separators so cosmetic variants of
// the same release dedupe together.
func normalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch r {
		case '.', '-', '_', ' ':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// sortResults orders deterministically: seeders, recency, then title and URL.
func sortResults(results []plugin.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Seeders != b.Seeders {
			return a.Seeders > b.Seeders
		}
		if !a.Published.Equal(b.Published) {
			return a.Published.After(b.Published)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.URL < b.URL
	})
}

func paginate(items []Item, offset, limit int, cached bool) *Response {
	total := len(items)
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	window := make([]Item, end-offset)
	copy(window, items[offset:end])
	return &Response{Items: window, Total: total, Cached: cached}
}

// cacheKey hashes the full query identity with FNV-64a.
func cacheKey(pluginName string, q plugin.Query) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%d|%d|%d", pluginName, q.Text, q.Category, q.Season, q.Episode)
	return fmt.Sprintf("%016x", h.Sum64())
}
