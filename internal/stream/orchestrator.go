// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/metrics"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/pool"
	"github.com/scrapecast/scrapecast/internal/ratelimit"
	"github.com/scrapecast/scrapecast/internal/resilience"
	"github.com/scrapecast/scrapecast/internal/resolver"
	"github.com/scrapecast/scrapecast/internal/scoring"
	"github.com/scrapecast/scrapecast/internal/titles"
)

const (
	CategoryMovies = 2000
	CategorySeries = 5000
)

// Config tunes the stream orchestrator.
type Config struct {
	TopN              int
	Exploration       float64
	MinConfidence     float64
	SimilarityMin     float64
	ResolveTarget     int
	MaxProbe          int
	QualityMultiplier float64
	HosterBonus       map[string]int
	SearchTimeout     time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TopN:              5,
		Exploration:       0.15,
		MinConfidence:     0.1,
		SimilarityMin:     0.7,
		ResolveTarget:     15,
		MaxProbe:          30,
		QualityMultiplier: 1,
		SearchTimeout:     20 * time.Second,
	}
}

// Request identifies one piece of content.
type Request struct {
	Type    string // "movie" or "series"
	ImdbID  string
	Season  int
	Episode int
}

// Stream is one playable offer. Exactly one of VideoURL and PlayToken is
// set: pre-resolved streams carry the direct URL, the rest late-resolve
// through /stremio/play/{token}.
type Stream struct {
	Plugin    string            `json:"plugin"`
	Hoster    string            `json:"hoster"`
	Title     string            `json:"title"`
	Quality   string            `json:"quality,omitempty"`
	Language  string            `json:"language,omitempty"`
	Rank      int               `json:"-"`
	VideoURL  string            `json:"video_url,omitempty"`
	PlayToken string            `json:"play_token,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// titleResolver is the titles.Service port.
type titleResolver interface {
	Resolve(ctx context.Context, imdbID, mediaType string) (*titles.Title, error)
}

// hosterResolver is the resolver.Registry port.
type hosterResolver interface {
	Supports(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (*resolver.ResolvedStream, error)
}

// Orchestrator runs the Stremio stream pipeline.
type Orchestrator struct {
	cfg       Config
	registry  *plugin.Registry
	breakers  *resilience.Registry
	pool      *pool.Pool
	scores    *scoring.Store
	titles    titleResolver
	resolvers hosterResolver
	plays     *PlayStore
	now       func() time.Time
}

// New wires the orchestrator. Zero config fields fall back to defaults.
func New(cfg Config, registry *plugin.Registry, breakers *resilience.Registry, p *pool.Pool, scores *scoring.Store, t titleResolver, r hosterResolver, plays *PlayStore) *Orchestrator {
	def := DefaultConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.Exploration <= 0 {
		cfg.Exploration = def.Exploration
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.SimilarityMin <= 0 {
		cfg.SimilarityMin = def.SimilarityMin
	}
	if cfg.ResolveTarget <= 0 {
		cfg.ResolveTarget = def.ResolveTarget
	}
	if cfg.MaxProbe <= 0 {
		cfg.MaxProbe = def.MaxProbe
	}
	if cfg.MaxProbe < cfg.ResolveTarget {
		cfg.MaxProbe = cfg.ResolveTarget
	}
	if cfg.QualityMultiplier <= 0 {
		cfg.QualityMultiplier = def.QualityMultiplier
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		breakers:  breakers,
		pool:      p,
		scores:    scores,
		titles:    t,
		resolvers: r,
		plays:     plays,
		now:       time.Now,
	}
}

// hit is one matched result with its provenance.
type hit struct {
	result plugin.Result
	plugin string
	order  int
	info   ReleaseInfo
	rank   int
	hoster string
}

// Streams resolves the content id and fans out to the selected plugins,
// returning ranked, per-hoster deduplicated streams with the best ones
// pre-resolved.
func (o *Orchestrator) Streams(ctx context.Context, req Request) ([]Stream, error) {
	title, err := o.titles.Resolve(ctx, req.ImdbID, req.Type)
	if err != nil {
		return nil, fmt.Errorf("stream: resolve title %s: %w", req.ImdbID, err)
	}

	category := CategoryMovies
	series := req.Type == "series"
	if series {
		category = CategorySeries
	}
	bucket := plugin.BucketForYear(title.Year, o.now())
	contentKey := fmt.Sprintf("%s:%d:%d", req.ImdbID, req.Season, req.Episode)

	descs := o.selectPlugins(ctx, category, bucket, contentKey)
	if len(descs) == 0 {
		return nil, nil
	}

	hits := o.fanOut(ctx, descs, title, category, req, series)

	hits = dedupeByHoster(hits)
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank > hits[j].rank
		}
		if hits[i].order != hits[j].order {
			return hits[i].order < hits[j].order
		}
		return hits[i].result.URL < hits[j].result.URL
	})

	return o.materialize(ctx, hits), nil
}

// fanOut runs the search plan: language groups in parallel, plugins within
// each group in parallel under one pool budget. Each plugin walks its
// group's query variants until one returns results.
func (o *Orchestrator) fanOut(ctx context.Context, descs []plugin.Descriptor, title *titles.Title, category int, req Request, series bool) []hit {
	budget := o.pool.Register()
	defer budget.Close()

	var mu sync.Mutex
	var hits []hit

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range buildPlan(descs, title) {
		group := group
		for _, desc := range group.descs {
			desc := desc
			g.Go(func() error {
				for _, text := range group.queries {
					results, err := o.searchOne(gctx, budget, desc, plugin.Query{
						Text:     text,
						Category: category,
						Season:   req.Season,
						Episode:  req.Episode,
					})
					if err != nil {
						if !errors.Is(err, resilience.ErrCircuitOpen) {
							log.WithComponent("stream").Debug().Err(err).Str("plugin", desc.Name).Msg("fan-out search failed")
						}
						return nil // one bad plugin never fails the fan-out
					}
					if len(results) == 0 {
						continue // next query variant
					}
					matched := o.match(results, desc, title, series)
					mu.Lock()
					hits = append(hits, matched...)
					mu.Unlock()
					return nil
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return hits
}

func (o *Orchestrator) searchOne(ctx context.Context, budget *pool.Budget, desc plugin.Descriptor, q plugin.Query) ([]plugin.Result, error) {
	kind := pool.Fast
	if desc.Mode == plugin.ModeHeadless {
		kind = pool.Headless
	}
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
			timeout = o.cfg.SearchTimeout
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
	return results, err
}

// match keeps results whose title score clears the threshold, where a
// release year confirming the wanted one adds a bonus, then ranks them.
func (o *Orchestrator) match(results []plugin.Result, desc plugin.Descriptor, title *titles.Title, series bool) []hit {
	order := o.registry.Order(desc.Name)
	var out []hit
	for _, r := range results {
		sim := Similarity(r.Title, title.Name)
		if title.OriginalName != "" && title.OriginalName != title.Name {
			if s := Similarity(r.Title, title.OriginalName); s > sim {
				sim = s
			}
		}

		release := r.ReleaseName
		if release == "" {
			release = r.Title
		}
		info := ParseRelease(release)
		if TitleScore(sim, info.Year, title.Year, series) < o.cfg.SimilarityMin {
			continue
		}
		if info.Language == "" && len(desc.Languages) > 0 {
			info.Language = desc.Languages[0]
		}

		hoster := hosterOf(r.URL)
		out = append(out, hit{
			result: r,
			plugin: desc.Name,
			order:  order,
			info:   info,
			rank:   Rank(info, o.cfg.QualityMultiplier, o.cfg.HosterBonus[hoster]),
			hoster: hoster,
		})
	}
	return out
}

// dedupeByHoster keeps the single best hit per hoster name; ties go to the
// earlier-registered plugin.
func dedupeByHoster(hits []hit) []hit {
	best := make(map[string]int, len(hits)) // hoster -> index into out
	var out []hit
	for _, h := range hits {
		i, ok := best[h.hoster]
		if !ok {
			best[h.hoster] = len(out)
			out = append(out, h)
			continue
		}
		if h.rank > out[i].rank || (h.rank == out[i].rank && h.order < out[i].order) {
			out[i] = h
		}
	}
	return out
}

// resolveParallel bounds the pre-resolve fan-out.
const resolveParallel = 8

// materialize probes the top candidates through the resolver in parallel and
// cancels the remainder once the target number of direct URLs is in hand.
// Unresolved streams get a late-resolve token, confirmed-dead links drop out.
func (o *Orchestrator) materialize(ctx context.Context, hits []hit) []Stream {
	type outcome struct {
		rs   *resolver.ResolvedStream
		dead bool
	}
	probeN := len(hits)
	if probeN > o.cfg.MaxProbe {
		probeN = o.cfg.MaxProbe
	}
	outcomes := make([]outcome, probeN)

	rctx, cancelResolves := context.WithCancel(ctx)
	defer cancelResolves()
	var resolved atomic.Int32
	var g errgroup.Group
	g.SetLimit(resolveParallel)
	for i := 0; i < probeN; i++ {
		i, h := i, hits[i]
		if !o.resolvers.Supports(h.result.URL) {
			continue
		}
		g.Go(func() error {
			if rctx.Err() != nil {
				return nil // target met before this probe started
			}
			rs, err := o.resolvers.Resolve(rctx, h.result.URL)
			switch {
			case err == nil && rs == nil:
				outcomes[i].dead = true
			case err == nil:
				outcomes[i].rs = rs
				if int(resolved.Add(1)) >= o.cfg.ResolveTarget {
					cancelResolves()
				}
			default:
				log.WithComponent("stream").Debug().Err(err).Str("url", h.result.URL).Msg("pre-resolve failed, degrading to play token")
			}
			return nil
		})
	}
	_ = g.Wait()
	cancelResolves()

	streams := make([]Stream, 0, len(hits))
	direct := 0
	for i, h := range hits {
		s := Stream{
			Plugin:   h.plugin,
			Hoster:   h.hoster,
			Title:    h.result.Title,
			Quality:  h.info.Quality,
			Language: h.info.Language,
			Rank:     h.rank,
		}
		if i < probeN {
			if outcomes[i].dead {
				continue
			}
			// Successes racing past the target still degrade to tokens, so
			// the direct set never exceeds it.
			if rs := outcomes[i].rs; rs != nil && direct < o.cfg.ResolveTarget {
				s.VideoURL = rs.VideoURL
				s.Headers = rs.Headers
				if rs.Quality != "" {
					s.Quality = rs.Quality
				}
				direct++
				streams = append(streams, s)
				continue
			}
		}

		token, err := o.plays.Create(ctx, PlayTarget{URL: h.result.URL, Hoster: h.hoster})
		if err != nil {
			log.WithComponent("stream").Warn().Err(err).Msg("play token creation failed")
			continue
		}
		s.PlayToken = token
		streams = append(streams, s)
	}
	return streams
}

// ErrStreamGone marks a redeemed token whose hoster link no longer yields a
// direct video URL.
var ErrStreamGone = errors.New("stream: hoster link gone")

// Play redeems a token and resolves the hoster link on the spot.
func (o *Orchestrator) Play(ctx context.Context, token string) (*resolver.ResolvedStream, error) {
	target, err := o.plays.Redeem(ctx, token)
	if err != nil {
		return nil, err
	}
	rs, err := o.resolvers.Resolve(ctx, target.URL)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, ErrStreamGone
	}
	return rs, nil
}

// hosterOf extracts the registrable domain of a link.
func hosterOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return ratelimit.RegistrableDomain(u)
}
