// SPDX-License-Identifier: MIT

// Package resolver turns streaming-host embed URLs into direct playable
// video URLs. Resolvers are dispatched by registrable domain; unmatched URLs
// are chased through redirects and finally content-type probed.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scrapecast/scrapecast/internal/cache"
	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/metrics"
	"github.com/scrapecast/scrapecast/internal/ratelimit"
)

const (
	defaultCacheTTL  = 2 * time.Hour
	maxRedirectHops  = 3
	probeTimeout     = 5 * time.Second
	cacheSweepPeriod = 10 * time.Minute
)

// ErrUnsupportedHost is returned when no resolver claims the URL's domain.
var ErrUnsupportedHost = errors.New("resolver: unsupported hoster")

// ResolvedStream is a playable target. Headers carries whatever the player
// must send (typically Referer and User-Agent).
type ResolvedStream struct {
	VideoURL string            `json:"video_url"`
	Quality  string            `json:"quality,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Resolver resolves one hoster family. A (nil, nil) return means the file is
// confirmed offline, deleted or captcha-walled.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*ResolvedStream, error)
}

// cached wraps the nil-able resolution outcome for the TTL cache.
type cached struct {
	stream *ResolvedStream
}

// Registry is the domain-dispatch table.
type Registry struct {
	client    *http.Client
	byDomain  map[string]Resolver
	domains   []string
	cache     *cache.Cache[cached]
	cacheTTL  time.Duration
	group     singleflight.Group
	probeType bool // content-type fallback enabled
}

// NewRegistry creates an empty registry. client is used for redirect chasing
// and content-type probes and should carry the rate-limited transport.
func NewRegistry(client *http.Client, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Registry{
		client:    client,
		byDomain:  make(map[string]Resolver),
		cache:     cache.New[cached](cacheSweepPeriod),
		cacheTTL:  cacheTTL,
		probeType: true,
	}
}

// Register binds a resolver to one or more registrable domains.
func (r *Registry) Register(res Resolver, domains ...string) {
	for _, d := range domains {
		d = strings.ToLower(d)
		if _, dup := r.byDomain[d]; !dup {
			r.domains = append(r.domains, d)
		}
		r.byDomain[d] = res
	}
}

// Supports reports whether the URL's domain has a registered resolver.
func (r *Registry) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := r.byDomain[ratelimit.RegistrableDomain(u)]
	return ok
}

// Domains lists the registered domains in registration order.
func (r *Registry) Domains() []string {
	return append([]string(nil), r.domains...)
}

// Close stops the cache janitor.
func (r *Registry) Close() {
	r.cache.Stop()
}

// CacheStats exposes cache counters for the stats endpoint.
func (r *Registry) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Resolve maps a URL to a direct stream. Outcomes, including confirmed-dead
// ones, are cached; concurrent resolves of the same URL are collapsed.
func (r *Registry) Resolve(ctx context.Context, rawURL string) (*ResolvedStream, error) {
	if c, ok := r.cache.Get(rawURL); ok {
		metrics.RecordCacheHit("resolver")
		return c.stream, nil
	}
	metrics.RecordCacheMiss("resolver")

	v, err, _ := r.group.Do(rawURL, func() (any, error) {
		stream, err := r.resolveUncached(ctx, rawURL)
		if err == nil {
			r.cache.Set(rawURL, cached{stream: stream}, r.cacheTTL)
		}
		return stream, err
	})
	if err != nil {
		return nil, err
	}
	stream, _ := v.(*ResolvedStream)
	return stream, nil
}

func (r *Registry) resolveUncached(ctx context.Context, rawURL string) (*ResolvedStream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if res, ok := r.byDomain[ratelimit.RegistrableDomain(u)]; ok {
		return res.Resolve(ctx, rawURL)
	}

	// Shorteners and interstitials: follow redirects until a known domain
	// appears.
	finalURL, err := r.followRedirects(ctx, rawURL)
	if err == nil && finalURL != rawURL {
		if fu, perr := url.Parse(finalURL); perr == nil {
			if res, ok := r.byDomain[ratelimit.RegistrableDomain(fu)]; ok {
				return res.Resolve(ctx, finalURL)
			}
		}
		rawURL = finalURL
	}

	if r.probeType && r.looksLikeDirectVideo(ctx, rawURL) {
		return &ResolvedStream{VideoURL: rawURL}, nil
	}
	return nil, ErrUnsupportedHost
}

// followRedirects resolves the final location of a URL without downloading
// bodies, up to maxRedirectHops.
func (r *Registry) followRedirects(ctx context.Context, rawURL string) (string, error) {
	current := rawURL
	for hop := 0; hop < maxRedirectHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			return current, err
		}
		resp, err := r.noRedirectClient().Do(req)
		if err != nil {
			return current, err
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 300 || resp.StatusCode >= 400 {
			return current, nil
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return current, nil
		}
		next, err := resp.Request.URL.Parse(loc)
		if err != nil {
			return current, err
		}
		current = next.String()
	}
	return current, nil
}

func (r *Registry) noRedirectClient() *http.Client {
	c := *r.client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.Timeout = probeTimeout
	return &c
}

// looksLikeDirectVideo HEADs the URL and accepts video/* and HLS manifests.
func (r *Registry) looksLikeDirectVideo(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	ok := strings.HasPrefix(ct, "video/") ||
		strings.Contains(ct, "mpegurl") ||
		strings.Contains(ct, "octet-stream")
	if ok {
		log.WithComponent("resolver").Debug().Str("url", rawURL).Str("content_type", ct).Msg("accepted direct video by content type")
	}
	return ok
}
