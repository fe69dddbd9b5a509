// SPDX-License-Identifier: MIT

// Package httpx builds the hardened HTTP clients the daemon talks to the
// outside world with.
package httpx

import (
	"net"
	"net/http"
	"time"

	"github.com/scrapecast/scrapecast/internal/ratelimit"
)

const (
	defaultClientTimeout         = 30 * time.Second
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 64
	defaultMaxIdleConnsPerHost   = 8
)

// NewTransport returns the hardened transport all outbound traffic shares.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultDialTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}

// NewClient returns a hardened client without rate limiting, for internal
// probes and metadata lookups.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(),
	}
}

// NewScrapeClient returns the client for plugin traffic: hardened transport
// chained behind the per-domain adaptive rate limiter. No top-level Timeout
// is set; callers bound each request with a context.
func NewScrapeClient(limiter *ratelimit.Limiter) *http.Client {
	return &http.Client{
		Transport: &ratelimit.Transport{
			Base:    NewTransport(),
			Limiter: limiter,
		},
	}
}
