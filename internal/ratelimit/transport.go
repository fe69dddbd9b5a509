// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/scrapecast/scrapecast/internal/log"
)

const (
	retryMaxAttempts = 2
	retryBaseBackoff = 500 * time.Millisecond
	retryMaxBackoff  = 10 * time.Second
)

// Transport is an http.RoundTripper that charges one token per request
// against the target domain's bucket and feeds response outcomes back into
// the AIMD controller. 429/503 responses are retried with capped backoff;
// timeouts are reported and never retried.
type Transport struct {
	Base    http.RoundTripper
	Limiter *Limiter

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTransport wraps base with the limiter. A nil base falls back to
// http.DefaultTransport.
func NewTransport(base http.RoundTripper, limiter *Limiter) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Limiter: limiter, sleep: sleepCtx}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	domain := RegistrableDomain(req.URL)
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if err := t.Limiter.Wait(ctx, domain); err != nil {
			return nil, err
		}

		resp, err := t.Base.RoundTrip(req)
		if err != nil {
			if isTimeout(err) {
				t.Limiter.RecordTimeout(domain)
			}
			return nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 400:
			t.Limiter.RecordSuccess(domain)
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			t.Limiter.RecordThrottle(domain)
			if attempt >= retryMaxAttempts || req.Body != nil {
				return resp, nil
			}
			delay := retryDelay(resp, attempt)
			drain(resp)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
			log.WithComponent("ratelimit").Debug().
				Str("domain", domain).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying throttled request")

		default:
			// Other statuses are the caller's problem, not rate feedback.
			return resp, nil
		}
	}
}

// retryDelay prefers Retry-After (seconds, capped) and otherwise uses
// exponential backoff with jitter.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > retryMaxBackoff {
				d = retryMaxBackoff
			}
			return d
		}
	}
	d := retryBaseBackoff * time.Duration(1<<attempt)
	d += time.Duration(rand.Int63n(int64(retryBaseBackoff)))
	if d > retryMaxBackoff {
		d = retryMaxBackoff
	}
	return d
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RegistrableDomain reduces a URL to its eTLD+1 so that subdomains of one
// site share a bucket. Hosts without a public suffix (IPs, localhost) are
// used verbatim.
func RegistrableDomain(u *url.URL) string {
	host := u.Hostname()
	if host == "" {
		return "unknown"
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
