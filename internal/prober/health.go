// SPDX-License-Identifier: MIT

package prober

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/scoring"
)

const healthProbeTimeout = 5 * time.Second

// cloudflare challenge markers in interstitial pages.
var challengeMarkers = []string{"cf-chl", "Just a moment", "Attention Required"}

// HealthProber checks whether a plugin's site answers at all. It HEADs the
// base URL, falls back to a one-byte ranged GET for servers that reject HEAD,
// and tries declared mirrors when the primary is down.
type HealthProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewHealthProber creates a prober over the given client, which should carry
// the rate-limited transport.
func NewHealthProber(client *http.Client) *HealthProber {
	return &HealthProber{client: client, timeout: healthProbeTimeout}
}

// Probe checks the plugin's base URL and, when that fails, its mirrors. The
// returned URL is the first one that answered, or the base URL when nothing
// did.
func (h *HealthProber) Probe(ctx context.Context, desc plugin.Descriptor) (scoring.HealthProbe, string) {
	candidates := append([]string{desc.BaseURL}, desc.Mirrors...)
	var last scoring.HealthProbe
	for _, u := range candidates {
		if u == "" {
			continue
		}
		probe := h.probeURL(ctx, u)
		if probe.OK {
			return probe, u
		}
		last = probe
	}
	return last, desc.BaseURL
}

func (h *HealthProber) probeURL(ctx context.Context, rawURL string) scoring.HealthProbe {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	resp, err := h.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return scoring.HealthProbe{Duration: time.Since(start)}
	}
	_ = resp.Body.Close()

	// Some sites reject HEAD outright; retry with a one-byte GET.
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = h.do(ctx, http.MethodGet, rawURL)
		if err != nil {
			return scoring.HealthProbe{Duration: time.Since(start)}
		}
	}
	elapsed := time.Since(start)

	if isChallenge(resp) {
		_ = resp.Body.Close()
		return scoring.HealthProbe{Captcha: true, StatusCode: resp.StatusCode, Duration: elapsed}
	}
	_ = resp.Body.Close()

	return scoring.HealthProbe{OK: resp.StatusCode < 500, StatusCode: resp.StatusCode, Duration: elapsed}
}

func (h *HealthProber) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	return h.client.Do(req)
}

// isChallenge detects a Cloudflare or similar bot wall. A cf-ray header with
// a 403/503 is the reliable signal; page markers catch the rest.
func isChallenge(resp *http.Response) bool {
	blocked := resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable
	if !blocked {
		return false
	}
	if resp.Header.Get("cf-ray") != "" {
		return true
	}
	if resp.Body == nil {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false
	}
	page := string(body)
	for _, m := range challengeMarkers {
		if strings.Contains(page, m) {
			return true
		}
	}
	return false
}
