// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// HosterConfig parameterises one member of the XFS hoster family. Most
// one-click streaming hosts run the same script with different markers.
type HosterConfig struct {
	Name           string   `yaml:"name"`
	Domains        []string `yaml:"domains"`
	FileIDPattern  string   `yaml:"file_id_pattern"`
	OfflineMarkers []string `yaml:"offline_markers"`
	CaptchaMarkers []string `yaml:"captcha_markers"`
	IsVideo        bool     `yaml:"is_video"`
	EmbedPath      string   `yaml:"embed_path"` // e.g. "/e/{id}", empty keeps the original URL
}

// Source URL extraction patterns shared across the family, tried in order.
var xfsSourcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`file\s*:\s*"(https?://[^"]+?\.(?:m3u8|mp4)[^"]*)"`),
	regexp.MustCompile(`sources\s*:\s*\[\s*\{\s*(?:src|file)\s*:\s*"(https?://[^"]+)"`),
	regexp.MustCompile(`<source[^>]+src="(https?://[^"]+)"`),
}

var xfsQualityPattern = regexp.MustCompile(`label\s*:\s*"((?:2160|1080|720|480|360)p?)"`)

// XFS resolves one configured XFS-family hoster.
type XFS struct {
	cfg    HosterConfig
	fileID *regexp.Regexp
	client *http.Client
}

// NewXFS builds a resolver from hoster config.
func NewXFS(cfg HosterConfig, client *http.Client) (*XFS, error) {
	if cfg.Name == "" || len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("resolver: xfs config needs name and domains")
	}
	pattern := cfg.FileIDPattern
	if pattern == "" {
		pattern = `/(?:e|v|embed)[-/]([a-zA-Z0-9]{6,})`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("resolver: xfs %s file id pattern: %w", cfg.Name, err)
	}
	return &XFS{cfg: cfg, fileID: re, client: client}, nil
}

// Name returns the hoster name.
func (x *XFS) Name() string { return x.cfg.Name }

// Resolve fetches the embed page and extracts the direct source. Offline and
// captcha-walled files resolve to (nil, nil).
func (x *XFS) Resolve(ctx context.Context, rawURL string) (*ResolvedStream, error) {
	pageURL := rawURL
	if x.cfg.EmbedPath != "" {
		m := x.fileID.FindStringSubmatch(rawURL)
		if len(m) < 2 {
			return nil, fmt.Errorf("resolver: %s: no file id in %s", x.cfg.Name, rawURL)
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		u.Path = strings.ReplaceAll(x.cfg.EmbedPath, "{id}", m[1])
		u.RawQuery = ""
		pageURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", rawURL)
	resp, err := x.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, nil // confirmed gone
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("resolver: %s: status %d for %s", x.cfg.Name, resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	page := string(body)

	for _, marker := range x.cfg.OfflineMarkers {
		if strings.Contains(page, marker) {
			return nil, nil
		}
	}
	for _, marker := range x.cfg.CaptchaMarkers {
		if strings.Contains(page, marker) {
			return nil, nil
		}
	}

	for _, re := range xfsSourcePatterns {
		if m := re.FindStringSubmatch(page); len(m) >= 2 {
			stream := &ResolvedStream{
				VideoURL: m[1],
				Headers: map[string]string{
					"Referer": pageURL,
				},
			}
			if q := xfsQualityPattern.FindStringSubmatch(page); len(q) >= 2 {
				stream.Quality = strings.TrimSuffix(q[1], "p")
			}
			return stream, nil
		}
	}
	return nil, fmt.Errorf("resolver: %s: no source found in %s", x.cfg.Name, pageURL)
}

// RegisterXFSFamily builds and registers all configured XFS hosters.
func RegisterXFSFamily(reg *Registry, client *http.Client, configs []HosterConfig) error {
	for _, cfg := range configs {
		res, err := NewXFS(cfg, client)
		if err != nil {
			return err
		}
		reg.Register(res, cfg.Domains...)
	}
	return nil
}
