// SPDX-License-Identifier: MIT

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// httpEngine executes fast-http units against JSON search APIs. It fetches
// through the injected client (which carries the rate-limited transport) and
// extracts results via the unit's dot-path response mapping.
type httpEngine struct {
	unit   *Unit
	client *http.Client
}

func newHTTPEngine(u *Unit, client *http.Client) *httpEngine {
	return &httpEngine{unit: u, client: client}
}

func (e *httpEngine) Search(ctx context.Context, q Query) ([]Result, error) {
	req, err := e.buildRequest(ctx, q)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: search request: %w", e.unit.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("plugin %s: search returned status %d", e.unit.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: read body: %w", e.unit.Name, err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("plugin %s: decode body: %w", e.unit.Name, err)
	}
	return extractResults(e.unit, doc)
}

func (e *httpEngine) buildRequest(ctx context.Context, q Query) (*http.Request, error) {
	base, err := url.Parse(e.unit.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: base url: %w", e.unit.Name, err)
	}
	ref, err := url.Parse(expandPlaceholders(e.unit.Search.Path, q))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: search path: %w", e.unit.Name, err)
	}
	target := base.ResolveReference(ref)

	values := target.Query()
	for k, v := range e.unit.Search.Params {
		values.Set(k, expandPlaceholders(v, q))
	}
	target.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range e.unit.Search.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func expandPlaceholders(s string, q Query) string {
	r := strings.NewReplacer(
		"{query}", q.Text,
		"{category}", strconv.Itoa(q.Category),
		"{season}", strconv.Itoa(q.Season),
		"{episode}", strconv.Itoa(q.Episode),
	)
	return r.Replace(s)
}

// extractResults walks the decoded JSON document along the unit's field paths.
func extractResults(u *Unit, doc any) ([]Result, error) {
	spec := u.Search.Response
	itemsRaw := lookupPath(doc, spec.Items)
	items, ok := itemsRaw.([]any)
	if !ok {
		if itemsRaw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin %s: items path %q is not an array", u.Name, spec.Items)
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		r := Result{
			Title:       asString(lookupPath(item, spec.Title)),
			URL:         asString(lookupPath(item, spec.URL)),
			SizeBytes:   asInt64(lookupPath(item, spec.Size)),
			Seeders:     int(asInt64(lookupPath(item, spec.Seeders))),
			Peers:       int(asInt64(lookupPath(item, spec.Peers))),
			ReleaseName: asString(lookupPath(item, spec.Release)),
			SourceURL:   asString(lookupPath(item, spec.SourceURL)),
		}
		if spec.Alternatives != "" {
			if alts, ok := lookupPath(item, spec.Alternatives).([]any); ok {
				for _, a := range alts {
					alt := AltLink{
						URL:    asString(lookupPath(a, spec.AltURL)),
						Hoster: asString(lookupPath(a, spec.AltHoster)),
					}
					if alt.URL != "" {
						r.Alternatives = append(r.Alternatives, alt)
					}
				}
			}
		}
		if err := r.Validate(); err != nil {
			continue // skip malformed items, keep the rest
		}
		results = append(results, r)
	}
	if u.MaxResults > 0 && len(results) > u.MaxResults {
		results = results[:u.MaxResults]
	}
	return results, nil
}

// lookupPath resolves a dot-separated path against nested JSON maps. An empty
// path returns the document itself; "." addresses the current item.
func lookupPath(doc any, path string) any {
	if path == "" {
		return nil
	}
	if path == "." {
		return doc
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
