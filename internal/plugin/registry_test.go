// SPDX-License-Identifier: MIT

package plugin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUnit(t *testing.T, dir, name, baseURL string) string {
	t.Helper()
	doc := fmt.Sprintf(`name: %s
mode: fast-http
provides: stream
languages: [de, en]
age_buckets: [current, y1_2]
base_url: %s
timeout_seconds: 10
search:
  path: /api/search
  params:
    q: "{query}"
    cat: "{category}"
  response:
    items: results
    title: name
    url: link
    size: size
    release: release
    alternatives: mirrors
    alt_url: url
    alt_hoster: hoster
`, name, baseURL)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestDiscoverAndPeek(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "alpha-index", "https://alpha.test")
	writeUnit(t, dir, "beta-index", "https://beta.test")

	r, err := Discover(dir, nil, http.DefaultClient, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha-index", "beta-index"}, r.Names())

	mode, err := r.Mode("alpha-index")
	require.NoError(t, err)
	assert.Equal(t, ModeFastHTTP, mode)

	langs, err := r.Languages("beta-index")
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "en"}, langs)

	_, err = r.Describe("gamma")
	assert.ErrorIs(t, err, ErrUnknownPlugin)

	assert.Equal(t, 0, r.Order("alpha-index"))
	assert.Equal(t, 1, r.Order("beta-index"))
}

func TestDiscoverRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "alpha-index", "https://a.test")
	sub := filepath.Join(dir, "more")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeUnit(t, sub, "alpha-index", "https://b.test")

	_, err := Discover(dir, nil, http.DefaultClient, nil)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestOverridesDisableAndTrim(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "alpha-index", "https://a.test")
	writeUnit(t, dir, "beta-index", "https://b.test")

	r, err := Discover(dir, map[string]Overrides{
		"alpha-index": {Disabled: true},
		"beta-index":  {MaxResults: 5},
	}, http.DefaultClient, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"beta-index"}, r.Names())
	d, err := r.Describe("beta-index")
	require.NoError(t, err)
	assert.Equal(t, 5, d.MaxResults)
}

func TestHTTPEngineSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "dark matter", r.URL.Query().Get("q"))
		assert.Equal(t, "2000", r.URL.Query().Get("cat"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"name": "Dark Matter 1080p", "link": "https://host.test/v/1", "size": 734003200,
			 "release": "Dark.Matter.2024.1080p.WEB.x264",
			 "mirrors": [{"url": "https://mirror.test/v/1", "hoster": "mirror"}]},
			{"name": "", "link": "https://host.test/v/2"},
			{"name": "Dark Matter CAM", "link": "https://host.test/v/3",
			 "mirrors": [{"url": "https://host.test/v/3"}]}
		]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeUnit(t, dir, "alpha-index", srv.URL)
	r, err := Discover(dir, nil, srv.Client(), nil)
	require.NoError(t, err)

	p, err := r.Get("alpha-index")
	require.NoError(t, err)

	results, err := p.Search(context.Background(), Query{Text: "dark matter", Category: 2000})
	require.NoError(t, err)

	// The empty-title item is dropped; the self-referential mirror is stripped.
	require.Len(t, results, 2)
	assert.Equal(t, "Dark Matter 1080p", results[0].Title)
	assert.Equal(t, int64(734003200), results[0].SizeBytes)
	assert.Equal(t, "Dark.Matter.2024.1080p.WEB.x264", results[0].ReleaseName)
	require.Len(t, results[0].Alternatives, 1)
	assert.Equal(t, "mirror", results[0].Alternatives[0].Hoster)
	assert.Empty(t, results[1].Alternatives)
}

func TestMaxConcurrentOverrideCapsSearches(t *testing.T) {
	var current, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeUnit(t, dir, "alpha-index", srv.URL)
	r, err := Discover(dir, map[string]Overrides{
		"alpha-index": {MaxConcurrent: 1},
	}, srv.Client(), nil)
	require.NoError(t, err)

	p, err := r.Get("alpha-index")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Search(context.Background(), Query{Text: "dark matter", Category: 2000})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load(), "searches serialize under max_concurrent 1")
}

func TestGetCachesInstance(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "alpha-index", "https://a.test")
	r, err := Discover(dir, nil, http.DefaultClient, nil)
	require.NoError(t, err)

	p1, err := r.Get("alpha-index")
	require.NoError(t, err)
	p2, err := r.Get("alpha-index")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestHeadlessUnitWithoutRenderer(t *testing.T) {
	dir := t.TempDir()
	doc := `name: browser-index
mode: headless-browser
provides: stream
languages: [de]
base_url: https://b.test
search:
  path: /search
  response:
    items: results
    title: name
    url: link
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "browser-index.yaml"), []byte(doc), 0o644))

	r, err := Discover(dir, nil, http.DefaultClient, nil)
	require.NoError(t, err)

	p, err := r.Get("browser-index")
	require.NoError(t, err)
	_, err = p.Search(context.Background(), Query{Text: "x"})
	assert.ErrorIs(t, err, ErrBrowserUnavailable)
}

func TestBucketForYear(t *testing.T) {
	now, err := time.Parse("2006-01-02", "2026-08-26")
	require.NoError(t, err)
	assert.Equal(t, BucketCurrent, BucketForYear(2026, now))
	assert.Equal(t, BucketY12, BucketForYear(2024, now))
	assert.Equal(t, BucketY510, BucketForYear(2019, now))
}
