// SPDX-License-Identifier: MIT

package prober

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scrapecast/scrapecast/internal/kv"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/scoring"
)

func TestQueryPoolWeeklyDeterminism(t *testing.T) {
	p := NewQueryPool("", "", http.DefaultClient)
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	n := len(bundledQueries)
	a := p.QueriesForWeek(context.Background(), n)
	b := p.QueriesForWeek(context.Background(), n)
	require.Len(t, a, n)
	assert.Equal(t, a, b, "same week must pick the same queries")
	assert.ElementsMatch(t, bundledQueries, a)

	p.now = func() time.Time { return fixed.AddDate(0, 0, 7) }
	c := p.QueriesForWeek(context.Background(), n)
	assert.NotEqual(t, a, c, "a new week rotates the selection")
}

func TestQueryPoolFetchAndDiskCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`["query one", "query two", "query three"]`))
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "queries.json")
	p := NewQueryPool(srv.URL, cachePath, srv.Client())

	got := p.QueriesForWeek(context.Background(), 2)
	require.Len(t, got, 2)
	assert.Equal(t, 1, calls)

	// Second call is served from the disk cache.
	_ = p.QueriesForWeek(context.Background(), 2)
	assert.Equal(t, 1, calls)

	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "query one")
}

func TestQueryPoolFetchFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewQueryPool(srv.URL, "", srv.Client())
	got := p.QueriesForWeek(context.Background(), 3)
	require.Len(t, got, 3)
	for _, q := range got {
		assert.Contains(t, bundledQueries, q)
	}
}

func TestHealthProbeOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	h := NewHealthProber(srv.Client())
	probe, used := h.Probe(context.Background(), plugin.Descriptor{Name: "alpha-index", BaseURL: srv.URL})
	assert.True(t, probe.OK)
	assert.False(t, probe.Captcha)
	assert.Equal(t, srv.URL, used)
}

func TestHealthProbeHeadRejectedFallsBackToRangedGet(t *testing.T) {
	var sawRange bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sawRange = r.Header.Get("Range") == "bytes=0-0"
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	h := NewHealthProber(srv.Client())
	probe, _ := h.Probe(context.Background(), plugin.Descriptor{Name: "alpha-index", BaseURL: srv.URL})
	assert.True(t, probe.OK)
	assert.True(t, sawRange)
}

func TestHealthProbeDetectsChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "8c1f2a3b4d5e6f70-FRA")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHealthProber(srv.Client())
	probe, _ := h.Probe(context.Background(), plugin.Descriptor{Name: "alpha-index", BaseURL: srv.URL})
	assert.True(t, probe.Captcha)
	assert.False(t, probe.OK)
}

func TestHealthProbeFallsBackToMirror(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	h := NewHealthProber(up.Client())
	probe, used := h.Probe(context.Background(), plugin.Descriptor{
		Name:    "alpha-index",
		BaseURL: down.URL,
		Mirrors: []string{up.URL},
	})
	assert.True(t, probe.OK)
	assert.Equal(t, up.URL, used)
}

type stubChecker struct{ prefix string }

func (s stubChecker) Supports(rawURL string) bool { return strings.HasPrefix(rawURL, s.prefix) }

func writeProbeUnit(t *testing.T, dir, name, baseURL string) {
	t.Helper()
	doc := fmt.Sprintf(`name: %s
mode: fast-http
provides: stream
languages: [de]
age_buckets: [current]
base_url: %s
search:
  path: /api/search
  params:
    q: "{query}"
  response:
    items: results
    title: name
    url: link
`, name, baseURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(doc), 0o644))
}

func TestSearchProbeRatios(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		host := "http://" + r.Host
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"results": [
			{"name": "Hit One", "link": "%s/hoster/1"},
			{"name": "Hit Two", "link": "%s/hoster/2"},
			{"name": "Hit Three", "link": "%s/unknown/3"},
			{"name": "Hit Four", "link": "%s/unknown/4"}
		]}`, host, host, host, host)
	})
	mux.HandleFunc("/hoster/1", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/hoster/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	dir := t.TempDir()
	writeProbeUnit(t, dir, "alpha-index", srv.URL)
	reg, err := plugin.Discover(dir, nil, srv.Client(), nil)
	require.NoError(t, err)

	s := NewSearchProber(reg, stubChecker{prefix: srv.URL + "/hoster/"}, srv.Client())
	probe := s.Probe(context.Background(), "alpha-index", plugin.Query{Text: "hit"})

	assert.True(t, probe.OK)
	assert.InDelta(t, 0.4, probe.ItemsRatio, 1e-9) // 4 of 10 saturating hits
	assert.InDelta(t, 0.5, probe.HosterSupportedRatio, 1e-9)
	assert.InDelta(t, 0.5, probe.HosterReachableRatio, 1e-9)
}

func TestSearchProbeErrorOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeProbeUnit(t, dir, "alpha-index", srv.URL)
	reg, err := plugin.Discover(dir, nil, srv.Client(), nil)
	require.NoError(t, err)

	s := NewSearchProber(reg, nil, srv.Client())
	probe := s.Probe(context.Background(), "alpha-index", plugin.Query{Text: "hit"})
	assert.False(t, probe.OK)
	assert.Zero(t, probe.ItemsRatio)
}

func TestSchedulerSweepRunsDueProbes(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mux http.ServeMux
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [{"name": "Hit", "link": "https://h.test/1"}]}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	dir := t.TempDir()
	writeProbeUnit(t, dir, "alpha-index", srv.URL)
	reg, err := plugin.Discover(dir, nil, srv.Client(), nil)
	require.NoError(t, err)

	store := kv.NewMemory()
	scores := scoring.NewStore(store)
	sched := NewScheduler(Config{
		Tick:       time.Hour, // sweep runs once on start
		Categories: []int{2000},
	}, reg, scores, NewHealthProber(srv.Client()), NewSearchProber(reg, nil, srv.Client()), NewQueryPool("", "", srv.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		last, err := scores.LastRun(context.Background(), scoring.LastRunKey("health", "alpha-index", 0, ""))
		if err != nil || last.IsZero() {
			return false
		}
		last, err = scores.LastRun(context.Background(), scoring.LastRunKey("search", "alpha-index", 2000, plugin.BucketCurrent))
		return err == nil && !last.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	snaps, err := scores.Snapshots(context.Background(), "alpha-index", 0, "")
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	assert.Positive(t, snaps[0].Final)
}

func TestSchedulerSkipsFreshProbes(t *testing.T) {
	dir := t.TempDir()
	writeProbeUnit(t, dir, "alpha-index", "https://unreachable.invalid")
	reg, err := plugin.Discover(dir, nil, http.DefaultClient, nil)
	require.NoError(t, err)

	scores := scoring.NewStore(kv.NewMemory())
	ctx := context.Background()
	require.NoError(t, scores.RecordHealth(ctx, "alpha-index", scoring.HealthProbe{OK: true}))

	sched := NewScheduler(Config{Categories: []int{2000}}, reg, scores,
		NewHealthProber(http.DefaultClient), NewSearchProber(reg, nil, http.DefaultClient), NewQueryPool("", "", http.DefaultClient))

	assert.False(t, sched.due(ctx, scoring.LastRunKey("health", "alpha-index", 0, ""), time.Now(), 24*time.Hour))
	assert.True(t, sched.due(ctx, scoring.LastRunKey("search", "alpha-index", 2000, plugin.BucketCurrent), time.Now(), time.Hour))
}
