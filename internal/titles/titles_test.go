// SPDX-License-Identifier: MIT

package titles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTMDBLookupMovie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/find/tt1234567", r.URL.Path)
		assert.Equal(t, "imdb_id", r.URL.Query().Get("external_source"))
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"movie_results": [
			{"title": "Dark Matter", "original_title": "Dunkle Materie", "release_date": "2024-05-08"}
		], "tv_results": []}`))
	}))
	defer srv.Close()

	src := NewTMDB("k", srv.URL, srv.Client())
	got, err := src.Lookup(context.Background(), "tt1234567", "movie")
	require.NoError(t, err)
	assert.Equal(t, "Dark Matter", got.Name)
	assert.Equal(t, "Dunkle Materie", got.OriginalName)
	assert.Equal(t, 2024, got.Year)
	assert.Equal(t, "movie", got.Type)
}

func TestTMDBLookupSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"movie_results": [], "tv_results": [
			{"name": "Dark", "original_name": "Dark", "first_air_date": "2017-12-01"}
		]}`))
	}))
	defer srv.Close()

	src := NewTMDB("k", srv.URL, srv.Client())
	got, err := src.Lookup(context.Background(), "tt5753856", "series")
	require.NoError(t, err)
	assert.Equal(t, "Dark", got.Name)
	assert.Equal(t, 2017, got.Year)
	assert.Equal(t, "series", got.Type)
}

func TestTMDBLookupEmptyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"movie_results": [], "tv_results": []}`))
	}))
	defer srv.Close()

	src := NewTMDB("k", srv.URL, srv.Client())
	_, err := src.Lookup(context.Background(), "tt0000001", "movie")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIMDbSuggestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggestion/tt1/tt1234567.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"d": [
			{"id": "tt9999999", "l": "Wrong", "y": 2000, "q": "feature"},
			{"id": "tt1234567", "l": "Dark Matter", "y": 2024, "q": "TV series"}
		]}`))
	}))
	defer srv.Close()

	src := NewIMDbSuggest(srv.URL, srv.Client())
	got, err := src.Lookup(context.Background(), "tt1234567", "series")
	require.NoError(t, err)
	assert.Equal(t, "Dark Matter", got.Name)
	assert.Equal(t, 2024, got.Year)
	assert.Equal(t, "series", got.Type)
}

type countingSource struct {
	calls atomic.Int32
	title *Title
	err   error
}

func (c *countingSource) Lookup(ctx context.Context, imdbID, mediaType string) (*Title, error) {
	c.calls.Add(1)
	return c.title, c.err
}

func TestServiceCachesAndFallsBack(t *testing.T) {
	broken := &countingSource{err: ErrNotFound}
	working := &countingSource{title: &Title{Name: "Dark Matter", Year: 2024, Type: "movie"}}

	svc := NewService(broken, working)
	defer svc.Close()

	ctx := context.Background()
	got, err := svc.Resolve(ctx, "tt1234567", "movie")
	require.NoError(t, err)
	assert.Equal(t, "Dark Matter", got.Name)
	assert.Equal(t, int32(1), broken.calls.Load())

	// Second resolve is a cache hit, no source traffic.
	_, err = svc.Resolve(ctx, "tt1234567", "movie")
	require.NoError(t, err)
	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Equal(t, int32(1), working.calls.Load())
}

func TestIMDbSuggestSearchByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggestion/d/dark%20matter.json", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"d": [
			{"id": "tt1234567", "l": "Dark Matter", "y": 2024, "q": "TV series"},
			{"id": "nm0000123", "l": "Some Actor"},
			{"id": "tt7654321", "l": "Dark Matters", "y": 2011, "q": "feature"}
		]}`))
	}))
	defer srv.Close()

	src := NewIMDbSuggest(srv.URL, srv.Client())
	got, err := src.SearchByName(context.Background(), "Dark Matter")
	require.NoError(t, err)
	require.Len(t, got, 2, "non-title suggestions are dropped")
	assert.Equal(t, "tt1234567", got[0].ID)
	assert.Equal(t, "series", got[0].Type)
	assert.Equal(t, "movie", got[1].Type)
}

func TestServiceSearchUsesSearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"d": [{"id": "tt1234567", "l": "Dark Matter", "y": 2024, "q": "feature"}]}`))
	}))
	defer srv.Close()

	svc := NewService(&countingSource{err: ErrNotFound}, NewIMDbSuggest(srv.URL, srv.Client()))
	defer svc.Close()

	got, err := svc.Search(context.Background(), "dark matter")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Dark Matter", got[0].Name)
}

func TestServiceRejectsBadID(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	_, err := svc.Resolve(context.Background(), "not-an-id", "movie")
	assert.Error(t, err)

	_, err = svc.Resolve(context.Background(), "tt1234567", "movie")
	assert.ErrorIs(t, err, ErrNotFound)
}
