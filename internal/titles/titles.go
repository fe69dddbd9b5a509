// SPDX-License-Identifier: MIT

// Package titles maps IMDb content ids to searchable titles. TMDB is the
// primary source with the IMDb suggestion API as fallback; resolved titles
// are cached in memory for a day.
package titles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scrapecast/scrapecast/internal/cache"
	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/metrics"
)

const (
	cacheTTL         = 24 * time.Hour
	cacheSweepPeriod = time.Hour
	lookupTimeout    = 8 * time.Second
)

// ErrNotFound is returned when no source knows the id.
var ErrNotFound = errors.New("titles: unknown content id")

var imdbIDRe = regexp.MustCompile(`^tt\d{7,8}$`)

// Title is a resolved piece of media.
type Title struct {
	ID           string `json:"id,omitempty"` // imdb id when known
	Name         string `json:"name"`
	OriginalName string `json:"original_name,omitempty"`
	Year         int    `json:"year,omitempty"`
	Type         string `json:"type"` // "movie" or "series"
}

// Source resolves an IMDb id against one upstream.
type Source interface {
	Lookup(ctx context.Context, imdbID, mediaType string) (*Title, error)
}

// Searcher finds titles by name. Only some sources support it.
type Searcher interface {
	SearchByName(ctx context.Context, query string) ([]Title, error)
}

// Service fronts the sources with a TTL cache. Sources are tried in order;
// the first hit wins.
type Service struct {
	sources []Source
	cache   *cache.Cache[Title]
}

// NewService wires sources in priority order.
func NewService(sources ...Source) *Service {
	return &Service{
		sources: sources,
		cache:   cache.New[Title](cacheSweepPeriod),
	}
}

// Close stops the cache janitor.
func (s *Service) Close() { s.cache.Stop() }

// Resolve returns the title for an IMDb id. mediaType is "movie" or
// "series".
func (s *Service) Resolve(ctx context.Context, imdbID, mediaType string) (*Title, error) {
	if !imdbIDRe.MatchString(imdbID) {
		return nil, fmt.Errorf("titles: invalid imdb id %q", imdbID)
	}
	key := imdbID + ":" + mediaType
	if t, ok := s.cache.Get(key); ok {
		metrics.RecordCacheHit("titles")
		return &t, nil
	}
	metrics.RecordCacheMiss("titles")

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var lastErr error = ErrNotFound
	for _, src := range s.sources {
		t, err := src.Lookup(ctx, imdbID, mediaType)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.WithComponent("titles").Warn().Err(err).Str("imdb_id", imdbID).Msg("title source failed")
			}
			lastErr = err
			continue
		}
		if t.ID == "" {
			t.ID = imdbID
		}
		s.cache.Set(key, *t, cacheTTL)
		return t, nil
	}
	return nil, lastErr
}

// Search finds titles by name through the first source that supports it.
// Results are cached under the query string.
func (s *Service) Search(ctx context.Context, query string) ([]Title, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	for _, src := range s.sources {
		searcher, ok := src.(Searcher)
		if !ok {
			continue
		}
		found, err := searcher.SearchByName(ctx, query)
		if err != nil {
			log.WithComponent("titles").Warn().Err(err).Str("query", query).Msg("title search failed")
			continue
		}
		return found, nil
	}
	return nil, nil
}

// TMDB resolves ids via the TMDB /find endpoint.
type TMDB struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTMDB creates the TMDB source. baseURL is overridable for tests and
// defaults to the public API.
func NewTMDB(apiKey, baseURL string, client *http.Client) *TMDB {
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org"
	}
	return &TMDB{apiKey: apiKey, baseURL: baseURL, client: client}
}

type tmdbFindResponse struct {
	MovieResults []struct {
		Title         string `json:"title"`
		OriginalTitle string `json:"original_title"`
		ReleaseDate   string `json:"release_date"`
	} `json:"movie_results"`
	TVResults []struct {
		Name         string `json:"name"`
		OriginalName string `json:"original_name"`
		FirstAirDate string `json:"first_air_date"`
	} `json:"tv_results"`
}

// Lookup implements Source.
func (t *TMDB) Lookup(ctx context.Context, imdbID, mediaType string) (*Title, error) {
	u := fmt.Sprintf("%s/3/find/%s?external_source=imdb_id&api_key=%s",
		t.baseURL, url.PathEscape(imdbID), url.QueryEscape(t.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("titles: tmdb status %d", resp.StatusCode)
	}

	var body tmdbFindResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, err
	}

	if mediaType != "series" && len(body.MovieResults) > 0 {
		m := body.MovieResults[0]
		return &Title{
			Name:         m.Title,
			OriginalName: m.OriginalTitle,
			Year:         yearOf(m.ReleaseDate),
			Type:         "movie",
		}, nil
	}
	if len(body.TVResults) > 0 {
		tv := body.TVResults[0]
		return &Title{
			Name:         tv.Name,
			OriginalName: tv.OriginalName,
			Year:         yearOf(tv.FirstAirDate),
			Type:         "series",
		}, nil
	}
	return nil, ErrNotFound
}

// IMDbSuggest resolves ids via the public IMDb suggestion API. It needs no
// key, which makes it the fallback when TMDB is unconfigured or down.
type IMDbSuggest struct {
	baseURL string
	client  *http.Client
}

// NewIMDbSuggest creates the fallback source.
func NewIMDbSuggest(baseURL string, client *http.Client) *IMDbSuggest {
	if baseURL == "" {
		baseURL = "https://v3.sg.media-imdb.com"
	}
	return &IMDbSuggest{baseURL: baseURL, client: client}
}

type imdbSuggestResponse struct {
	D []struct {
		ID    string `json:"id"`
		Label string `json:"l"`
		Year  int    `json:"y"`
		Kind  string `json:"q"`
	} `json:"d"`
}

// Lookup implements Source.
func (i *IMDbSuggest) Lookup(ctx context.Context, imdbID, mediaType string) (*Title, error) {
	u := fmt.Sprintf("%s/suggestion/%s/%s.json", i.baseURL, imdbID[:3], url.PathEscape(imdbID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("titles: imdb suggest status %d", resp.StatusCode)
	}

	var body imdbSuggestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, err
	}
	for _, d := range body.D {
		if d.ID != imdbID {
			continue
		}
		kind := "movie"
		if strings.Contains(d.Kind, "TV") || strings.Contains(d.Kind, "tv") {
			kind = "series"
		}
		return &Title{Name: d.Label, Year: d.Year, Type: kind}, nil
	}
	return nil, ErrNotFound
}

// SearchByName implements Searcher against the suggestion API.
func (i *IMDbSuggest) SearchByName(ctx context.Context, query string) ([]Title, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	u := fmt.Sprintf("%s/suggestion/%s/%s.json", i.baseURL, url.PathEscape(q[:1]), url.PathEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("titles: imdb suggest status %d", resp.StatusCode)
	}

	var body imdbSuggestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]Title, 0, len(body.D))
	for _, d := range body.D {
		if !imdbIDRe.MatchString(d.ID) {
			continue // people and other non-title suggestions
		}
		kind := "movie"
		if strings.Contains(d.Kind, "TV") || strings.Contains(d.Kind, "tv") {
			kind = "series"
		}
		out = append(out, Title{ID: d.ID, Name: d.Label, Year: d.Year, Type: kind})
	}
	return out, nil
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
