// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scrapecast/scrapecast/internal/stream"
)

type manifest struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Resources   []string          `json:"resources"`
	Types       []string          `json:"types"`
	Catalogs    []manifestCatalog `json:"catalogs"`
	IDPrefixes  []string          `json:"idPrefixes"`
}

type manifestCatalog struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Extra []manifestExtra `json:"extra,omitempty"`
}

type manifestExtra struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"isRequired"`
}

type catalogMeta struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Year string `json:"releaseInfo,omitempty"`
}

type stremioStream struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	URL           string         `json:"url"`
	BehaviorHints *behaviorHints `json:"behaviorHints,omitempty"`
}

// behaviorHints tells the player a stream needs header injection and cannot
// be fetched straight from a browser context.
type behaviorHints struct {
	NotWebReady  bool          `json:"notWebReady,omitempty"`
	ProxyHeaders *proxyHeaders `json:"proxyHeaders,omitempty"`
}

type proxyHeaders struct {
	Request map[string]string `json:"request,omitempty"`
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, manifest{
		ID:          "com.scrapecast.addon",
		Version:     s.deps.Version,
		Name:        "Scrapecast",
		Description: "Streams aggregated from configured scrape plugins",
		Resources:   []string{"catalog", "stream"},
		Types:       []string{"movie", "series"},
		Catalogs: []manifestCatalog{
			{Type: "movie", ID: "scrapecast-movies", Name: "Scrapecast", Extra: []manifestExtra{{Name: "search", IsRequired: true}}},
			{Type: "series", ID: "scrapecast-series", Name: "Scrapecast", Extra: []manifestExtra{{Name: "search", IsRequired: true}}},
		},
		IDPrefixes: []string{"tt"},
	})
}

// handleCatalog serves search catalogs. Stremio encodes the search term in
// the extra path segment as "search=term.json".
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	mediaType := chi.URLParam(r, "type")
	if mediaType != "movie" && mediaType != "series" {
		writeBadRequest(w, s.deps.Config.Server.DevMode, "unsupported catalog type")
		return
	}

	query := searchTerm(chi.URLParam(r, "extra"))
	if query == "" {
		// Browsing without a search term yields an empty catalog; this
		// addon only indexes on demand.
		writeJSON(w, http.StatusOK, map[string]any{"metas": []catalogMeta{}})
		return
	}

	results, err := s.deps.Titles.Search(r.Context(), query)
	if err != nil {
		if s.suppressUpstream(err) {
			writeJSON(w, http.StatusOK, map[string]any{"metas": []catalogMeta{}})
			return
		}
		s.writeFailure(w, err)
		return
	}

	metas := make([]catalogMeta, 0, len(results))
	for _, t := range results {
		if t.Type != mediaType {
			continue
		}
		m := catalogMeta{ID: t.ID, Type: t.Type, Name: t.Name}
		if t.Year > 0 {
			m.Year = strconv.Itoa(t.Year)
		}
		metas = append(metas, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"metas": metas})
}

// searchTerm extracts the search value from the catalog extra segment.
func searchTerm(extra string) string {
	extra = strings.TrimSuffix(extra, ".json")
	if decoded, err := url.PathUnescape(extra); err == nil {
		extra = decoded
	}
	values, err := url.ParseQuery(extra)
	if err != nil {
		return ""
	}
	return values.Get("search")
}

// handleStream answers Stremio stream requests. The id segment is
// "tt123.json" for movies and "tt123:1:2.json" for series episodes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	mediaType := chi.URLParam(r, "type")
	if mediaType != "movie" && mediaType != "series" {
		writeBadRequest(w, s.deps.Config.Server.DevMode, "unsupported stream type")
		return
	}

	req, ok := parseStreamID(chi.URLParam(r, "id"))
	if !ok {
		writeBadRequest(w, s.deps.Config.Server.DevMode, "malformed content id")
		return
	}
	req.Type = mediaType

	streams, err := s.deps.Streams.Streams(r.Context(), req)
	if err != nil {
		if s.suppressUpstream(err) {
			writeJSON(w, http.StatusOK, map[string]any{"streams": []stremioStream{}})
			return
		}
		s.writeFailure(w, err)
		return
	}

	base := s.baseURL(r)
	out := make([]stremioStream, 0, len(streams))
	for _, st := range streams {
		out = append(out, stremioItem(base, st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": out})
}

// stremioItem maps one orchestrated stream onto the addon wire format.
// Pre-resolved streams link their video URL directly, the rest go through
// the play endpoint. Streams that need request headers get behaviorHints so
// the player proxies them.
func stremioItem(base string, st stream.Stream) stremioStream {
	item := stremioStream{
		Name:        "Scrapecast " + st.Plugin,
		Description: streamDescription(st),
	}
	if st.VideoURL != "" {
		item.URL = st.VideoURL
	} else {
		item.URL = base + "/stremio/play/" + st.PlayToken
	}
	if len(st.Headers) > 0 {
		item.BehaviorHints = &behaviorHints{
			NotWebReady:  true,
			ProxyHeaders: &proxyHeaders{Request: st.Headers},
		}
	}
	return item
}

// parseStreamID splits "tt123" or "tt123:season:episode", with an optional
// .json suffix.
func parseStreamID(id string) (stream.Request, bool) {
	id = strings.TrimSuffix(id, ".json")
	parts := strings.Split(id, ":")
	if !strings.HasPrefix(parts[0], "tt") {
		return stream.Request{}, false
	}
	req := stream.Request{ImdbID: parts[0]}
	switch len(parts) {
	case 1:
		return req, true
	case 3:
		season, err1 := strconv.Atoi(parts[1])
		episode, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || season < 0 || episode < 0 {
			return stream.Request{}, false
		}
		req.Season, req.Episode = season, episode
		return req, true
	default:
		return stream.Request{}, false
	}
}

// streamDescription renders the two-line text Stremio shows under the name.
func streamDescription(st stream.Stream) string {
	var b strings.Builder
	b.WriteString(st.Title)
	var tags []string
	if st.Quality != "" {
		tags = append(tags, st.Quality)
	}
	if st.Language != "" {
		tags = append(tags, st.Language)
	}
	if st.Hoster != "" {
		tags = append(tags, st.Hoster)
	}
	if len(tags) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(tags, " | "))
	}
	return b.String()
}

// handlePlay redeems a play token and redirects to the hoster's video URL.
// A token that cannot be resolved into a direct URL anymore answers 502; the
// endpoint never redirects to an embed page.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	resolved, err := s.deps.Streams.Play(r.Context(), token)
	if err != nil {
		if errors.Is(err, stream.ErrPlayExpired) {
			s.writeFailure(w, err)
			return
		}
		writeAPIError(w, s.deps.Config.Server.DevMode, http.StatusBadGateway, "resolve_failed", "hoster link could not be resolved", err)
		return
	}
	http.Redirect(w, r, resolved.VideoURL, http.StatusFound)
}
