// SPDX-License-Identifier: MIT

package api

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scrapecast/scrapecast/internal/indexer"
	"github.com/scrapecast/scrapecast/internal/plugin"
)

const torznabNS = "http://torznab.com/schemas/2015/feed"

type torznabCaps struct {
	XMLName    xml.Name        `xml:"caps"`
	Server     capsServer      `xml:"server"`
	Limits     capsLimits      `xml:"limits"`
	Searching  capsSearching   `xml:"searching"`
	Categories capsCategoryBox `xml:"categories"`
}

type capsServer struct {
	Title string `xml:"title,attr"`
}

type capsLimits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

type capsSearching struct {
	Search      capsSearch `xml:"search"`
	TVSearch    capsSearch `xml:"tv-search"`
	MovieSearch capsSearch `xml:"movie-search"`
}

type capsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type capsCategoryBox struct {
	Category []capsCategory `xml:"category"`
}

type capsCategory struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type rssFeed struct {
	XMLName   xml.Name   `xml:"rss"`
	Version   string     `xml:"version,attr"`
	TorznabNS string     `xml:"xmlns:torznab,attr"`
	Channel   rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description,omitempty"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string        `xml:"title"`
	GUID    string        `xml:"guid"`
	Link    string        `xml:"link"`
	PubDate string        `xml:"pubDate,omitempty"`
	Size    int64         `xml:"size,omitempty"`
	Attrs   []torznabAttr `xml:"torznab:attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// handleTorznab serves the Torznab api endpoint: t=caps describes the
// indexer, the search modes run one plugin search.
func (s *Server) handleTorznab(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	q := r.URL.Query()

	switch q.Get("t") {
	case "caps":
		s.serveCaps(w, r, pluginName)
	case "search", "tvsearch", "movie":
		s.serveSearch(w, r, pluginName)
	default:
		writeBadRequest(w, s.deps.Config.Server.DevMode, "unsupported t parameter")
	}
}

func (s *Server) serveCaps(w http.ResponseWriter, r *http.Request, pluginName string) {
	if _, err := s.deps.Registry.Describe(pluginName); err != nil {
		s.writeFailure(w, err)
		return
	}
	caps := torznabCaps{
		Server: capsServer{Title: "scrapecast"},
		Limits: capsLimits{Max: 100, Default: 50},
		Searching: capsSearching{
			Search:      capsSearch{Available: "yes", SupportedParams: "q"},
			TVSearch:    capsSearch{Available: "yes", SupportedParams: "q,season,ep"},
			MovieSearch: capsSearch{Available: "yes", SupportedParams: "q"},
		},
		Categories: capsCategoryBox{Category: []capsCategory{
			{ID: 2000, Name: "Movies"},
			{ID: 5000, Name: "TV"},
		}},
	}
	writeXML(w, http.StatusOK, caps)
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request, pluginName string) {
	q := r.URL.Query()

	// Prowlarr tests an indexer with extended=1 and no query. That request
	// only wants to know whether the site answers, so skip the scrape and
	// probe reachability instead.
	if q.Get("extended") == "1" && q.Get("q") == "" {
		s.serveReachability(w, r, pluginName)
		return
	}

	req := indexer.Request{
		Plugin: pluginName,
		Query: plugin.Query{
			Text:     q.Get("q"),
			Category: firstInt(q.Get("cat")),
			Season:   atoi(q.Get("season")),
			Episode:  atoi(q.Get("ep")),
		},
		Offset: atoi(q.Get("offset")),
		Limit:  atoi(q.Get("limit")),
	}

	resp, err := s.deps.Indexer.Search(r.Context(), req)
	if err != nil {
		// An empty feed keeps download clients from disabling the indexer
		// over a transient upstream failure.
		if s.suppressUpstream(err) {
			writeXML(w, http.StatusOK, emptyFeed(pluginName))
			return
		}
		s.writeFailure(w, err)
		return
	}

	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	feed := rssFeed{
		Version:   "2.0",
		TorznabNS: torznabNS,
		Channel: rssChannel{
			Title:       "scrapecast: " + pluginName,
			Description: fmt.Sprintf("%d results", resp.Total),
			Items:       make([]rssItem, 0, len(resp.Items)),
		},
	}
	base := s.baseURL(r)
	for _, item := range resp.Items {
		link := item.URL
		if item.JobID != "" {
			link = base + "/download/" + item.JobID
		}
		ri := rssItem{
			Title: item.Title,
			GUID:  item.URL,
			Link:  link,
			Size:  item.SizeBytes,
			Attrs: []torznabAttr{
				{Name: "category", Value: strconv.Itoa(categoryOf(item, req.Query.Category))},
				{Name: "seeders", Value: strconv.Itoa(item.Seeders)},
				{Name: "peers", Value: strconv.Itoa(item.Peers)},
			},
		}
		if !item.Published.IsZero() {
			ri.PubDate = item.Published.UTC().Format(time.RFC1123Z)
		}
		feed.Channel.Items = append(feed.Channel.Items, ri)
	}
	writeXML(w, http.StatusOK, feed)
}

// serveReachability answers the empty extended search with a live probe.
// A reachable site yields one synthetic item so the caller sees a non-empty
// feed; an unreachable one yields an empty feed, still with status 200.
func (s *Server) serveReachability(w http.ResponseWriter, r *http.Request, pluginName string) {
	desc, err := s.deps.Registry.Describe(pluginName)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	feed := emptyFeed(pluginName)
	probe, checked := s.deps.Prober.Probe(r.Context(), desc)
	if probe.OK {
		feed.Channel.Items = []rssItem{{
			Title:   fmt.Sprintf("%s reachable via %s", desc.Name, checked),
			GUID:    checked,
			Link:    checked,
			PubDate: time.Now().UTC().Format(time.RFC1123Z),
			Attrs: []torznabAttr{
				{Name: "category", Value: "2000"},
			},
		}}
	}
	writeXML(w, http.StatusOK, feed)
}

func emptyFeed(pluginName string) rssFeed {
	return rssFeed{
		Version:   "2.0",
		TorznabNS: torznabNS,
		Channel: rssChannel{
			Title: "scrapecast: " + pluginName,
			Items: []rssItem{},
		},
	}
}

// handlePluginHealth probes the plugin's site on demand and reports whether
// it answers, from which URL, and with what status.
func (s *Server) handlePluginHealth(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	desc, err := s.deps.Registry.Describe(pluginName)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	probe, checked := s.deps.Prober.Probe(r.Context(), desc)
	body := map[string]any{
		"plugin":      desc.Name,
		"base_url":    desc.BaseURL,
		"checked_url": checked,
		"reachable":   probe.OK,
	}
	if probe.StatusCode > 0 {
		body["status_code"] = probe.StatusCode
	}
	if len(desc.Mirrors) > 0 {
		body["mirrors"] = desc.Mirrors
	}
	switch {
	case probe.Captcha:
		body["error"] = "blocked by anti-bot challenge"
	case !probe.OK && probe.StatusCode > 0:
		body["error"] = fmt.Sprintf("status %d", probe.StatusCode)
	case !probe.OK:
		body["error"] = "connect failed"
	}
	writeJSON(w, http.StatusOK, body)
}

func writeXML(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(v)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// firstInt parses the first entry of a comma separated list.
func firstInt(s string) int {
	first, _, _ := strings.Cut(s, ",")
	return atoi(first)
}

func categoryOf(item indexer.Item, requested int) int {
	if item.CategoryID != 0 {
		return item.CategoryID
	}
	return requested
}
