// SPDX-License-Identifier: MIT

// Package plugin defines the scrape-plugin contract and the registry that
// discovers, validates and lazily instantiates plugin units.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Mode describes how a plugin performs its I/O.
type Mode string

const (
	ModeFastHTTP Mode = "fast-http"
	ModeHeadless Mode = "headless-browser"
)

// Provides describes what a plugin's results are good for.
type Provides string

const (
	ProvidesDownload Provides = "download"
	ProvidesStream   Provides = "stream"
)

// AgeBucket buckets media by release age; it is a scoring dimension.
type AgeBucket string

const (
	BucketCurrent AgeBucket = "current"
	BucketY12     AgeBucket = "y1_2"
	BucketY510    AgeBucket = "y5_10"
)

// Buckets lists all age buckets in canonical order.
var Buckets = []AgeBucket{BucketCurrent, BucketY12, BucketY510}

// BucketForYear assigns a release year to its age bucket relative to now.
func BucketForYear(year int, now time.Time) AgeBucket {
	age := now.Year() - year
	switch {
	case age <= 0:
		return BucketCurrent
	case age <= 2:
		return BucketY12
	default:
		return BucketY510
	}
}

var (
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")
	ErrDuplicateName = errors.New("plugin: duplicate plugin name")
)

var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Query is a single search request handed to a plugin.
type Query struct {
	Text     string
	Category int
	Season   int
	Episode  int
}

// AltLink is an alternative download location for a result.
type AltLink struct {
	URL    string `json:"url"`
	Hoster string `json:"hoster,omitempty"`
}

// Result is one immutable search hit. Title and URL must be non-empty and
// Alternatives never contain the primary URL; Validate enforces both.
type Result struct {
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Alternatives []AltLink         `json:"alternatives,omitempty"`
	SizeBytes    int64             `json:"size_bytes,omitempty"`
	Seeders      int               `json:"seeders,omitempty"`
	Peers        int               `json:"peers,omitempty"`
	Published    time.Time         `json:"published,omitzero"`
	ReleaseName  string            `json:"release_name,omitempty"`
	CategoryID   int               `json:"category_id,omitempty"`
	SourceURL    string            `json:"source_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks the result invariants and strips the primary URL from the
// alternatives list.
func (r *Result) Validate() error {
	if r.Title == "" {
		return errors.New("plugin: result title is empty")
	}
	if r.URL == "" {
		return errors.New("plugin: result URL is empty")
	}
	kept := r.Alternatives[:0]
	for _, alt := range r.Alternatives {
		if alt.URL != "" && alt.URL != r.URL {
			kept = append(kept, alt)
		}
	}
	r.Alternatives = kept
	return nil
}

// Descriptor is the immutable metadata of one plugin. It is available via a
// cheap peek without instantiating the plugin.
type Descriptor struct {
	Name       string        `json:"name"`
	Mode       Mode          `json:"mode"`
	Provides   Provides      `json:"provides"`
	Languages  []string      `json:"languages"`
	AgeBuckets []AgeBucket   `json:"age_buckets,omitempty"`
	BaseURL    string        `json:"base_url,omitempty"`
	Mirrors    []string      `json:"mirrors,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	MaxResults int           `json:"max_results,omitempty"`
}

// Validate checks the descriptor's required metadata.
func (d Descriptor) Validate() error {
	if !nameRe.MatchString(d.Name) {
		return fmt.Errorf("plugin: invalid name %q (want lowercase kebab-case)", d.Name)
	}
	switch d.Mode {
	case ModeFastHTTP, ModeHeadless:
	default:
		return fmt.Errorf("plugin %s: invalid mode %q", d.Name, d.Mode)
	}
	switch d.Provides {
	case ProvidesDownload, ProvidesStream:
	default:
		return fmt.Errorf("plugin %s: invalid provides %q", d.Name, d.Provides)
	}
	if len(d.Languages) == 0 {
		return fmt.Errorf("plugin %s: at least one language required", d.Name)
	}
	for _, b := range d.AgeBuckets {
		switch b {
		case BucketCurrent, BucketY12, BucketY510:
		default:
			return fmt.Errorf("plugin %s: invalid age bucket %q", d.Name, b)
		}
	}
	return nil
}

// Plugin is the single-method search contract.
type Plugin interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Overrides are per-plugin configuration knobs applied at registry build time.
type Overrides struct {
	Timeout       time.Duration
	MaxConcurrent int
	MaxResults    int
	Disabled      bool
}
