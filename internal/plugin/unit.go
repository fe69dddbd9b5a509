// SPDX-License-Identifier: MIT

package plugin

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Unit is the on-disk YAML definition of one plugin. The metadata block is
// everything the registry needs for a peek; the search block parameterises
// the engine that executes the plugin.
type Unit struct {
	Name       string      `yaml:"name"`
	Mode       Mode        `yaml:"mode"`
	Provides   Provides    `yaml:"provides"`
	Languages  []string    `yaml:"languages"`
	AgeBuckets []AgeBucket `yaml:"age_buckets"`
	BaseURL    string      `yaml:"base_url"`
	Mirrors    []string    `yaml:"mirrors"`
	TimeoutSec int         `yaml:"timeout_seconds"`
	MaxResults int         `yaml:"max_results"`

	Search SearchSpec `yaml:"search"`
}

// SearchSpec describes how the engine turns a query into results.
type SearchSpec struct {
	// Path is appended to the base URL. Placeholders: {query}, {category},
	// {season}, {episode}.
	Path string `yaml:"path"`
	// Params are query-string parameters, values support placeholders.
	Params map[string]string `yaml:"params"`
	// Headers are added to the outbound request.
	Headers map[string]string `yaml:"headers"`

	// Response maps fields out of the JSON body (fast-http mode) or, for
	// headless units, out of the JSON the page script evaluates to.
	Response ResponseSpec `yaml:"response"`
}

// ResponseSpec holds dot-separated field paths into the response document.
type ResponseSpec struct {
	Items        string `yaml:"items"`   // path to the result array
	Title        string `yaml:"title"`   // per-item paths below
	URL          string `yaml:"url"`
	Size         string `yaml:"size"`
	Seeders      string `yaml:"seeders"`
	Peers        string `yaml:"peers"`
	Release      string `yaml:"release"`
	SourceURL    string `yaml:"source_url"`
	Alternatives string `yaml:"alternatives"` // path to an array of {url, hoster}
	AltURL       string `yaml:"alt_url"`
	AltHoster    string `yaml:"alt_hoster"`
}

// LoadUnit parses and validates a unit file.
func LoadUnit(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read unit %s: %w", path, err)
	}
	var u Unit
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("plugin: parse unit %s: %w", path, err)
	}
	if err := u.Descriptor().Validate(); err != nil {
		return nil, fmt.Errorf("plugin: unit %s: %w", path, err)
	}
	if u.Search.Response.Title == "" || u.Search.Response.URL == "" {
		return nil, fmt.Errorf("plugin: unit %s: search.response.title and .url are required", path)
	}
	return &u, nil
}

// PeekUnit reads only the metadata needed for a Descriptor. It parses the
// same document but never touches the search spec, so a broken engine
// definition does not fail discovery.
func PeekUnit(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("plugin: read unit %s: %w", path, err)
	}
	var meta struct {
		Name       string      `yaml:"name"`
		Mode       Mode        `yaml:"mode"`
		Provides   Provides    `yaml:"provides"`
		Languages  []string    `yaml:"languages"`
		AgeBuckets []AgeBucket `yaml:"age_buckets"`
		BaseURL    string      `yaml:"base_url"`
		Mirrors    []string    `yaml:"mirrors"`
		TimeoutSec int         `yaml:"timeout_seconds"`
		MaxResults int         `yaml:"max_results"`
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Descriptor{}, fmt.Errorf("plugin: parse unit %s: %w", path, err)
	}
	d := Descriptor{
		Name:       meta.Name,
		Mode:       meta.Mode,
		Provides:   meta.Provides,
		Languages:  meta.Languages,
		AgeBuckets: meta.AgeBuckets,
		BaseURL:    meta.BaseURL,
		Mirrors:    meta.Mirrors,
		Timeout:    time.Duration(meta.TimeoutSec) * time.Second,
		MaxResults: meta.MaxResults,
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("plugin: unit %s: %w", path, err)
	}
	return d, nil
}

// Descriptor derives the immutable metadata from a unit.
func (u *Unit) Descriptor() Descriptor {
	return Descriptor{
		Name:       u.Name,
		Mode:       u.Mode,
		Provides:   u.Provides,
		Languages:  u.Languages,
		AgeBuckets: u.AgeBuckets,
		BaseURL:    u.BaseURL,
		Mirrors:    u.Mirrors,
		Timeout:    time.Duration(u.TimeoutSec) * time.Second,
		MaxResults: u.MaxResults,
	}
}
