// SPDX-License-Identifier: MIT

package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/scrapecast/scrapecast/internal/log"
)

// Registry indexes plugin units by name. Discovery records descriptors only;
// a unit is parsed in full and instantiated on its first Get. Descriptors and
// loaded plugins are immutable afterwards.
type Registry struct {
	client   *http.Client
	renderer Renderer

	mu      sync.Mutex
	order   []string // registration order, used as the deterministic tie-break
	entries map[string]*entry
}

type entry struct {
	descriptor Descriptor
	path       string
	overrides  Overrides

	loadOnce sync.Once
	plugin   Plugin
	loadErr  error
}

// Discover scans dir recursively for *.yaml plugin units and builds the
// registry without executing any of them. Config overrides are applied here;
// disabled plugins are dropped. Duplicate names fail discovery.
func Discover(dir string, overrides map[string]Overrides, client *http.Client, renderer Renderer) (*Registry, error) {
	r := &Registry{
		client:   client,
		renderer: renderer,
		entries:  make(map[string]*entry),
	}
	logger := log.WithComponent("plugin")

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("plugin: discovery walk: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		desc, err := PeekUnit(path)
		if err != nil {
			return nil, err
		}
		if _, exists := r.entries[desc.Name]; exists {
			return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicateName, desc.Name, path)
		}
		ov := overrides[desc.Name]
		if ov.Disabled {
			logger.Info().Str("plugin", desc.Name).Msg("plugin disabled by configuration")
			continue
		}
		if ov.Timeout > 0 {
			desc.Timeout = ov.Timeout
		}
		if ov.MaxResults > 0 {
			desc.MaxResults = ov.MaxResults
		}
		r.entries[desc.Name] = &entry{descriptor: desc, path: path, overrides: ov}
		r.order = append(r.order, desc.Name)
	}

	logger.Info().Int("plugins", len(r.order)).Str("dir", dir).Msg("plugin discovery complete")
	return r, nil
}

// Names returns plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Describe returns the descriptor without forcing a load.
func (r *Registry) Describe(name string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return e.descriptor, nil
}

// Mode returns the plugin's mode via the metadata peek.
func (r *Registry) Mode(name string) (Mode, error) {
	d, err := r.Describe(name)
	if err != nil {
		return "", err
	}
	return d.Mode, nil
}

// Languages returns the plugin's declared languages via the metadata peek.
func (r *Registry) Languages(name string) ([]string, error) {
	d, err := r.Describe(name)
	if err != nil {
		return nil, err
	}
	return d.Languages, nil
}

// Order returns the registration index of a plugin, used as a deterministic
// tie-break. Unknown names sort last.
func (r *Registry) Order(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return len(r.order)
}

// Get loads, validates and caches the plugin on first use.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	e.loadOnce.Do(func() {
		unit, err := LoadUnit(e.path)
		if err != nil {
			e.loadErr = err
			return
		}
		// The descriptor already carries the override-adjusted cap.
		unit.MaxResults = e.descriptor.MaxResults
		switch unit.Mode {
		case ModeHeadless:
			e.plugin = newBrowserEngine(unit, r.renderer)
		default:
			e.plugin = newHTTPEngine(unit, r.client)
		}
		if e.overrides.MaxConcurrent > 0 {
			e.plugin = limitConcurrency(e.plugin, e.overrides.MaxConcurrent)
		}
	})
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e.plugin, nil
}

// limited caps concurrent Search calls into one plugin.
type limited struct {
	inner Plugin
	sem   *semaphore.Weighted
}

// limitConcurrency wraps a plugin so at most n searches run at once. Waiters
// honour context cancellation.
func limitConcurrency(p Plugin, n int) Plugin {
	return &limited{inner: p, sem: semaphore.NewWeighted(int64(n))}
}

func (l *limited) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.inner.Search(ctx, q)
}
