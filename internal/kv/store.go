// SPDX-License-Identifier: MIT

// Package kv provides the byte-blob key/value store used for result caches,
// crawl jobs and plugin score snapshots. Values are opaque; expiry is
// enforced at read time. Backends: badger (default local), sqlite (alternate
// local), redis (shared) and an in-memory store for tests.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrapecast/scrapecast/internal/log"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is the byte-blob storage contract. A ttl of zero means the entry
// never expires. Concurrent writes to the same key are last-writer-wins;
// no cross-key atomicity is provided.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan returns all live keys with the given prefix. Admin/diagnostic use.
	Scan(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Backend  string // "badger", "sqlite", "redis" or "memory"
	Path     string // data directory (badger) or database file (sqlite)
	Addr     string // redis address
	Password string // redis password
	DB       int    // redis database number
}

// Open constructs the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "badger":
		return OpenBadger(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		return OpenRedis(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}

// PutAsync writes in the background and logs a warning on failure. Request
// hot paths use this so a slow or broken store never blocks a response.
func PutAsync(s Store, key string, value []byte, ttl time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Put(ctx, key, value, ttl); err != nil {
			log.WithComponent("kv").Warn().Err(err).Str("key", key).Msg("async put failed")
		}
	}()
}
