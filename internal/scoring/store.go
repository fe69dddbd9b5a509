// SPDX-License-Identifier: MIT

package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scrapecast/scrapecast/internal/kv"
	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/plugin"
)

const (
	snapshotTTL    = 30 * 24 * time.Hour
	snapshotPrefix = "score:"
)

// Snapshot is the persisted score state for one (plugin, category, bucket).
type Snapshot struct {
	Plugin   string           `json:"plugin"`
	Category int              `json:"category"`
	Bucket   plugin.AgeBucket `json:"bucket"`

	Health EwmaState `json:"health"`
	Search EwmaState `json:"search"`

	Final      float64   `json:"final"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the KV key for this snapshot.
func (s Snapshot) Key() string {
	return SnapshotKey(s.Plugin, s.Category, s.Bucket)
}

// SnapshotKey builds the canonical score key.
func SnapshotKey(pluginName string, category int, bucket plugin.AgeBucket) string {
	return fmt.Sprintf("score:%s:%d:%s", pluginName, category, bucket)
}

// LastRunKey builds the key storing a probe's last run timestamp. Category
// and bucket are only present for search probes.
func LastRunKey(probeType, pluginName string, category int, bucket plugin.AgeBucket) string {
	if probeType == "health" {
		return fmt.Sprintf("lastrun:health:%s", pluginName)
	}
	return fmt.Sprintf("lastrun:%s:%s:%d:%s", probeType, pluginName, category, bucket)
}

// Store persists snapshots to the KV backend. A missing snapshot is "cold":
// zero values, confidence 0.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

// NewStore creates a score store over the given KV backend.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

// Load returns the snapshot or a cold zero snapshot when absent.
func (s *Store) Load(ctx context.Context, pluginName string, category int, bucket plugin.AgeBucket) (Snapshot, error) {
	key := SnapshotKey(pluginName, category, bucket)
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Snapshot{Plugin: pluginName, Category: category, Bucket: bucket}, nil
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("scoring: decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// RecordHealth folds a health probe into the plugin's snapshots. Health is a
// per-plugin signal, so every known (category, bucket) combination under the
// plugin is updated; when none exist yet the (0, current) snapshot is seeded.
func (s *Store) RecordHealth(ctx context.Context, pluginName string, probe HealthProbe) error {
	keys, err := s.snapshotKeysFor(ctx, pluginName)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		keys = []string{SnapshotKey(pluginName, 0, plugin.BucketCurrent)}
	}
	obs := HealthObservation(probe)
	now := s.now()
	for _, key := range keys {
		cat, bucket, ok := parseSnapshotKey(key, pluginName)
		if !ok {
			continue
		}
		snap, err := s.Load(ctx, pluginName, cat, bucket)
		if err != nil {
			return err
		}
		snap.Health = Update(snap.Health, obs, now, HealthHalfLife)
		if err := s.save(ctx, snap); err != nil {
			return err
		}
	}
	return s.putLastRun(ctx, LastRunKey("health", pluginName, 0, ""), now)
}

// RecordSearch folds a mini-search probe into one snapshot.
func (s *Store) RecordSearch(ctx context.Context, pluginName string, category int, bucket plugin.AgeBucket, probe SearchProbe) error {
	snap, err := s.Load(ctx, pluginName, category, bucket)
	if err != nil {
		return err
	}
	now := s.now()
	snap.Search = Update(snap.Search, SearchObservation(probe), now, SearchHalfLife)
	if err := s.save(ctx, snap); err != nil {
		return err
	}
	return s.putLastRun(ctx, LastRunKey("search", pluginName, category, bucket), now)
}

// save recomputes the derived fields and persists snapshot plus index.
func (s *Store) save(ctx context.Context, snap Snapshot) error {
	now := s.now()
	samples := snap.Health.Samples + snap.Search.Samples
	last := snap.Health.LastTS
	if snap.Search.LastTS.After(last) {
		last = snap.Search.LastTS
	}
	snap.Confidence = Confidence(samples, now.Sub(last))
	snap.Final = Final(snap.Health.Value, snap.Search.Value, snap.Confidence)
	snap.UpdatedAt = now

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, snap.Key(), data, snapshotTTL)
}

// LastRun returns the recorded last run time, or zero when never run.
func (s *Store) LastRun(ctx context.Context, key string) (time.Time, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	var ts time.Time
	if err := json.Unmarshal(data, &ts); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func (s *Store) putLastRun(ctx context.Context, key string, ts time.Time) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, key, data, snapshotTTL)
}

// Snapshots loads every stored snapshot, optionally filtered.
func (s *Store) Snapshots(ctx context.Context, pluginName string, category int, bucket plugin.AgeBucket) ([]Snapshot, error) {
	keys, err := s.kv.Scan(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue // expired since the scan
			}
			return nil, err
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.WithComponent("scoring").Warn().Err(err).Str("key", key).Msg("dropping unreadable snapshot")
			continue
		}
		if pluginName != "" && snap.Plugin != pluginName {
			continue
		}
		if category != 0 && snap.Category != category {
			continue
		}
		if bucket != "" && snap.Bucket != bucket {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) snapshotKeysFor(ctx context.Context, pluginName string) ([]string, error) {
	keys, err := s.kv.Scan(ctx, snapshotPrefix+pluginName+":")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// parseSnapshotKey splits "score:{plugin}:{category}:{bucket}".
func parseSnapshotKey(key, pluginName string) (int, plugin.AgeBucket, bool) {
	prefix := "score:" + pluginName + ":"
	if !strings.HasPrefix(key, prefix) {
		return 0, "", false
	}
	rest := strings.SplitN(key[len(prefix):], ":", 2)
	if len(rest) != 2 {
		return 0, "", false
	}
	cat, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, "", false
	}
	return cat, plugin.AgeBucket(rest[1]), true
}

