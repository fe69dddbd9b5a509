// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"hash/fnv"
	"sort"

	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/scoring"
)

// selectPlugins picks the fan-out set for one request: the top scored
// plugins for the (category, bucket), plus at most one mid-score plugin
// admitted by the deterministic exploration coin so the ranking below the
// cut keeps earning samples. Unless more than half the plugins carry a
// usable score, everything fans out.
func (o *Orchestrator) selectPlugins(ctx context.Context, category int, bucket plugin.AgeBucket, contentKey string) []plugin.Descriptor {
	type candidate struct {
		desc  plugin.Descriptor
		snap  scoring.Snapshot
		order int
	}
	var all []candidate
	for _, name := range o.registry.Names() {
		desc, err := o.registry.Describe(name)
		if err != nil || desc.Provides != plugin.ProvidesStream {
			continue
		}
		snap, err := o.scores.Load(ctx, name, category, bucket)
		if err != nil {
			snap = scoring.Snapshot{Plugin: name}
		}
		all = append(all, candidate{desc: desc, snap: snap, order: o.registry.Order(name)})
	}
	if len(all) == 0 {
		return nil
	}

	var scored []candidate
	for _, c := range all {
		if c.snap.Confidence >= o.cfg.MinConfidence {
			scored = append(scored, c)
		}
	}
	if len(scored)*2 <= len(all) { // coverage must exceed half
		out := make([]plugin.Descriptor, 0, len(all))
		for _, c := range all {
			out = append(out, c.desc)
		}
		return out
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].snap.Final != scored[j].snap.Final {
			return scored[i].snap.Final > scored[j].snap.Final
		}
		return scored[i].order < scored[j].order
	})
	top := scored
	if len(top) > o.cfg.TopN {
		top = top[:o.cfg.TopN]
	}
	rest := scored[len(top):]

	out := make([]plugin.Descriptor, 0, len(top)+1)
	for _, c := range top {
		out = append(out, c.desc)
	}
	if len(rest) > 0 && explorationCoin(contentKey, "explore") < o.cfg.Exploration {
		out = append(out, rest[explorationIndex(contentKey, len(rest))].desc)
	}
	return out
}

// explorationCoin maps (content, salt) to a uniform value in [0,1). The same
// pair always lands on the same side, so repeated requests for one title
// neither flap nor double-count exploration traffic.
func explorationCoin(contentKey, salt string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(contentKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(salt))
	return float64(h.Sum64()>>11) / float64(1<<53)
}

// explorationIndex picks the mid-score exploration slot uniformly out of n.
func explorationIndex(contentKey string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte("pick\x00"))
	_, _ = h.Write([]byte(contentKey))
	return int(h.Sum64() % uint64(n))
}
