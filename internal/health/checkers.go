// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrapecast/scrapecast/internal/kv"
)

// KVChecker verifies the KV backend with a write/read round trip.
type KVChecker struct {
	store kv.Store
}

// NewKVChecker creates a checker over the configured KV backend.
func NewKVChecker(store kv.Store) *KVChecker {
	return &KVChecker{store: store}
}

func (c *KVChecker) Name() string { return "kv_store" }

func (c *KVChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := "health:probe"
	if err := c.store.Put(ctx, key, []byte("ok"), time.Minute); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "write failed"}
	}
	if _, err := c.store.Get(ctx, key); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "read failed"}
	}
	return CheckResult{Status: StatusHealthy, Message: "round trip ok"}
}

// PluginChecker verifies that discovery produced at least one plugin.
type PluginChecker struct {
	names func() []string
}

// NewPluginChecker takes the registry's Names func.
func NewPluginChecker(names func() []string) *PluginChecker {
	return &PluginChecker{names: names}
}

func (c *PluginChecker) Name() string { return "plugins" }

func (c *PluginChecker) Check(ctx context.Context) CheckResult {
	n := len(c.names())
	if n == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no plugins discovered"}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d plugins", n)}
}
