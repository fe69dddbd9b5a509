// SPDX-License-Identifier: MIT

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestGetSetExpiry(t *testing.T) {
	c := New[string](0)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v", time.Minute)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestDeleteExpiredSweepsAllShards(t *testing.T) {
	c := New[int](0)
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i, time.Minute)
	}
	assert.Equal(t, 100, c.Stats().CurrentSize)

	now = now.Add(time.Hour)
	assert.Equal(t, 100, c.DeleteExpired())
	assert.Equal(t, 0, c.Stats().CurrentSize)
	assert.Equal(t, int64(100), c.Stats().Evictions)
}

func TestStatsCounters(t *testing.T) {
	c := New[int](0)
	c.Set("a", 1, time.Minute)
	c.Get("a")
	c.Get("b")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestJanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := New[int](time.Millisecond)
	c.Set("a", 1, time.Nanosecond)
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
