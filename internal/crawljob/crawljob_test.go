// SPDX-License-Identifier: MIT

package crawljob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapecast/scrapecast/internal/kv"
)

func TestNewJobDefaults(t *testing.T) {
	j, err := New("Dark.Matter.2024", []string{"https://a.test/1", "https://b.test/2"}, "https://source.test", 0)
	require.NoError(t, err)

	_, err = uuid.Parse(j.ID)
	assert.NoError(t, err, "job ID must be a UUID")
	assert.Equal(t, PriorityDefault, j.Priority)
	assert.True(t, j.AutoStart)
	assert.Equal(t, DefaultTTL, j.ExpiresAt.Sub(j.CreatedAt))
}

func TestNewJobValidation(t *testing.T) {
	_, err := New("", []string{"https://a.test"}, "", 0)
	assert.Error(t, err)
	_, err = New("pkg", nil, "", 0)
	assert.Error(t, err)
}

func TestSerializeParseRoundTrip(t *testing.T) {
	j, err := New("Dark.Matter.2024", []string{"https://a.test/1", "https://b.test/2"}, "https://source.test/page", 0)
	require.NoError(t, err)

	wire := Serialize(j)
	parsed, err := Parse(wire)
	require.NoError(t, err)

	assert.Equal(t, j.ID, parsed.ID)
	assert.Equal(t, j.PackageName, parsed.PackageName)
	assert.Equal(t, j.URLs, parsed.URLs)
	assert.Equal(t, j.SourceURL, parsed.SourceURL)
	assert.Equal(t, j.Priority, parsed.Priority)
	assert.Equal(t, j.AutoStart, parsed.AutoStart)
	assert.True(t, j.CreatedAt.Equal(parsed.CreatedAt))

	// Serializing the parsed job reproduces the wire form byte for byte.
	assert.Equal(t, string(wire), string(Serialize(parsed)))
}

func TestSerializeShape(t *testing.T) {
	j, err := New("pkg", []string{"https://a.test/1"}, "", 0)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(Serialize(j)), "\n"), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "# crawljob "))
	assert.Contains(t, lines, "text=https://a.test/1")
	assert.Contains(t, lines, "packageName=pkg")
	assert.Contains(t, lines, "autoStart=TRUE")
	assert.Contains(t, lines, "priority=DEFAULT")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not a crawljob"))
	assert.Error(t, err)

	_, err = Parse([]byte("packageName=x\n")) // no URLs
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(kv.NewMemory())
	ctx := context.Background()

	j, err := New("pkg", []string{"https://a.test/1"}, "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, j))

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.URLs, got.URLs)

	_, err = store.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}
