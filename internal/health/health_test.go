// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapecast/scrapecast/internal/kv"
)

type staticChecker struct {
	name   string
	result CheckResult
}

func (c staticChecker) Name() string                          { return c.name }
func (c staticChecker) Check(ctx context.Context) CheckResult { return c.result }

func TestHealthAlwaysOK(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(staticChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)

	// Verbose includes component detail but liveness stays 200.
	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz?verbose=true", nil))
	assert.Equal(t, 200, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "broken")
}

func TestReadyGatedOnStartup(t *testing.T) {
	m := NewManager("test")

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 503, rec.Code, "not ready before startup completes")

	m.SetReady(true)
	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestReadyFailsOnUnhealthyComponent(t *testing.T) {
	m := NewManager("test")
	m.SetReady(true)
	m.RegisterChecker(staticChecker{name: "kv", result: CheckResult{Status: StatusUnhealthy}})

	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestDegradedKeepsReady(t *testing.T) {
	m := NewManager("test")
	m.SetReady(true)
	m.RegisterChecker(staticChecker{name: "plugins", result: CheckResult{Status: StatusDegraded}})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestKVChecker(t *testing.T) {
	c := NewKVChecker(kv.NewMemory())
	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestPluginChecker(t *testing.T) {
	c := NewPluginChecker(func() []string { return nil })
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	c = NewPluginChecker(func() []string { return []string{"alpha-index"} })
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}
