// SPDX-License-Identifier: MIT

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBrowserUnavailable is returned when a headless-browser unit is loaded
// without a renderer wired into the registry.
var ErrBrowserUnavailable = errors.New("plugin: no headless renderer configured")

// Renderer is the headless-browser port. Implementations drive an embedded
// browser page: navigate to the URL, wait for the page to settle and return
// the JSON the site's search endpoint produced. The concrete embedding lives
// outside this module; callers draw the headless pool slot before invoking.
type Renderer interface {
	// Render loads url in a page context and returns the response document.
	Render(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// browserEngine executes headless-browser units through the Renderer port.
// Request construction and response extraction are shared with the fast-http
// engine; only the fetch differs.
type browserEngine struct {
	unit     *Unit
	renderer Renderer
}

func newBrowserEngine(u *Unit, r Renderer) *browserEngine {
	return &browserEngine{unit: u, renderer: r}
}

func (e *browserEngine) Search(ctx context.Context, q Query) ([]Result, error) {
	if e.renderer == nil {
		return nil, ErrBrowserUnavailable
	}
	req, err := (&httpEngine{unit: e.unit}).buildRequest(ctx, q)
	if err != nil {
		return nil, err
	}
	body, err := e.renderer.Render(ctx, req.URL.String(), e.unit.Search.Headers)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: render: %w", e.unit.Name, err)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("plugin %s: decode rendered body: %w", e.unit.Name, err)
	}
	return extractResults(e.unit, doc)
}
