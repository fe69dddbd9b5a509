// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scrapecast/scrapecast/internal/crawljob"
	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/resilience"
	"github.com/scrapecast/scrapecast/internal/resolver"
	"github.com/scrapecast/scrapecast/internal/stream"
	"github.com/scrapecast/scrapecast/internal/titles"
)

// apiError is the JSON error envelope. Detail carries the underlying error
// in dev mode only; production responses stay opaque.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, devMode bool, status int, code, message string, err error) {
	e := apiError{Code: code, Message: message}
	if devMode && err != nil {
		e.Detail = err.Error()
	}
	writeJSON(w, status, errorEnvelope{Error: e})
}

// isUserFault reports whether the error is the caller's doing: bad input or
// ids that do not exist. Those keep their real status codes in every mode.
func isUserFault(err error) bool {
	return errors.Is(err, plugin.ErrUnknownPlugin) ||
		errors.Is(err, crawljob.ErrNotFound) ||
		errors.Is(err, titles.ErrNotFound) ||
		errors.Is(err, stream.ErrPlayExpired)
}

// suppressUpstream reports whether an upstream or internal failure should be
// hidden behind an empty 200 response. Production mode keeps client
// schedulers stable that way; dev mode surfaces the real status instead.
func (s *Server) suppressUpstream(err error) bool {
	return !s.deps.Config.Server.DevMode && !isUserFault(err)
}

// writeFailure maps domain errors onto the error taxonomy.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	dev := s.deps.Config.Server.DevMode
	switch {
	case errors.Is(err, plugin.ErrUnknownPlugin):
		writeAPIError(w, dev, http.StatusNotFound, "unknown_plugin", "no such plugin", err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeAPIError(w, dev, http.StatusServiceUnavailable, "circuit_open", "plugin temporarily disabled after repeated failures", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeAPIError(w, dev, http.StatusGatewayTimeout, "plugin_timeout", "plugin did not answer in time", err)
	case errors.Is(err, crawljob.ErrNotFound):
		writeAPIError(w, dev, http.StatusNotFound, "job_not_found", "download job expired or never existed", err)
	case errors.Is(err, titles.ErrNotFound):
		writeAPIError(w, dev, http.StatusNotFound, "unknown_content", "content id could not be resolved", err)
	case errors.Is(err, stream.ErrPlayExpired):
		writeAPIError(w, dev, http.StatusNotFound, "play_expired", "play token expired", err)
	case errors.Is(err, resolver.ErrUnsupportedHost):
		writeAPIError(w, dev, http.StatusBadGateway, "unsupported_hoster", "no resolver for this hoster", err)
	default:
		writeAPIError(w, dev, http.StatusInternalServerError, "internal", "internal server error", err)
	}
}

func writeBadRequest(w http.ResponseWriter, dev bool, message string) {
	writeAPIError(w, dev, http.StatusBadRequest, "invalid_request", message, nil)
}
