// Package middleware provides HTTP middleware components for the pagesift API.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// publicEndpoints tracks paths that bypass rate limiting (health probes).
// Registered once at route setup; reads dominate after startup.
var (
	publicEndpointsMu sync.RWMutex
	publicEndpoints   = make(map[string]struct{})
)

// RegisterPublicEndpoint marks a path as public: middleware that honors the
// registry (rate limiting) lets requests to it pass untouched. Intended for
// liveness/readiness probes only, never business endpoints.
func RegisterPublicEndpoint(path string) {
	publicEndpointsMu.Lock()
	defer publicEndpointsMu.Unlock()

	publicEndpoints[path] = struct{}{}
}

// IsPublicEndpoint reports whether the path was registered as public.
func IsPublicEndpoint(path string) bool {
	publicEndpointsMu.RLock()
	defer publicEndpointsMu.RUnlock()

	_, ok := publicEndpoints[path]

	return ok
}

// writeRFC7807Error writes an RFC 7807 problem+json response from within the
// middleware layer, which cannot depend on the api package's error helpers
// without creating an import cycle.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, detail, correlationID string) error {
	problem := struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Detail        string `json:"detail"`
		Instance      string `json:"instance"`
		CorrelationID string `json:"correlationId,omitempty"`
	}{
		Type:          fmt.Sprintf("https://pagesift.io/problems/%d", status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
