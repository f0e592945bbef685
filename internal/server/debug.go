package server

import (
	"encoding/json"
	"net/http"
)

// registerDebugRoutes mounts the read-only JSON introspection surface listing
// live Peers, Memory Regions, and Connections.
func registerDebugRoutes(mux *http.ServeMux, registry *Registry) {
	mux.HandleFunc("GET /debug/rpma/peers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Peers())
	})
	mux.HandleFunc("GET /debug/rpma/regions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Regions())
	})
	mux.HandleFunc("GET /debug/rpma/connections", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Connections())
	})
}

// writeJSON encodes v as the response body. Snapshots are small and taken
// under the Registry's read lock, so there is no risk of the encoder
// observing a half-written collection.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
