package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openrdma/gorpma/internal/server"
)

// fetchPeers retrieves the live peer list from the admin server's debug
// introspection endpoint.
func fetchPeers() ([]server.PeerInfo, error) {
	var peers []server.PeerInfo
	if err := getJSON("/debug/rpma/peers", &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// fetchRegions retrieves the live memory-region list.
func fetchRegions() ([]server.RegionInfo, error) {
	var regions []server.RegionInfo
	if err := getJSON("/debug/rpma/regions", &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

// fetchConnections retrieves the live connection list.
func fetchConnections() ([]server.ConnectionInfo, error) {
	var conns []server.ConnectionInfo
	if err := getJSON("/debug/rpma/connections", &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// getJSON issues a GET against the admin server and decodes the JSON body
// into v.
func getJSON(path string, v any) error {
	resp, err := httpClient.Get(adminURL() + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
