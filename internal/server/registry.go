// Package server implements the rpma daemon's admin HTTP surface: health,
// Prometheus metrics, and read-only JSON introspection.
package server

import (
	"sort"
	"sync"
)

// PeerInfo is the admin-visible snapshot of a live rpma.Peer.
type PeerInfo struct {
	ID     string `json:"id"`
	Device string `json:"device"`
	Port   int    `json:"port"`
}

// RegionInfo is the admin-visible snapshot of a live rpma.LocalRegion.
type RegionInfo struct {
	ID     string `json:"id"`
	PeerID string `json:"peer_id"`
	Usage  string `json:"usage"`
	Length int    `json:"length"`
}

// ConnectionInfo is the admin-visible snapshot of a live rpma.Connection.
type ConnectionInfo struct {
	ID             string `json:"id"`
	PeerID         string `json:"peer_id"`
	State          string `json:"state"`
	PrivateDataLen int    `json:"private_data_len"`
}

// Registry holds the inventory the debug introspection surface reports and
// the count the health checker uses to decide readiness. Nothing in
// internal/rpma keeps a global list of the objects it creates -- a Peer only
// knows its own dependent count, not their identities -- so the daemon
// registers and removes entries here itself as it creates and tears down
// the corresponding rpma objects. Modeled on internal/bfd/manager.go's
// map-plus-RWMutex session registry and its Sessions() snapshot method.
type Registry struct {
	mu          sync.RWMutex
	peers       map[string]PeerInfo
	regions     map[string]RegionInfo
	connections map[string]ConnectionInfo
	endpoints   int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:       make(map[string]PeerInfo),
		regions:     make(map[string]RegionInfo),
		connections: make(map[string]ConnectionInfo),
	}
}

// AddPeer records a newly created Peer.
func (r *Registry) AddPeer(info PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[info.ID] = info
}

// RemovePeer drops a Peer after it has been deleted.
func (r *Registry) RemovePeer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// Peers returns a snapshot of all live Peers, ordered by ID.
func (r *Registry) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddRegion records a newly registered memory region.
func (r *Registry) AddRegion(info RegionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions[info.ID] = info
}

// RemoveRegion drops a region after it has been deregistered.
func (r *Registry) RemoveRegion(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regions, id)
}

// Regions returns a snapshot of all live Memory Regions, ordered by ID.
func (r *Registry) Regions() []RegionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RegionInfo, 0, len(r.regions))
	for _, rg := range r.regions {
		out = append(out, rg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddConnection records a newly established Connection.
func (r *Registry) AddConnection(info ConnectionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[info.ID] = info
}

// UpdateConnectionState updates the reported lifecycle state of a tracked
// Connection. A no-op if the ID is not currently registered.
func (r *Registry) UpdateConnectionState(id, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[id]; ok {
		c.State = state
		r.connections[id] = c
	}
}

// RemoveConnection drops a Connection after it has been deleted.
func (r *Registry) RemoveConnection(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, id)
}

// Connections returns a snapshot of all tracked Connections, ordered by ID.
func (r *Registry) Connections() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddEndpoint records that one more Endpoint is listening.
func (r *Registry) AddEndpoint() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints++
}

// RemoveEndpoint records that an Endpoint has been shut down.
func (r *Registry) RemoveEndpoint() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpoints > 0 {
		r.endpoints--
	}
}

// EndpointCount returns the number of currently listening Endpoints, the
// signal the health checker reports readiness from.
func (r *Registry) EndpointCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints
}
