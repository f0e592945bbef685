package server_test

import (
	"testing"

	"github.com/openrdma/gorpma/internal/server"
)

func TestRegistryPeers(t *testing.T) {
	t.Parallel()

	reg := server.NewRegistry()
	reg.AddPeer(server.PeerInfo{ID: "p1", Device: "mlx5_0", Port: 1})
	reg.AddPeer(server.PeerInfo{ID: "p2", Device: "mlx5_1", Port: 2})

	peers := reg.Peers()
	if len(peers) != 2 {
		t.Fatalf("Peers() len = %d, want 2", len(peers))
	}
	if peers[0].ID != "p1" || peers[1].ID != "p2" {
		t.Errorf("Peers() not sorted by ID: %+v", peers)
	}

	reg.RemovePeer("p1")
	peers = reg.Peers()
	if len(peers) != 1 || peers[0].ID != "p2" {
		t.Errorf("after RemovePeer: Peers() = %+v, want only p2", peers)
	}
}

func TestRegistryRegions(t *testing.T) {
	t.Parallel()

	reg := server.NewRegistry()
	reg.AddRegion(server.RegionInfo{ID: "r1", PeerID: "p1", Usage: "READ_SRC", Length: 4096})

	regions := reg.Regions()
	if len(regions) != 1 {
		t.Fatalf("Regions() len = %d, want 1", len(regions))
	}
	if regions[0].Length != 4096 {
		t.Errorf("Regions()[0].Length = %d, want 4096", regions[0].Length)
	}

	reg.RemoveRegion("r1")
	if len(reg.Regions()) != 0 {
		t.Error("Regions() not empty after RemoveRegion")
	}
}

func TestRegistryConnections(t *testing.T) {
	t.Parallel()

	reg := server.NewRegistry()
	reg.AddConnection(server.ConnectionInfo{ID: "c1", PeerID: "p1", State: "Established", PrivateDataLen: 17})

	reg.UpdateConnectionState("c1", "Closed")
	conns := reg.Connections()
	if len(conns) != 1 {
		t.Fatalf("Connections() len = %d, want 1", len(conns))
	}
	if conns[0].State != "Closed" {
		t.Errorf("Connections()[0].State = %q, want %q", conns[0].State, "Closed")
	}

	// Updating an unregistered ID is a no-op, not an error.
	reg.UpdateConnectionState("nonexistent", "Lost")

	reg.RemoveConnection("c1")
	if len(reg.Connections()) != 0 {
		t.Error("Connections() not empty after RemoveConnection")
	}
}

func TestRegistryEndpointCount(t *testing.T) {
	t.Parallel()

	reg := server.NewRegistry()
	if reg.EndpointCount() != 0 {
		t.Fatalf("EndpointCount() = %d, want 0", reg.EndpointCount())
	}

	reg.AddEndpoint()
	reg.AddEndpoint()
	if reg.EndpointCount() != 2 {
		t.Errorf("EndpointCount() = %d, want 2", reg.EndpointCount())
	}

	reg.RemoveEndpoint()
	if reg.EndpointCount() != 1 {
		t.Errorf("EndpointCount() = %d, want 1", reg.EndpointCount())
	}

	// Removing past zero must not underflow.
	reg.RemoveEndpoint()
	reg.RemoveEndpoint()
	if reg.EndpointCount() != 0 {
		t.Errorf("EndpointCount() = %d, want 0 (no underflow)", reg.EndpointCount())
	}
}
