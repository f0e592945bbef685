// Package rdmadev enumerates local RDMA devices and ports so the daemon can
// resolve a configured device name to the DeviceRef a rpma.Peer is allocated
// against.
package rdmadev
