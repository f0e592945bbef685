// Package rpma provides reliable, connection-oriented remote access to
// registered memory over RDMA-capable network interfaces. It owns the
// protection domain, memory-region registry, connection-manager event
// pump, and completion-queue drain that sit above a raw verbs/CM provider.
package rpma
