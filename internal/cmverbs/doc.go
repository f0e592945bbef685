// Package cmverbs binds the rpma connection and memory-region state machine
// to a real RDMA fabric via librdmacm and libibverbs. The Linux build binds
// the C libraries directly over cgo; other platforms get a stub Provider
// that reports every operation as unsupported.
package cmverbs
