package rpma

import (
	"context"
	"sync"
)

// Event is the lifecycle notification Connection.NextEvent delivers.
// Established is observed implicitly by the call that promotes a Connection
// Request into a Connection (Connect/Accept already block for it); it is
// part of this enum for completeness. NextEvent never returns it: a
// redelivered ESTABLISHED event is discarded.
type Event uint8

const (
	EventEstablished Event = iota
	EventClosed
	EventLost
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventEstablished:
		return "Established"
	case EventClosed:
		return "Closed"
	case EventLost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// Completion reports the outcome of a posted operation.
type Completion struct {
	// OpContext is the caller-supplied token passed to PostRead, returned
	// verbatim.
	OpContext uint64

	// Op is the kind of operation that completed. Only OpRead is defined.
	Op WorkOpcode

	// Status is the provider-reported outcome.
	Status CompletionStatus
}

// PostFlags modifies how a read is posted.
type PostFlags uint8

const (
	// WaitForCompletion requests that a completion be generated even when
	// the underlying transport could otherwise elide one.
	WaitForCompletion PostFlags = 1 << iota
)

// Connection is a live queue pair with its dedicated completion queue. It
// owns both exclusively and must be drained and disconnected before
// deletion.
//
// PostRead may be called concurrently from multiple goroutines. NextEvent
// and NextCompletion are each single-consumer: at most one goroutine may
// call either concurrently. Disconnect may be called from any goroutine at
// any time.
type Connection struct {
	peer     *Peer
	provider Provider
	id       CMID
	cq       CQHandle

	privateData []byte

	mu      sync.Mutex
	state   ConnState
	deleted bool
}

func newConnection(peer *Peer, provider Provider, id CMID, cq CQHandle, privateData []byte) *Connection {
	return &Connection{
		peer:        peer,
		provider:    provider,
		id:          id,
		cq:          cq,
		privateData: privateData,
		state:       StateEstablished,
	}
}

// State returns the Connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetPrivateData returns the private-data blob captured when the connection
// was established. The returned slice is owned by the Connection and valid
// until Delete.
func (c *Connection) GetPrivateData() []byte {
	return c.privateData
}

// NextEvent blocks until the next connection-manager event for this
// connection arrives, translates it, and advances the lifecycle state.
// Duplicate or unrecognized events are swallowed; the call blocks again for
// the next one. Closing the underlying event channel unblocks a pending
// call with a Provider error.
func (c *Connection) NextEvent(ctx context.Context) (Event, error) {
	for {
		ev, err := c.provider.NextEvent(ctx, c.id)
		if err != nil {
			return 0, classifyProviderErr(err, "read next connection-manager event")
		}

		mapped, ok := cmEventToConnEvent(ev.Type)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.state = applyConnEvent(c.state, mapped)
		newState := c.state
		c.mu.Unlock()

		switch newState {
		case StateClosed, StateCloseInitiatedRemote:
			// A side that did not itself call Disconnect needs no further
			// round trip: the connection manager delivers exactly one
			// terminal event per side, so CloseInitiatedRemote is already
			// fully closed from this caller's point of view.
			return EventClosed, nil
		case StateLost:
			return EventLost, nil
		default:
			// CloseInitiatedLocal: we initiated and are waiting for the
			// peer's disconnect to be echoed back before reporting Closed.
			continue
		}
	}
}

// Disconnect posts a disconnect on the underlying identifier. Idempotent: a
// call after the state has already reached Closed or Lost is a no-op
// returning success.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateLost {
		c.mu.Unlock()
		return nil
	}
	c.state = applyConnEvent(c.state, evLocalDisconnect)
	c.mu.Unlock()

	if err := c.provider.Disconnect(c.id); err != nil {
		return classifyProviderErr(err, "disconnect")
	}
	return nil
}

// PostRead posts a one-sided RDMA read of length bytes from src (at
// srcOffset) into dst (at dstOffset). opCtx is returned verbatim in the
// matching Completion.
func (c *Connection) PostRead(opCtx uint64, dst *LocalRegion, dstOffset uint64, src *RemoteRegion, srcOffset, length uint64, flags PostFlags) error {
	if dst == nil || src == nil {
		return invalidErr("dst and src must not be nil")
	}
	if !dst.Usage().has(UsageReadDst) {
		return invalidErr("destination region does not permit local writes (READ_DST)")
	}
	if !src.Usage().has(UsageReadSrc) {
		return invalidErr("source region does not permit remote reads (READ_SRC)")
	}
	// Checked as dstOffset > limit-length rather than dstOffset+length >
	// limit so a length close to MaxUint64 cannot wrap the sum back into
	// range and slip past validation.
	if dstLen := uint64(dst.Len()); length > dstLen || dstOffset > dstLen-length {
		return invalidErr("destination range [%d,%d) exceeds region length %d", dstOffset, dstOffset+length, dst.Len())
	}
	if srcLen := src.Len(); length > srcLen || srcOffset > srcLen-length {
		return invalidErr("source range [%d,%d) exceeds region length %d", srcOffset, srcOffset+length, src.Len())
	}

	solicited := flags&WaitForCompletion != 0
	if err := c.provider.PostRead(c.cq, c.id, opCtx, dst.handleForPost(), dstOffset, src.desc, srcOffset, length, solicited); err != nil {
		return classifyProviderErr(err, "post read")
	}
	return nil
}

// NextCompletion blocks until the next completion is available on this
// connection's completion queue and returns it.
func (c *Connection) NextCompletion(ctx context.Context) (Completion, error) {
	wc, err := c.provider.NextCompletion(ctx, c.cq)
	if err != nil {
		return Completion{}, classifyProviderErr(err, "poll completion queue")
	}
	return Completion{OpContext: wc.WRID, Op: wc.Opcode, Status: wc.Status}, nil
}

// Delete destroys the identifier and queue pair. The caller is responsible
// for having disconnected and drained completions first; the provider's
// failure to tear down (e.g. outstanding work) is surfaced as Provider.
// Unlike every other destruction operation in this package, Delete clears
// the handle on both success and failure: a partially destroyed identifier
// must never be retried against the provider a second time, so the handle
// is marked deleted and the parent Peer released regardless of DestroyID's
// outcome.
func (c *Connection) Delete() error {
	if c.deleted {
		return nil
	}
	err := c.provider.DestroyID(c.id)
	c.deleted = true
	c.peer.release()
	if err != nil {
		return classifyProviderErr(err, "destroy connection identifier")
	}
	return nil
}
