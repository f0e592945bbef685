package rpma

import "context"

// Provider is the seam between the connection/region state machine in this
// package and the underlying verbs/CM library. The core never calls
// libibverbs/librdmacm directly; it drives a Provider. internal/cmverbs
// supplies a cgo-backed binding for Linux; this package's own tests supply a
// deterministic in-process fake. This mirrors the way a session/FSM layer
// can be tested against a fake PacketSender instead of a real socket.
type Provider interface {
	// AllocPD allocates a protection domain against the named device/port.
	AllocPD(dev DeviceRef) (ProtDomain, error)

	// DeallocPD releases a protection domain. Fails if dependents remain.
	DeallocPD(pd ProtDomain) error

	// RegisterMR registers buf for remote/local access as permitted by usage.
	RegisterMR(pd ProtDomain, buf []byte, usage Usage, placement Placement) (MRHandle, error)

	// DeregisterMR releases a memory-region registration.
	DeregisterMR(pd ProtDomain, h MRHandle) error

	// ResolveOutgoing resolves addr/service and returns a communication
	// identifier with its queue pair and completion queue already created
	// against pd.
	ResolveOutgoing(ctx context.Context, pd ProtDomain, addr, service string) (CMID, CQHandle, error)

	// Listen creates a listening identifier bound to addr/service.
	Listen(pd ProtDomain, addr, service string) (Listener, error)

	// Connect arms the outgoing identifier's queue pair and posts a
	// connect request carrying privateData, then blocks until the
	// connection-manager reports a terminal event for it.
	Connect(ctx context.Context, id CMID, privateData []byte) (CMEvent, error)

	// Accept arms the incoming identifier's queue pair and posts an accept
	// carrying privateData, then blocks until the connection-manager
	// reports a terminal event for it.
	Accept(ctx context.Context, id CMID, privateData []byte) (CMEvent, error)

	// Reject sends a reject for an unconnected incoming identifier. It does
	// not destroy the identifier; DestroyID does that.
	Reject(id CMID) error

	// DestroyID destroys a communication identifier and its queue pair.
	DestroyID(id CMID) error

	// NextEvent blocks for the next connection-manager event belonging to
	// id, not counting the terminal connect/accept event already consumed.
	NextEvent(ctx context.Context, id CMID) (CMEvent, error)

	// Disconnect posts a disconnect on id. Idempotent.
	Disconnect(id CMID) error

	// PostRead posts a one-sided RDMA read work request.
	PostRead(cq CQHandle, id CMID, opCtx uint64, dst MRHandle, dstOffset uint64, src RemoteDescriptor, srcOffset uint64, length uint64, solicited bool) error

	// NextCompletion blocks until a completion is available on cq and
	// returns it.
	NextCompletion(ctx context.Context, cq CQHandle) (WorkCompletion, error)
}

// Listener is the provider-side handle for an Endpoint's passive listening
// identifier.
type Listener interface {
	// NextConnRequest blocks until an incoming CONNECT_REQUEST event
	// arrives and returns its identifier, queue pair/completion queue, and
	// the private data carried on the initiator's connect.
	NextConnRequest(ctx context.Context) (CMID, CQHandle, []byte, error)

	// Shutdown destroys the listening identifier and its event channel.
	Shutdown() error
}

// DeviceRef names the local device/port a protection domain is allocated
// against.
type DeviceRef struct {
	Name string
	Port int
}

// ProtDomain, CMID, and CQHandle are opaque handles owned by the active
// Provider. The core never inspects their contents; it only threads them
// through subsequent Provider calls.
type (
	ProtDomain any
	CMID       any
	CQHandle   any
)

// MRHandle is the provider's registration record for a local memory region.
// Unlike the opaque handles above, its fields are meaningful to the core: it
// needs the keys and address to build work requests and wire descriptors.
type MRHandle struct {
	Addr uintptr
	LKey uint32
	RKey uint32
}

// CMEventType enumerates the connection-manager events the core reacts to.
type CMEventType uint8

const (
	CMEventUnknown CMEventType = iota
	CMEventEstablished
	CMEventDisconnected
	CMEventRejected
	CMEventUnreachable
	CMEventDeviceRemoval
	CMEventTimewaitExit
	CMEventConnectError
)

// String returns the human-readable name of the event type.
func (t CMEventType) String() string {
	switch t {
	case CMEventEstablished:
		return "Established"
	case CMEventDisconnected:
		return "Disconnected"
	case CMEventRejected:
		return "Rejected"
	case CMEventUnreachable:
		return "Unreachable"
	case CMEventDeviceRemoval:
		return "DeviceRemoval"
	case CMEventTimewaitExit:
		return "TimewaitExit"
	case CMEventConnectError:
		return "ConnectError"
	default:
		return "Unknown"
	}
}

// CMEvent is a single connection-manager event, optionally carrying the
// private data delivered with an ESTABLISHED event.
type CMEvent struct {
	Type        CMEventType
	PrivateData []byte
}

// WorkOpcode enumerates the RDMA operation kinds a Completion can report.
// Only Read is defined today; the type exists so a second operation kind
// can be added without changing Completion's shape.
type WorkOpcode uint8

const (
	OpUnknown WorkOpcode = iota
	OpRead
)

// CompletionStatus reports whether a posted work request succeeded.
type CompletionStatus uint8

const (
	StatusSuccess CompletionStatus = iota
	StatusError
	StatusFlushed
)

// WorkCompletion is the provider's raw completion record, translated by
// Connection.NextCompletion into the public Completion value.
type WorkCompletion struct {
	WRID   uint64
	Opcode WorkOpcode
	Status CompletionStatus
}
