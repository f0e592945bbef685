package rpma

import "context"

const maxPrivateData = 255

// direction distinguishes an outgoing (locally initiated) Connection
// Request from an incoming (listener-produced) one; the two differ only in
// which provider calls terminate them.
type direction uint8

const (
	dirOutgoing direction = iota
	dirIncoming
)

// ConnRequest is a half-open connection: a communication identifier with
// its queue pair and completion queue already created, awaiting Connect or
// Delete. A Connection Request must not be used after either call.
type ConnRequest struct {
	peer *Peer
	dir  direction
	id   CMID
	cq   CQHandle

	// initiatorPrivateData is the private data the remote initiator
	// supplied on connect, captured at CONNECT_REQUEST time. Only set for
	// incoming requests; it becomes the accepted Connection's private
	// data, since the real connection-manager delivers the initiator's
	// blob with the connect request itself rather than with ESTABLISHED.
	initiatorPrivateData []byte

	terminated bool
}

// NewConnRequest resolves addr/service through the connection manager and
// creates a queue pair and completion queue against peer, producing an
// outgoing Connection Request.
func NewConnRequest(ctx context.Context, peer *Peer, addr, service string) (*ConnRequest, error) {
	if peer == nil {
		return nil, invalidErr("peer must not be nil")
	}
	if addr == "" || service == "" {
		return nil, invalidErr("addr and service must not be empty")
	}

	if err := peer.retain(); err != nil {
		return nil, err
	}

	id, cq, err := peer.provider.ResolveOutgoing(ctx, peer.pd, addr, service)
	if err != nil {
		peer.release()
		return nil, classifyProviderErr(err, "resolve outgoing address/route")
	}

	return &ConnRequest{peer: peer, dir: dirOutgoing, id: id, cq: cq}, nil
}

// newIncomingConnRequest wraps a listener-produced identifier. Called only
// by Endpoint.NextConnRequest.
func newIncomingConnRequest(peer *Peer, id CMID, cq CQHandle, initiatorPrivateData []byte) (*ConnRequest, error) {
	if err := peer.retain(); err != nil {
		return nil, err
	}
	return &ConnRequest{peer: peer, dir: dirIncoming, id: id, cq: cq, initiatorPrivateData: initiatorPrivateData}, nil
}

// ConnConfig carries connection-level parameters applied at Connect time.
// Reserved for future tuning knobs (e.g. responder resources); currently
// empty.
type ConnConfig struct{}

// Connect arms the queue pair and posts connect (outgoing) or accept
// (incoming) carrying privateData, then blocks for the terminal
// connection-manager event. On success the Connection Request is consumed:
// its identifier and queue resources transfer into the returned Connection,
// and this ConnRequest must not be used again. On failure the request is
// destroyed and the appropriate error returned.
func (r *ConnRequest) Connect(ctx context.Context, _ ConnConfig, privateData []byte) (*Connection, error) {
	if r.terminated {
		return nil, invalidErr("connection request already terminated")
	}
	if len(privateData) > maxPrivateData {
		_ = r.fail()
		return nil, invalidErr("private data length %d exceeds maximum %d", len(privateData), maxPrivateData)
	}

	var (
		ev  CMEvent
		err error
	)
	switch r.dir {
	case dirOutgoing:
		ev, err = r.peer.provider.Connect(ctx, r.id, privateData)
	case dirIncoming:
		ev, err = r.peer.provider.Accept(ctx, r.id, privateData)
	}
	if err != nil {
		_ = r.fail()
		return nil, classifyProviderErr(err, "connect")
	}
	if ev.Type != CMEventEstablished {
		_ = r.fail()
		return nil, providerErr(0, "connection terminated before establishment: %s", ev.Type)
	}

	r.terminated = true
	connPrivateData := ev.PrivateData
	if r.dir == dirIncoming {
		connPrivateData = r.initiatorPrivateData
	}
	return newConnection(r.peer, r.peer.provider, r.id, r.cq, connPrivateData), nil
}

// Delete terminates an unconnected Connection Request: an incoming request
// is rejected, an outgoing request's identifier is destroyed. Unlike
// Connection.Delete, this follows the general rule: a failed teardown
// leaves the handle intact so the caller can retry Delete rather than
// silently losing the underlying resource.
func (r *ConnRequest) Delete() error {
	return r.fail()
}

// fail tears down a request that will never become a Connection. It only
// marks the request terminated and releases the parent Peer once the
// provider has actually torn the identifier down; a provider failure is
// propagated and the handle is left retryable.
func (r *ConnRequest) fail() error {
	if r.terminated {
		return nil
	}

	var firstErr error
	if r.dir == dirIncoming {
		if err := r.peer.provider.Reject(r.id); err != nil {
			firstErr = err
		}
	}
	if err := r.peer.provider.DestroyID(r.id); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return classifyProviderErr(firstErr, "tear down connection request")
	}

	r.terminated = true
	r.peer.release()
	return nil
}
