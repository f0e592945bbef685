package rpma

import "context"

// Endpoint is a passive listener that produces incoming Connection
// Requests. At most one goroutine may call NextConnRequest concurrently.
type Endpoint struct {
	peer     *Peer
	listener Listener
	shutdown bool
}

// NewEndpoint creates a listening identifier bound to addr/service.
func NewEndpoint(peer *Peer, addr, service string) (*Endpoint, error) {
	if peer == nil {
		return nil, invalidErr("peer must not be nil")
	}
	if addr == "" || service == "" {
		return nil, invalidErr("addr and service must not be empty")
	}

	if err := peer.retain(); err != nil {
		return nil, err
	}

	l, err := peer.provider.Listen(peer.pd, addr, service)
	if err != nil {
		peer.release()
		return nil, classifyProviderErr(err, "listen")
	}

	return &Endpoint{peer: peer, listener: l}, nil
}

// NextConnRequest blocks until an incoming connection request arrives and
// wraps it. Other intervening connection-manager events for the listening
// identifier are consumed and discarded by the provider implementation.
func (e *Endpoint) NextConnRequest(ctx context.Context) (*ConnRequest, error) {
	if e.shutdown {
		return nil, providerErr(0, "endpoint is shut down")
	}

	id, cq, initiatorPrivateData, err := e.listener.NextConnRequest(ctx)
	if err != nil {
		return nil, classifyProviderErr(err, "next connection request")
	}

	return newIncomingConnRequest(e.peer, id, cq, initiatorPrivateData)
}

// Shutdown destroys the listening identifier and its event channel.
// Incoming requests already handed to the application are unaffected.
func (e *Endpoint) Shutdown() error {
	if e.shutdown {
		return nil
	}
	if err := e.listener.Shutdown(); err != nil {
		return classifyProviderErr(err, "shutdown endpoint")
	}
	e.shutdown = true
	e.peer.release()
	return nil
}
