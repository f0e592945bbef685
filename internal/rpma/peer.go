package rpma

import "sync"

// Peer owns a protection domain bound to one device context. It is the sole
// factory for memory regions, connection requests, and endpoints; every
// object it produces holds a non-owning back-reference to it and must be
// destroyed before the Peer itself can be deleted.
//
// Peer is safe for concurrent use after construction. Destruction requires
// that no dependent remains registered.
type Peer struct {
	provider Provider
	dev      DeviceRef

	mu       sync.Mutex
	pd       ProtDomain
	deleted  bool
	children int // live regions + connection requests + connections + endpoints
}

// NewPeer allocates a protection domain against dev using provider.
func NewPeer(provider Provider, dev DeviceRef) (*Peer, error) {
	if provider == nil {
		return nil, invalidErr("provider must not be nil")
	}
	if dev.Name == "" {
		return nil, invalidErr("device name must not be empty")
	}

	pd, err := provider.AllocPD(dev)
	if err != nil {
		return nil, classifyProviderErr(err, "allocate protection domain")
	}

	return &Peer{provider: provider, dev: dev, pd: pd}, nil
}

// Delete destroys the protection domain. It fails with Provider if any
// Memory Region, Connection Request, Connection, or Endpoint created from
// this Peer is still live, leaving the Peer usable so the caller can retry
// after releasing the dependents.
func (p *Peer) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return nil
	}
	if p.children > 0 {
		return providerErr(0, "peer has %d live dependents", p.children)
	}

	if err := p.provider.DeallocPD(p.pd); err != nil {
		return classifyProviderErr(err, "deallocate protection domain")
	}
	p.deleted = true
	return nil
}

func (p *Peer) retain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return invalidErr("peer is deleted")
	}
	p.children++
	return nil
}

func (p *Peer) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.children > 0 {
		p.children--
	}
}

// Device returns the device/port this Peer's protection domain is bound to.
func (p *Peer) Device() DeviceRef { return p.dev }

// classifyProviderErr maps a generic provider failure into an *Error,
// preserving an existing *Error (e.g. NoMem raised explicitly by a
// provider) rather than flattening it to Provider.
func classifyProviderErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return providerErr(0, "%s: %v", action, err)
}
