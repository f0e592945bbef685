package rpma_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openrdma/gorpma/internal/rpma"
)

// fakeFabric models the shared network state two fakeProvider instances
// need to interoperate: a registry of listeners (for connect-to-listen
// matching) and a registry of registered memory keyed by lkey/rkey (so a
// PostRead can actually move bytes between two independently registered
// buffers, the way a real NIC moves them). This plays the same role for
// this package's tests that a mutex-guarded capture buffer plays for
// mockSender in the session tests this design is patterned on.
type fakeFabric struct {
	mu        sync.Mutex
	listeners map[string]*fakeListener
	mrByKey   map[uint32][]byte
	nextKey   uint32
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{
		listeners: make(map[string]*fakeListener),
		mrByKey:   make(map[uint32][]byte),
	}
}

func (f *fakeFabric) registerMR(buf []byte) rpma.MRHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextKey++
	key := f.nextKey
	f.mrByKey[key] = buf
	return rpma.MRHandle{Addr: uintptr(key), LKey: key, RKey: key}
}

func (f *fakeFabric) deregisterMR(h rpma.MRHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mrByKey, h.RKey)
}

func (f *fakeFabric) bufByKey(key uint32) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.mrByKey[key]
	return b, ok
}

// fakeListener is the provider-side handle behind an Endpoint.
type fakeListener struct {
	fabric *fakeFabric
	key    string
	reqCh  chan *fakeConn
	done   chan struct{}
	once   sync.Once
}

func (l *fakeListener) NextConnRequest(ctx context.Context) (rpma.CMID, rpma.CQHandle, []byte, error) {
	select {
	case c, ok := <-l.reqCh:
		if !ok {
			return nil, nil, nil, fmt.Errorf("listener closed")
		}
		return c, c, c.initiatorPrivateData, nil
	case <-l.done:
		return nil, nil, nil, fmt.Errorf("listener shut down")
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	}
}

func (l *fakeListener) Shutdown() error {
	l.once.Do(func() {
		close(l.done)
		l.fabric.mu.Lock()
		delete(l.fabric.listeners, l.key)
		l.fabric.mu.Unlock()
	})
	return nil
}

// fakeConn is both the CMID and the CQHandle for one side of a connection
// (real RDMA CM keeps these separate; the fake has no use for the
// distinction). It is linked to the opposite side via peer once the
// connect handshake pairs them up.
type fakeConn struct {
	fabric *fakeFabric

	// listenerKey is set on the client side at ResolveOutgoing time and
	// consumed at Connect time, matching real rdma_cm where the
	// CONNECT_REQUEST is only generated once rdma_connect is actually
	// called, not at route resolution.
	listenerKey string

	peer *fakeConn

	initiatorPrivateData []byte

	acceptedCh chan rpma.CMEvent
	rejectedCh chan struct{}

	events      chan rpma.CMEvent
	completions chan rpma.WorkCompletion

	closed atomic.Bool
}

func newFakeConn(fabric *fakeFabric) *fakeConn {
	return &fakeConn{
		fabric:      fabric,
		acceptedCh:  make(chan rpma.CMEvent, 1),
		rejectedCh:  make(chan struct{}, 1),
		events:      make(chan rpma.CMEvent, 8),
		completions: make(chan rpma.WorkCompletion, 64),
	}
}

type fakeProvider struct {
	fabric *fakeFabric
}

func newFakeProvider(fabric *fakeFabric) *fakeProvider { return &fakeProvider{fabric: fabric} }

func (p *fakeProvider) AllocPD(dev rpma.DeviceRef) (rpma.ProtDomain, error) {
	return &struct{ dev rpma.DeviceRef }{dev}, nil
}

func (p *fakeProvider) DeallocPD(rpma.ProtDomain) error { return nil }

func (p *fakeProvider) RegisterMR(pd rpma.ProtDomain, buf []byte, usage rpma.Usage, placement rpma.Placement) (rpma.MRHandle, error) {
	return p.fabric.registerMR(buf), nil
}

func (p *fakeProvider) DeregisterMR(pd rpma.ProtDomain, h rpma.MRHandle) error {
	p.fabric.deregisterMR(h)
	return nil
}

func (p *fakeProvider) ResolveOutgoing(ctx context.Context, pd rpma.ProtDomain, addr, service string) (rpma.CMID, rpma.CQHandle, error) {
	key := addr + ":" + service
	p.fabric.mu.Lock()
	_, ok := p.fabric.listeners[key]
	p.fabric.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("no listener at %s", key)
	}

	client := newFakeConn(p.fabric)
	client.listenerKey = key
	return client, client, nil
}

func (p *fakeProvider) Listen(pd rpma.ProtDomain, addr, service string) (rpma.Listener, error) {
	key := addr + ":" + service
	l := &fakeListener{fabric: p.fabric, key: key, reqCh: make(chan *fakeConn, 8), done: make(chan struct{})}
	p.fabric.mu.Lock()
	p.fabric.listeners[key] = l
	p.fabric.mu.Unlock()
	return l, nil
}

func (p *fakeProvider) Connect(ctx context.Context, id rpma.CMID, privateData []byte) (rpma.CMEvent, error) {
	c := id.(*fakeConn)

	p.fabric.mu.Lock()
	l, ok := p.fabric.listeners[c.listenerKey]
	p.fabric.mu.Unlock()
	if !ok {
		return rpma.CMEvent{}, fmt.Errorf("no listener at %s", c.listenerKey)
	}

	server := newFakeConn(p.fabric)
	server.initiatorPrivateData = privateData
	c.peer, server.peer = server, c

	select {
	case l.reqCh <- server:
	case <-l.done:
		return rpma.CMEvent{}, fmt.Errorf("listener shut down")
	case <-ctx.Done():
		return rpma.CMEvent{}, ctx.Err()
	}

	select {
	case ev := <-c.acceptedCh:
		return ev, nil
	case <-c.rejectedCh:
		return rpma.CMEvent{Type: rpma.CMEventRejected}, nil
	case <-ctx.Done():
		return rpma.CMEvent{}, ctx.Err()
	}
}

func (p *fakeProvider) Accept(ctx context.Context, id rpma.CMID, privateData []byte) (rpma.CMEvent, error) {
	c := id.(*fakeConn)
	select {
	case c.peer.acceptedCh <- rpma.CMEvent{Type: rpma.CMEventEstablished, PrivateData: privateData}:
	case <-ctx.Done():
		return rpma.CMEvent{}, ctx.Err()
	}
	return rpma.CMEvent{Type: rpma.CMEventEstablished}, nil
}

func (p *fakeProvider) Reject(id rpma.CMID) error {
	c := id.(*fakeConn)
	if c.peer != nil {
		select {
		case c.peer.rejectedCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (p *fakeProvider) DestroyID(id rpma.CMID) error {
	c := id.(*fakeConn)
	if c.closed.CompareAndSwap(false, true) {
		close(c.events)
		close(c.completions)
	}
	return nil
}

func (p *fakeProvider) NextEvent(ctx context.Context, id rpma.CMID) (rpma.CMEvent, error) {
	c := id.(*fakeConn)
	select {
	case ev, ok := <-c.events:
		if !ok {
			return rpma.CMEvent{}, fmt.Errorf("event channel closed")
		}
		return ev, nil
	case <-ctx.Done():
		return rpma.CMEvent{}, ctx.Err()
	}
}

func (p *fakeProvider) Disconnect(id rpma.CMID) error {
	c := id.(*fakeConn)
	send := func(dst *fakeConn) {
		if dst == nil {
			return
		}
		defer func() { recover() }() //nolint:errcheck // dst.events may already be closed by DestroyID
		select {
		case dst.events <- rpma.CMEvent{Type: rpma.CMEventDisconnected}:
		default:
		}
	}
	send(c)
	send(c.peer)

	// Model the real provider's QP-to-error transition (cmverbs translates
	// this into IBV_WC_WR_FLUSH_ERR completions, see provider_linux.go):
	// any work still outstanding on either side's queue pair is flushed
	// rather than silently dropped, and NextCompletion must still observe
	// it before the completion channel is torn down by DestroyID.
	flush := func(dst *fakeConn) {
		if dst == nil {
			return
		}
		defer func() { recover() }() //nolint:errcheck // dst.completions may already be closed by DestroyID
		select {
		case dst.completions <- rpma.WorkCompletion{Status: rpma.StatusFlushed}:
		default:
		}
	}
	flush(c)
	flush(c.peer)
	return nil
}

func (p *fakeProvider) PostRead(cq rpma.CQHandle, id rpma.CMID, opCtx uint64, dst rpma.MRHandle, dstOffset uint64, src rpma.RemoteDescriptor, srcOffset uint64, length uint64, solicited bool) error {
	c := cq.(*fakeConn)

	srcBuf, ok := p.fabric.bufByKey(src.RKey)
	if !ok {
		return fmt.Errorf("unknown remote key %d", src.RKey)
	}
	dstBuf, ok := p.fabric.bufByKey(dst.LKey)
	if !ok {
		return fmt.Errorf("unknown local key %d", dst.LKey)
	}

	copy(dstBuf[dstOffset:dstOffset+length], srcBuf[srcOffset:srcOffset+length])
	c.completions <- rpma.WorkCompletion{WRID: opCtx, Opcode: rpma.OpRead, Status: rpma.StatusSuccess}
	return nil
}

func (p *fakeProvider) NextCompletion(ctx context.Context, cq rpma.CQHandle) (rpma.WorkCompletion, error) {
	c := cq.(*fakeConn)
	select {
	case wc, ok := <-c.completions:
		if !ok {
			return rpma.WorkCompletion{}, fmt.Errorf("completion channel closed")
		}
		return wc, nil
	case <-ctx.Done():
		return rpma.WorkCompletion{}, ctx.Err()
	}
}

var _ rpma.Provider = (*fakeProvider)(nil)
var _ rpma.Listener = (*fakeListener)(nil)
