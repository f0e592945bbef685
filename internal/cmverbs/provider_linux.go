//go:build linux

package cmverbs

/*
#cgo LDFLAGS: -lrdmacm -libverbs
#include <stdlib.h>
#include <string.h>
#include <errno.h>
#include <rdma/rdma_cma.h>
#include <infiniband/verbs.h>

// go_fill_qp_init_attr builds the queue-pair init attributes the core always uses:
// one send and one receive queue, a single outstanding scatter/gather entry
// per work request, both halves of the pair sharing one completion queue.
static void go_fill_qp_init_attr(struct ibv_qp_init_attr *attr, struct ibv_cq *cq) {
	memset(attr, 0, sizeof(*attr));
	attr->qp_type = IBV_QPT_RC;
	attr->send_cq = cq;
	attr->recv_cq = cq;
	attr->cap.max_send_wr = 64;
	attr->cap.max_recv_wr = 1;
	attr->cap.max_send_sge = 1;
	attr->cap.max_recv_sge = 1;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/openrdma/gorpma/internal/rpma"
)

// Provider is the cgo-backed Provider implementation driving a real
// librdmacm/libibverbs fabric.
type Provider struct{}

// New returns a Provider bound to real RDMA hardware.
func New() *Provider { return &Provider{} }

// pd wraps a protection domain together with the device context it was
// opened from, so DeallocPD can close the context too.
type pd struct {
	ctx *C.struct_ibv_context
	pd  *C.struct_ibv_pd
}

// AllocPD opens the named device/port and allocates a protection domain
// against it.
func (p *Provider) AllocPD(dev rpma.DeviceRef) (rpma.ProtDomain, error) {
	var numDevices C.int
	list := C.ibv_get_device_list(&numDevices)
	if list == nil {
		return nil, cmError("ibv_get_device_list")
	}
	defer C.ibv_free_device_list(list)

	devices := unsafe.Slice(list, int(numDevices))
	var target *C.struct_ibv_device
	for _, d := range devices {
		name := C.GoString(C.ibv_get_device_name(d))
		if name == dev.Name {
			target = d
			break
		}
	}
	if target == nil {
		return nil, &rpma.Error{Code: rpma.Invalid, Message: fmt.Sprintf("device %q not found", dev.Name)}
	}

	ctx := C.ibv_open_device(target)
	if ctx == nil {
		return nil, cmError("ibv_open_device")
	}

	ibvPD := C.ibv_alloc_pd(ctx)
	if ibvPD == nil {
		C.ibv_close_device(ctx)
		if isErrno(unix.ENOMEM) {
			return nil, &rpma.Error{Code: rpma.NoMem, Message: "ibv_alloc_pd: out of memory"}
		}
		return nil, cmError("ibv_alloc_pd")
	}

	return &pd{ctx: ctx, pd: ibvPD}, nil
}

// DeallocPD releases the protection domain and closes the device context.
func (p *Provider) DeallocPD(h rpma.ProtDomain) error {
	d := h.(*pd)
	if rc := C.ibv_dealloc_pd(d.pd); rc != 0 {
		return cmError("ibv_dealloc_pd")
	}
	if rc := C.ibv_close_device(d.ctx); rc != 0 {
		return cmError("ibv_close_device")
	}
	return nil
}

// mr wraps a registered memory region. The Go buffer it was registered
// against is kept alive by the caller (LocalRegion holds it); mr itself
// only holds the C handle and the derived keys.
type mr struct {
	ibvMR *C.struct_ibv_mr
}

func usageToAccessFlags(usage rpma.Usage) C.int {
	var flags C.int
	if usage&rpma.UsageReadDst != 0 {
		flags |= C.IBV_ACCESS_LOCAL_WRITE
	}
	if usage&rpma.UsageReadSrc != 0 {
		flags |= C.IBV_ACCESS_REMOTE_READ
	}
	return flags
}

// RegisterMR registers buf with access flags derived from usage.
func (p *Provider) RegisterMR(h rpma.ProtDomain, buf []byte, usage rpma.Usage, placement rpma.Placement) (rpma.MRHandle, error) {
	d := h.(*pd)
	if placement != rpma.PlacementVolatile {
		return rpma.MRHandle{}, &rpma.Error{Code: rpma.NoSupp, Message: "persistent placement not supported by this provider"}
	}

	ptr := unsafe.Pointer(&buf[0])
	ibvMR := C.ibv_reg_mr(d.pd, ptr, C.size_t(len(buf)), usageToAccessFlags(usage))
	if ibvMR == nil {
		if isErrno(unix.ENOMEM) {
			return rpma.MRHandle{}, &rpma.Error{Code: rpma.NoMem, Message: "ibv_reg_mr: out of memory"}
		}
		return rpma.MRHandle{}, cmError("ibv_reg_mr")
	}

	registeredMu.Lock()
	registered[ibvMR] = &mr{ibvMR: ibvMR}
	registeredMu.Unlock()

	return rpma.MRHandle{
		Addr: uintptr(ptr),
		LKey: uint32(ibvMR.lkey),
		RKey: uint32(ibvMR.rkey),
	}, nil
}

// DeregisterMR releases a memory-region registration.
func (p *Provider) DeregisterMR(h rpma.ProtDomain, handle rpma.MRHandle) error {
	registeredMu.Lock()
	target, ok := lookupByKeys(handle.LKey, handle.RKey)
	if ok {
		delete(registered, target.ibvMR)
	}
	registeredMu.Unlock()

	if !ok {
		return &rpma.Error{Code: rpma.Invalid, Message: "unknown memory region handle"}
	}
	if rc := C.ibv_dereg_mr(target.ibvMR); rc != 0 {
		return cmError("ibv_dereg_mr")
	}
	return nil
}

// registered tracks live registrations by their C handle so DeregisterMR can
// find the ibv_mr for a caller-held MRHandle without leaking cgo pointers
// into the rpma package.
var (
	registeredMu sync.Mutex
	registered   = map[*C.struct_ibv_mr]*mr{}
)

func lookupByKeys(lkey, rkey uint32) (*mr, bool) {
	for _, m := range registered {
		if uint32(m.ibvMR.lkey) == lkey && uint32(m.ibvMR.rkey) == rkey {
			return m, true
		}
	}
	return nil, false
}

// conn is the CMID/CQHandle pair threaded through the rpma package: one
// rdma_cm_id plus its dedicated completion queue and completion channel.
// Blocking waits create a short-lived epoll fd per call (see epollWaitFD);
// none is stored here.
type conn struct {
	id *C.struct_rdma_cm_id
	cq *C.struct_ibv_cq
	cc *C.struct_ibv_comp_channel

	mu sync.Mutex
}

func (p *Provider) ResolveOutgoing(ctx context.Context, h rpma.ProtDomain, addr, service string) (rpma.CMID, rpma.CQHandle, error) {
	d := h.(*pd)

	var id *C.struct_rdma_cm_id
	if rc := C.rdma_create_id(nil, &id, nil, C.RDMA_PS_TCP); rc != 0 {
		return nil, nil, cmError("rdma_create_id")
	}

	cAddr := C.CString(addr)
	cService := C.CString(service)
	defer C.free(unsafe.Pointer(cAddr))
	defer C.free(unsafe.Pointer(cService))

	var hints C.struct_rdma_addrinfo
	hints.ai_port_space = C.RDMA_PS_TCP
	var info *C.struct_rdma_addrinfo
	if rc := C.rdma_getaddrinfo(cAddr, cService, &hints, &info); rc != 0 {
		C.rdma_destroy_id(id)
		return nil, nil, cmError("rdma_getaddrinfo")
	}
	defer C.rdma_freeaddrinfo(info)

	if rc := C.rdma_resolve_addr(id, nil, info.ai_dst_addr, cmTimeoutMillis); rc != 0 {
		C.rdma_destroy_id(id)
		return nil, nil, cmError("rdma_resolve_addr")
	}
	if err := waitForCMEvent(ctx, id, C.RDMA_CM_EVENT_ADDR_RESOLVED); err != nil {
		C.rdma_destroy_id(id)
		return nil, nil, err
	}
	if rc := C.rdma_resolve_route(id, cmTimeoutMillis); rc != 0 {
		C.rdma_destroy_id(id)
		return nil, nil, cmError("rdma_resolve_route")
	}
	if err := waitForCMEvent(ctx, id, C.RDMA_CM_EVENT_ROUTE_RESOLVED); err != nil {
		C.rdma_destroy_id(id)
		return nil, nil, err
	}

	c, err := createQueuePair(d, id)
	if err != nil {
		C.rdma_destroy_id(id)
		return nil, nil, err
	}
	return c, c, nil
}

// createQueuePair allocates a completion channel, completion queue, and
// queue pair bound to id within pd.
func createQueuePair(d *pd, id *C.struct_rdma_cm_id) (*conn, error) {
	cc := C.ibv_create_comp_channel(d.ctx)
	if cc == nil {
		return nil, cmError("ibv_create_comp_channel")
	}
	cq := C.ibv_create_cq(d.ctx, 64, nil, cc, 0)
	if cq == nil {
		C.ibv_destroy_comp_channel(cc)
		return nil, cmError("ibv_create_cq")
	}

	var attr C.struct_ibv_qp_init_attr
	C.go_fill_qp_init_attr(&attr, cq)
	if rc := C.rdma_create_qp(id, d.pd, &attr); rc != 0 {
		C.ibv_destroy_cq(cq)
		C.ibv_destroy_comp_channel(cc)
		return nil, cmError("rdma_create_qp")
	}

	return &conn{id: id, cq: cq, cc: cc}, nil
}

type listener struct {
	id *C.struct_rdma_cm_id
	d  *pd
}

func (p *Provider) Listen(h rpma.ProtDomain, addr, service string) (rpma.Listener, error) {
	d := h.(*pd)

	var id *C.struct_rdma_cm_id
	if rc := C.rdma_create_id(nil, &id, nil, C.RDMA_PS_TCP); rc != 0 {
		return nil, cmError("rdma_create_id")
	}

	cAddr := C.CString(addr)
	cService := C.CString(service)
	defer C.free(unsafe.Pointer(cAddr))
	defer C.free(unsafe.Pointer(cService))

	var hints C.struct_rdma_addrinfo
	hints.ai_flags = C.RAI_PASSIVE
	hints.ai_port_space = C.RDMA_PS_TCP
	var info *C.struct_rdma_addrinfo
	if rc := C.rdma_getaddrinfo(cAddr, cService, &hints, &info); rc != 0 {
		C.rdma_destroy_id(id)
		return nil, cmError("rdma_getaddrinfo")
	}
	defer C.rdma_freeaddrinfo(info)

	if rc := C.rdma_bind_addr(id, info.ai_src_addr); rc != 0 {
		C.rdma_destroy_id(id)
		return nil, cmError("rdma_bind_addr")
	}
	if rc := C.rdma_listen(id, 16); rc != 0 {
		C.rdma_destroy_id(id)
		return nil, cmError("rdma_listen")
	}

	return &listener{id: id, d: d}, nil
}

func (l *listener) NextConnRequest(ctx context.Context) (rpma.CMID, rpma.CQHandle, []byte, error) {
	raw, err := blockForEvent(ctx, l.id.channel, C.RDMA_CM_EVENT_CONNECT_REQUEST)
	if err != nil {
		return nil, nil, nil, err
	}
	incoming := raw.id
	privateData := copyPrivateData(raw)
	C.rdma_ack_cm_event(raw)

	c, err := createQueuePair(l.d, incoming)
	if err != nil {
		C.rdma_destroy_id(incoming)
		return nil, nil, nil, err
	}
	return c, c, privateData, nil
}

func (l *listener) Shutdown() error {
	if rc := C.rdma_destroy_id(l.id); rc != 0 {
		return cmError("rdma_destroy_id")
	}
	return nil
}

func (p *Provider) Connect(ctx context.Context, h rpma.CMID, privateData []byte) (rpma.CMEvent, error) {
	c := h.(*conn)
	var param C.struct_rdma_conn_param
	setPrivateData(&param, privateData)
	if rc := C.rdma_connect(c.id, &param); rc != 0 {
		return rpma.CMEvent{}, cmError("rdma_connect")
	}
	return waitEstablished(ctx, c.id)
}

func (p *Provider) Accept(ctx context.Context, h rpma.CMID, privateData []byte) (rpma.CMEvent, error) {
	c := h.(*conn)
	var param C.struct_rdma_conn_param
	setPrivateData(&param, privateData)
	if rc := C.rdma_accept(c.id, &param); rc != 0 {
		return rpma.CMEvent{}, cmError("rdma_accept")
	}
	return waitEstablished(ctx, c.id)
}

func (p *Provider) Reject(h rpma.CMID) error {
	c := h.(*conn)
	if rc := C.rdma_reject(c.id, nil, 0); rc != 0 {
		return cmError("rdma_reject")
	}
	return nil
}

func (p *Provider) DestroyID(h rpma.CMID) error {
	c := h.(*conn)
	if c.id.qp != nil {
		C.rdma_destroy_qp(c.id)
	}
	if c.cq != nil {
		C.ibv_destroy_cq(c.cq)
	}
	if c.cc != nil {
		C.ibv_destroy_comp_channel(c.cc)
	}
	if rc := C.rdma_destroy_id(c.id); rc != 0 {
		return cmError("rdma_destroy_id")
	}
	return nil
}

func (p *Provider) NextEvent(ctx context.Context, h rpma.CMID) (rpma.CMEvent, error) {
	c := h.(*conn)
	raw, err := blockForAnyEvent(ctx, c.id.channel)
	if err != nil {
		return rpma.CMEvent{}, err
	}
	defer C.rdma_ack_cm_event(raw)

	return rpma.CMEvent{Type: translateEventType(raw.event)}, nil
}

func (p *Provider) Disconnect(h rpma.CMID) error {
	c := h.(*conn)
	if rc := C.rdma_disconnect(c.id); rc != 0 {
		return cmError("rdma_disconnect")
	}
	return nil
}

func (p *Provider) PostRead(cqh rpma.CQHandle, idh rpma.CMID, opCtx uint64, dst rpma.MRHandle, dstOffset uint64, src rpma.RemoteDescriptor, srcOffset uint64, length uint64, solicited bool) error {
	c := idh.(*conn)

	var sge C.struct_ibv_sge
	sge.addr = C.uint64_t(uint64(dst.Addr) + dstOffset)
	sge.length = C.uint32_t(length)
	sge.lkey = C.uint32_t(dst.LKey)

	var wr C.struct_ibv_send_wr
	wr.wr_id = C.uint64_t(opCtx)
	wr.sg_list = &sge
	wr.num_sge = 1
	wr.opcode = C.IBV_WR_RDMA_READ
	if solicited {
		wr.send_flags = C.IBV_SEND_SIGNALED
	}
	setRemoteAddr(&wr, src.Addr+srcOffset, src.RKey)

	var bad *C.struct_ibv_send_wr
	if rc := C.ibv_post_send(c.id.qp, &wr, &bad); rc != 0 {
		return cmError("ibv_post_send")
	}
	return nil
}

func (p *Provider) NextCompletion(ctx context.Context, cqh rpma.CQHandle) (rpma.WorkCompletion, error) {
	c := cqh.(*conn)

	var wc C.struct_ibv_wc
	poll := func() (rpma.WorkCompletion, bool, error) {
		n := C.ibv_poll_cq(c.cq, 1, &wc)
		if n < 0 {
			return rpma.WorkCompletion{}, false, cmError("ibv_poll_cq")
		}
		if n == 0 {
			return rpma.WorkCompletion{}, false, nil
		}
		status := rpma.StatusSuccess
		switch wc.status {
		case C.IBV_WC_SUCCESS:
			status = rpma.StatusSuccess
		case C.IBV_WC_WR_FLUSH_ERR:
			status = rpma.StatusFlushed
		default:
			status = rpma.StatusError
		}
		return rpma.WorkCompletion{WRID: uint64(wc.wr_id), Opcode: rpma.OpRead, Status: status}, true, nil
	}

	for {
		if comp, ok, err := poll(); err != nil {
			return rpma.WorkCompletion{}, err
		} else if ok {
			return comp, nil
		}

		if rc := C.ibv_req_notify_cq(c.cq, 0); rc != 0 {
			return rpma.WorkCompletion{}, cmError("ibv_req_notify_cq")
		}

		// A completion can land between the poll above and arming
		// notification just now; poll once more before blocking so it
		// isn't missed until some unrelated later completion wakes us.
		if comp, ok, err := poll(); err != nil {
			return rpma.WorkCompletion{}, err
		} else if ok {
			return comp, nil
		}

		if err := waitCompChannel(ctx, c.cc); err != nil {
			return rpma.WorkCompletion{}, err
		}

		var evCQ *C.struct_ibv_cq
		var evCtx unsafe.Pointer
		if rc := C.ibv_get_cq_event(c.cc, &evCQ, &evCtx); rc != 0 {
			return rpma.WorkCompletion{}, cmError("ibv_get_cq_event")
		}
		C.ibv_ack_cq_events(evCQ, 1)
	}
}

var _ rpma.Provider = (*Provider)(nil)
var _ rpma.Listener = (*listener)(nil)
