//go:build linux

package cmverbs

/*
#include <errno.h>
#include <string.h>
#include <rdma/rdma_cma.h>
#include <infiniband/verbs.h>
*/
import "C"

import (
	"context"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/openrdma/gorpma/internal/rpma"
)

// cmTimeoutMillis bounds how long rdma_resolve_addr/rdma_resolve_route may
// take before the connection manager gives up and reports
// RDMA_CM_EVENT_ADDR_ERROR / RDMA_CM_EVENT_ROUTE_ERROR.
const cmTimeoutMillis = C.int(10_000)

// epollWaitFD blocks until fd becomes readable or ctx is done. It mirrors
// the blocking-read-via-epoll pattern internal/netio's raw-socket listener
// uses for its own fd, applied here to a connection-manager or completion
// channel's fd instead of a packet socket.
func epollWaitFD(ctx context.Context, fd int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return &rpma.Error{Code: rpma.ProviderErr, Message: "epoll_create1: " + err.Error()}
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return &rpma.Error{Code: rpma.ProviderErr, Message: "epoll_ctl: " + err.Error()}
	}

	events := make([]unix.EpollEvent, 1)
	for {
		timeout := -1
		if dl, ok := ctx.Deadline(); ok {
			if ms := time.Until(dl).Milliseconds(); ms > 0 {
				timeout = int(ms)
			} else {
				timeout = 0
			}
		}

		n, err := unix.EpollWait(epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return &rpma.Error{Code: rpma.ProviderErr, Message: "epoll_wait: " + err.Error()}
		}
		if n > 0 {
			if events[0].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				return &rpma.Error{Code: rpma.ProviderErr, Message: "channel closed", Errno: int(unix.EBADF)}
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return &rpma.Error{Code: rpma.ProviderErr, Message: "cancelled: " + err.Error()}
		}
	}
}

// waitForCMEvent blocks until id's event channel delivers an event of type
// want.
func waitForCMEvent(ctx context.Context, id *C.struct_rdma_cm_id, want C.enum_rdma_cm_event_type) error {
	raw, err := blockForEvent(ctx, id.channel, want)
	if err != nil {
		return err
	}
	C.rdma_ack_cm_event(raw)
	return nil
}

// blockForEvent blocks until channel delivers an event of type want and
// returns it unacknowledged (the caller must read any fields it needs and
// call rdma_ack_cm_event). Events of any other type are acknowledged and
// discarded, matching the "other events are consumed and discarded" policy
// an Endpoint applies while waiting for CONNECT_REQUEST.
func blockForEvent(ctx context.Context, channel *C.struct_rdma_event_channel, want C.enum_rdma_cm_event_type) (*C.struct_rdma_cm_event, error) {
	for {
		raw, err := blockForAnyEvent(ctx, channel)
		if err != nil {
			return nil, err
		}
		if raw.event == want {
			return raw, nil
		}
		C.rdma_ack_cm_event(raw)
	}
}

// blockForAnyEvent blocks until channel has an event ready and returns it
// unacknowledged.
func blockForAnyEvent(ctx context.Context, channel *C.struct_rdma_event_channel) (*C.struct_rdma_cm_event, error) {
	if err := epollWaitFD(ctx, int(channel.fd)); err != nil {
		return nil, err
	}
	var raw *C.struct_rdma_cm_event
	if rc := C.rdma_get_cm_event(channel, &raw); rc != 0 {
		return nil, cmError("rdma_get_cm_event")
	}
	return raw, nil
}

// waitEstablished blocks for id's terminal connect/accept event and
// translates it, copying out any private data before acknowledging.
func waitEstablished(ctx context.Context, id *C.struct_rdma_cm_id) (rpma.CMEvent, error) {
	raw, err := blockForAnyEvent(ctx, id.channel)
	if err != nil {
		return rpma.CMEvent{}, err
	}
	defer C.rdma_ack_cm_event(raw)

	ev := rpma.CMEvent{Type: translateEventType(raw.event)}
	if ev.Type == rpma.CMEventEstablished {
		ev.PrivateData = copyPrivateData(raw)
	}
	return ev, nil
}

// waitCompChannel blocks until cc has a completion event queued.
func waitCompChannel(ctx context.Context, cc *C.struct_ibv_comp_channel) error {
	return epollWaitFD(ctx, int(cc.fd))
}

// copyPrivateData copies the private-data blob out of a connection-manager
// event into a Go-owned slice; the event's own buffer is freed by
// rdma_ack_cm_event.
func copyPrivateData(raw *C.struct_rdma_cm_event) []byte {
	length := int(raw.param.conn.private_data_len)
	if length == 0 || raw.param.conn.private_data == nil {
		return nil
	}
	out := make([]byte, length)
	copy(out, unsafe.Slice((*byte)(raw.param.conn.private_data), length))
	return out
}

// setPrivateData points a connect/accept param struct at a Go byte slice.
// The slice must remain alive for the duration of the rdma_connect/
// rdma_accept call, which is true here since both happen synchronously in
// the caller's stack frame.
func setPrivateData(param *C.struct_rdma_conn_param, data []byte) {
	param.responder_resources = 1
	param.initiator_depth = 1
	param.retry_count = 7
	param.rnr_retry_count = 7
	if len(data) == 0 {
		return
	}
	param.private_data = unsafe.Pointer(&data[0])
	param.private_data_len = C.uint8_t(len(data))
}

// setRemoteAddr fills the remote-side addressing fields of an RDMA read
// work request.
func setRemoteAddr(wr *C.struct_ibv_send_wr, addr uint64, rkey uint32) {
	wr.wr.rdma.remote_addr = C.uint64_t(addr)
	wr.wr.rdma.rkey = C.uint32_t(rkey)
}

// translateEventType maps a librdmacm event code into the package's own
// vocabulary.
func translateEventType(t C.enum_rdma_cm_event_type) rpma.CMEventType {
	switch t {
	case C.RDMA_CM_EVENT_ESTABLISHED:
		return rpma.CMEventEstablished
	case C.RDMA_CM_EVENT_DISCONNECTED:
		return rpma.CMEventDisconnected
	case C.RDMA_CM_EVENT_REJECTED:
		return rpma.CMEventRejected
	case C.RDMA_CM_EVENT_UNREACHABLE:
		return rpma.CMEventUnreachable
	case C.RDMA_CM_EVENT_DEVICE_REMOVAL:
		return rpma.CMEventDeviceRemoval
	case C.RDMA_CM_EVENT_TIMEWAIT_EXIT:
		return rpma.CMEventTimewaitExit
	case C.RDMA_CM_EVENT_CONNECT_ERROR, C.RDMA_CM_EVENT_ADDR_ERROR, C.RDMA_CM_EVENT_ROUTE_ERROR:
		return rpma.CMEventConnectError
	default:
		return rpma.CMEventUnknown
	}
}

// cmError wraps the current C errno into a *rpma.Error after a failing call
// named fn.
func cmError(fn string) error {
	errno := int(C.errno)
	return &rpma.Error{Code: rpma.ProviderErr, Errno: errno, Message: fn + ": " + C.GoString(C.strerror(C.int(errno)))}
}

// isErrno reports whether the current C errno equals want.
func isErrno(want unix.Errno) bool {
	return int(C.errno) == int(want)
}
