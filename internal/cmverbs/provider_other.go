//go:build !linux

package cmverbs

import (
	"context"

	"github.com/openrdma/gorpma/internal/rpma"
)

// Provider is the non-Linux stand-in: librdmacm and libibverbs are Linux-only,
// so every operation reports NoSupp rather than silently doing nothing.
type Provider struct{}

// New returns a Provider that rejects every operation with NoSupp.
func New() *Provider { return &Provider{} }

func errNoSupp(op string) error {
	return &rpma.Error{Code: rpma.NoSupp, Message: op + ": RDMA verbs are only available on Linux"}
}

func (p *Provider) AllocPD(dev rpma.DeviceRef) (rpma.ProtDomain, error) {
	return nil, errNoSupp("AllocPD")
}

func (p *Provider) DeallocPD(h rpma.ProtDomain) error {
	return errNoSupp("DeallocPD")
}

func (p *Provider) RegisterMR(h rpma.ProtDomain, buf []byte, usage rpma.Usage, placement rpma.Placement) (rpma.MRHandle, error) {
	return rpma.MRHandle{}, errNoSupp("RegisterMR")
}

func (p *Provider) DeregisterMR(h rpma.ProtDomain, handle rpma.MRHandle) error {
	return errNoSupp("DeregisterMR")
}

func (p *Provider) ResolveOutgoing(ctx context.Context, h rpma.ProtDomain, addr, service string) (rpma.CMID, rpma.CQHandle, error) {
	return nil, nil, errNoSupp("ResolveOutgoing")
}

func (p *Provider) Listen(h rpma.ProtDomain, addr, service string) (rpma.Listener, error) {
	return nil, errNoSupp("Listen")
}

func (p *Provider) Connect(ctx context.Context, id rpma.CMID, privateData []byte) (rpma.CMEvent, error) {
	return rpma.CMEvent{}, errNoSupp("Connect")
}

func (p *Provider) Accept(ctx context.Context, id rpma.CMID, privateData []byte) (rpma.CMEvent, error) {
	return rpma.CMEvent{}, errNoSupp("Accept")
}

func (p *Provider) Reject(id rpma.CMID) error {
	return errNoSupp("Reject")
}

func (p *Provider) DestroyID(id rpma.CMID) error {
	return errNoSupp("DestroyID")
}

func (p *Provider) NextEvent(ctx context.Context, id rpma.CMID) (rpma.CMEvent, error) {
	return rpma.CMEvent{}, errNoSupp("NextEvent")
}

func (p *Provider) Disconnect(id rpma.CMID) error {
	return errNoSupp("Disconnect")
}

func (p *Provider) PostRead(cq rpma.CQHandle, id rpma.CMID, opCtx uint64, dst rpma.MRHandle, dstOffset uint64, src rpma.RemoteDescriptor, srcOffset uint64, length uint64, solicited bool) error {
	return errNoSupp("PostRead")
}

func (p *Provider) NextCompletion(ctx context.Context, cq rpma.CQHandle) (rpma.WorkCompletion, error) {
	return rpma.WorkCompletion{}, errNoSupp("NextCompletion")
}

var _ rpma.Provider = (*Provider)(nil)
