package rpma

import "encoding/binary"

// Usage is a bitmask describing the operations a memory region permits.
type Usage uint8

const (
	// UsageReadSrc permits a remote peer to read from this region.
	UsageReadSrc Usage = 1 << iota

	// UsageReadDst permits local reads to land in this region.
	UsageReadDst
)

func (u Usage) has(bit Usage) bool { return u&bit != 0 }

// String renders the usage bitmask as a human-readable flag combination,
// e.g. "READ_SRC|READ_DST". An empty bitmask renders as "NONE".
func (u Usage) String() string {
	if u == 0 {
		return "NONE"
	}
	var s string
	if u.has(UsageReadSrc) {
		s += "READ_SRC"
	}
	if u.has(UsageReadDst) {
		if s != "" {
			s += "|"
		}
		s += "READ_DST"
	}
	return s
}

// Placement selects how a region is registered. PlacementVolatile is the
// only value implemented; any other value is reserved and reported as
// NoSupp until a successor defines its semantics.
type Placement uint8

const (
	PlacementVolatile Placement = iota
)

// regionDescriptorLen is the size in bytes of the wire-format remote region
// descriptor: 8-byte address, 8-byte length, 4-byte rkey, 1-byte usage,
// 3 reserved bytes.
const regionDescriptorLen = 24

// LocalRegion is a buffer registered with the active Provider for remote or
// local access. The underlying buffer is caller-owned and must outlive the
// registration.
type LocalRegion struct {
	peer   *Peer
	buf    []byte
	usage  Usage
	handle MRHandle

	deleted bool
}

// RegisterRegion registers buf against peer with the given usage and
// placement.
func RegisterRegion(peer *Peer, buf []byte, usage Usage, placement Placement) (*LocalRegion, error) {
	if peer == nil {
		return nil, invalidErr("peer must not be nil")
	}
	if len(buf) == 0 {
		return nil, invalidErr("buffer must not be empty")
	}
	if usage == 0 {
		return nil, invalidErr("usage must select at least one permission")
	}
	if placement != PlacementVolatile {
		return nil, newErr(NoSupp, "placement %d not supported", placement)
	}

	if err := peer.retain(); err != nil {
		return nil, err
	}

	h, err := peer.provider.RegisterMR(peer.pd, buf, usage, placement)
	if err != nil {
		peer.release()
		return nil, classifyProviderErr(err, "register memory region")
	}

	return &LocalRegion{peer: peer, buf: buf, usage: usage, handle: h}, nil
}

// Deregister releases the registration. The caller must guarantee no
// outstanding work request still names this region; the library has no way
// to verify this without scanning every connection, so a violation
// surfaces, if at all, as a provider-reported failure rather than being
// caught here.
func (r *LocalRegion) Deregister() error {
	if r.deleted {
		return nil
	}
	if err := r.peer.provider.DeregisterMR(r.peer.pd, r.handle); err != nil {
		return classifyProviderErr(err, "deregister memory region")
	}
	r.deleted = true
	r.peer.release()
	return nil
}

// Usage returns the permitted operations for this region.
func (r *LocalRegion) Usage() Usage { return r.usage }

// Len returns the registered buffer's length in bytes.
func (r *LocalRegion) Len() int { return len(r.buf) }

// Descriptor serializes this region into the wire-format RemoteRegion
// descriptor a peer decodes after receiving it out-of-band (typically as
// connect/accept private data).
func (r *LocalRegion) Descriptor() []byte {
	out := make([]byte, regionDescriptorLen)
	binary.LittleEndian.PutUint64(out[0:8], uint64(r.handle.Addr))
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(r.buf)))
	binary.LittleEndian.PutUint32(out[16:20], r.handle.RKey)
	out[20] = byte(r.usage)
	// out[21:24] reserved, left zero.
	return out
}

// handleForPost exposes the fields post_read needs without leaking the
// provider handle type outside the package.
func (r *LocalRegion) handleForPost() MRHandle { return r.handle }

// RemoteRegion is the decoded form of a peer's LocalRegion descriptor. It
// carries no registration resource of its own; it only names a remote
// address range a local read may target.
type RemoteRegion struct {
	desc RemoteDescriptor
}

// RemoteDescriptor is the decoded wire descriptor fields, exported so a
// Provider implementation can build a work request directly from it.
type RemoteDescriptor struct {
	Addr   uint64
	Length uint64
	RKey   uint32
	Usage  Usage
}

// DecodeRemoteRegion parses a wire-format descriptor produced by
// LocalRegion.Descriptor.
func DecodeRemoteRegion(b []byte) (*RemoteRegion, error) {
	if len(b) < regionDescriptorLen {
		return nil, invalidErr("descriptor too short: got %d bytes, want %d", len(b), regionDescriptorLen)
	}
	d := RemoteDescriptor{
		Addr:   binary.LittleEndian.Uint64(b[0:8]),
		Length: binary.LittleEndian.Uint64(b[8:16]),
		RKey:   binary.LittleEndian.Uint32(b[16:20]),
		Usage:  Usage(b[20]),
	}
	return &RemoteRegion{desc: d}, nil
}

// Len returns the remote region's advertised length in bytes.
func (r *RemoteRegion) Len() uint64 { return r.desc.Length }

// Usage returns the remote region's advertised usage bitmask.
func (r *RemoteRegion) Usage() Usage { return r.desc.Usage }
