package lidmgr

import "context"

// GUID identifies a port. GUID 0 is never valid.
type GUID uint64

// NodeType distinguishes channel-adapter ports from switch ports.
type NodeType int

const (
	NodeTypeChannelAdapter NodeType = iota
	NodeTypeSwitch
)

// Range is a closed, inclusive interval of LIDs: [Lo, Hi].
type Range struct {
	Lo uint16
	Hi uint16
}

// Len returns the number of LIDs the range covers.
func (r Range) Len() uint16 {
	return r.Hi - r.Lo + 1
}

// Port is the sweep's observation of one physical port, as read off the
// fabric by the (out of scope) discovery subsystem. The allocator holds
// non-owning references to Ports valid for the sweep's duration only.
type Port struct {
	GUID GUID

	// NodeType and PortNum identify where on the fabric this port sits.
	NodeType NodeType
	PortNum  uint8

	// BaseLID is the base LID currently observed on the wire, or 0 if
	// the port has never been configured.
	BaseLID uint16

	// SP0LMCCapable is only meaningful when NodeType is Switch and
	// PortNum is 0: it reports whether this switch's management port
	// is "enhanced" (gets a full LMC-sized block) or "base" (gets
	// exactly one LID, unaligned).
	SP0LMCCapable bool

	// IsNew reports whether this is the first sweep this port has been
	// observed in.
	IsNew bool

	// LinkWidthSupported and MTUCap feed the attribute-set builder.
	LinkWidthSupported uint8
	MTUCap             uint8

	// ClientRereg reports whether the port's capability mask advertises
	// support for the client-reregister bit.
	ClientRereg bool

	// Observed is the last PortInfo image seen for this physical port,
	// used by the attribute-set builder as the diff baseline.
	Observed PortInfo
}

// IsSwitchPort0 reports whether this port is a switch's management port.
func (p *Port) IsSwitchPort0() bool {
	return p.NodeType == NodeTypeSwitch && p.PortNum == 0
}

// NumLIDs returns the block size this port requires: 1<<LMC for anything
// LMC-capable, or 1 for a base (non-LMC-capable) switch port 0.
func (p *Port) NumLIDs(lmc uint8) uint16 {
	if p.IsSwitchPort0() && !p.SP0LMCCapable {
		return 1
	}

	return blockSize(lmc)
}

// Discovery produces the iterable port set for one sweep. Its
// implementation (subnet sweep/discovery) is out of this repository's
// scope; only this interface and the Port shape it must populate belong
// to the allocator's contract.
type Discovery interface {
	SMPort(ctx context.Context) (*Port, error)
	Ports(ctx context.Context) ([]*Port, error)
}

// Transport delivers a PortInfo Set request to one physical port. Its
// implementation (the subnet management packet transport) is out of this
// repository's scope; only the payload shape (PortInfo) and this
// interface belong to the allocator's contract. Emission is
// fire-and-forget from the allocator's perspective.
type Transport interface {
	Set(ctx context.Context, port *Port, payload PortInfo) error
}

// Signal is returned by the sweep driver's entry points.
type Signal int

const (
	// Done indicates the sweep emitted no set requests.
	Done Signal = iota
	// DonePending indicates set requests are outstanding.
	DonePending
)

func (s Signal) String() string {
	if s == DonePending {
		return "DONE_PENDING"
	}

	return "DONE"
}
