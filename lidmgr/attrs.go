package lidmgr

// LinkState is the subset of PortInfo.PortState / LinkDownDefaultState
// values the attribute-set builder ever writes.
type LinkState uint8

const (
	LinkStateNoChange LinkState = iota
	LinkStateDown
	LinkStateInit
	LinkStatePolling
)

// PortInfo is the attribute payload emitted by the attribute-set builder
// (spec.md §4.6, §6): conceptually a 64-byte PortInfo management
// attribute. Named fields are the ones the allocator ever writes; Other
// carries everything else through unchanged from the observed image.
// Exact on-wire byte offsets are the transport's concern (out of this
// repository's scope, per spec.md's Non-goals on wire framing) — this
// struct is the logical shape the transport marshals.
type PortInfo struct {
	BaseLID                 uint16
	MasterSMBaseLID         uint16
	MKey                    uint64
	SubnetPrefix            uint64
	MKeyLeasePeriod         uint16
	SubnetTimeout           uint8
	LocalPhyErrorThreshold  uint8
	OverrunErrorThreshold   uint8
	PortState               LinkState
	LinkDownDefaultState    LinkState
	LinkWidthEnabled        uint8
	LMC                     uint8
	NeighborMTU             uint8
	OpVLs                   uint8
	ClientReregister        bool

	// Other passes through every byte of the observed PortInfo image
	// the builder does not otherwise touch.
	Other [40]byte
}

// computeNeighborMTU derives the MTU the builder should program. A full
// negotiation needs the remote link partner's capability, which the
// discovery interface specified here does not expose (link topology is
// out of scope); this uses the local capability as observed, matching
// what a single-port view can know.
func computeNeighborMTU(p *Port) uint8 {
	return p.MTUCap
}

// computeOpVLs derives the operational VL count the builder should
// program. Like computeNeighborMTU this would normally also depend on
// the remote link partner; absent that, it is derived from the port's
// own advertised link width.
func computeOpVLs(p *Port) uint8 {
	if p.LinkWidthSupported == 0 {
		return 1
	}

	return p.LinkWidthSupported
}

// BuildPortInfo implements spec.md §4.6: it diffs the proposed image
// against port.Observed and reports whether anything changed. min is
// the port's newly decided base LID (lidmgr.Allocator.Assign's output);
// smBaseLID is the subnet's current sm_base_lid (spec.md §4.7).
// setRemoteToInit reports that NeighborMTU or OpVLs changed and PortState
// was set to Down, the case in which the reference allocator calls
// __osm_lid_mgr_set_remote_pi_state_to_init. This package keeps no state
// for the remote link partner, so Driver only logs the flag and does not
// move any remote port to INIT.
func BuildPortInfo(port *Port, opts Options, smBaseLID uint16, min uint16, firstSweep bool) (pi PortInfo, changed bool, setRemoteToInit bool) {
	old := port.Observed

	pi = old
	pi.Other = old.Other

	pi.PortState = LinkStateNoChange
	pi.LinkDownDefaultState = LinkStatePolling
	if pi.LinkDownDefaultState != old.LinkDownDefaultState {
		changed = true
	}

	pi.MKey = opts.MKey
	if pi.MKey != old.MKey {
		changed = true
	}

	pi.SubnetPrefix = opts.SubnetPrefix
	if pi.SubnetPrefix != old.SubnetPrefix {
		changed = true
	}

	pi.BaseLID = min
	if pi.BaseLID != old.BaseLID {
		changed = true
	}

	pi.MasterSMBaseLID = smBaseLID
	if pi.MasterSMBaseLID != old.MasterSMBaseLID {
		changed = true
	}

	pi.MKeyLeasePeriod = opts.MKeyLeasePeriod
	if pi.MKeyLeasePeriod != old.MKeyLeasePeriod {
		changed = true
	}

	pi.SubnetTimeout = opts.SubnetTimeout
	if pi.SubnetTimeout != old.SubnetTimeout {
		changed = true
	}

	pi.LocalPhyErrorThreshold = opts.LocalPhyErrorsThreshold
	pi.OverrunErrorThreshold = opts.OverrunErrorsThreshold
	if pi.LocalPhyErrorThreshold != old.LocalPhyErrorThreshold || pi.OverrunErrorThreshold != old.OverrunErrorThreshold {
		changed = true
	}

	if !port.IsSwitchPort0() {
		pi.LinkWidthEnabled = port.LinkWidthSupported
		if pi.LinkWidthEnabled != old.LinkWidthEnabled {
			changed = true
		}

		pi.LMC = opts.LMC
		if pi.LMC != old.LMC {
			changed = true
		}

		mtu := computeNeighborMTU(port)
		opVLs := computeOpVLs(port)

		pi.NeighborMTU = mtu
		pi.OpVLs = opVLs

		if mtu != old.NeighborMTU || opVLs != old.OpVLs {
			changed = true
			pi.PortState = LinkStateDown
			setRemoteToInit = true
		}
	} else {
		pi.NeighborMTU = port.MTUCap
		if pi.NeighborMTU != old.NeighborMTU {
			changed = true
		}

		if port.SP0LMCCapable {
			pi.LMC = opts.LMC
			if pi.LMC != old.LMC {
				changed = true
			}
		}
	}

	if (firstSweep || port.IsNew) && !opts.NoClientsRereg && port.ClientRereg {
		pi.ClientReregister = true
		changed = true
	} else {
		pi.ClientReregister = false
	}

	if firstSweep {
		changed = true
	}

	return pi, changed, setRemoteToInit
}
