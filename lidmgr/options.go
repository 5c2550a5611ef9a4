package lidmgr

// Options carries every subnet-wide configuration knob the allocator
// consumes, named per spec.md §6.
type Options struct {
	// LMC is the subnet-wide LID Mask Control value, 0..7.
	LMC uint8

	// MaxUnicastLID upper-bounds allocations; must be <= UcastEnd.
	MaxUnicastLID uint16

	// ReassignLIDs, when true, makes the very first sweep since becoming
	// active skip persistent-entry validation, start from a single free
	// range, and never preserve a port's observed LIDs (spec.md §4.4).
	// Entries already in Guid2Lid are still honored by Allocator.Assign.
	ReassignLIDs bool

	// HonorGUID2LIDFile controls whether a standby->active transition
	// reloads the persistent guid2lid store or discards it.
	HonorGUID2LIDFile bool

	// ExitOnFatal controls whether persistence load failure aborts the
	// process (strict mode) or is logged and treated as an empty store.
	ExitOnFatal bool

	// NoClientsRereg disables the client-reregister bit entirely.
	NoClientsRereg bool

	// MKey, SubnetPrefix, MKeyLeasePeriod, SubnetTimeout,
	// LocalPhyErrorsThreshold and OverrunErrorsThreshold are copied
	// verbatim into every PortInfo this sweep emits.
	MKey                    uint64
	SubnetPrefix            uint64
	MKeyLeasePeriod         uint16
	SubnetTimeout           uint8
	LocalPhyErrorsThreshold uint8
	OverrunErrorsThreshold  uint8
}
