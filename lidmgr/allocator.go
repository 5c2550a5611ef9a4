package lidmgr

import (
	"context"

	"github.com/libopensm/lidmgrd/internal/logger"
)

// persistenceSetter is the subset of store.Store the allocator needs to
// commit a decision immediately, matching spec.md §4.5's "after a
// decision, commit C1.set(g, min, max)".
type persistenceSetter interface {
	Set(ctx context.Context, guid uint64, min, max uint16) error
}

// Allocator decides each port's LID block and commits the decision to
// Guid2Lid, Used, and Discovered (spec.md §4.5).
type Allocator struct {
	Sweep   *Sweep
	Backend persistenceSetter
}

// NewAllocator returns an Allocator operating over sweep, persisting
// decisions through backend.
func NewAllocator(sweep *Sweep, backend persistenceSetter) *Allocator {
	return &Allocator{Sweep: sweep, Backend: backend}
}

// clearDiscovered removes every DiscoveredByLid entry this port
// currently owns, mirroring
// __osm_lid_mgr_cleanup_discovered_port_lid_range.
func (a *Allocator) clearDiscovered(port *Port) {
	min := trimLID(port.BaseLID)
	if min == 0 {
		return
	}

	num := port.NumLIDs(a.Sweep.Opts.LMC)
	max := min + num - 1

	for lid := min; lid <= max; lid++ {
		if a.Sweep.Discovered[lid] == port {
			delete(a.Sweep.Discovered, lid)
		}
	}
}

// Assign implements spec.md §4.5's three-path decision procedure:
// honor a persistent match, else preserve the observed block if it's
// safe to do so, else carve a fresh block from the free list.
func (a *Allocator) Assign(ctx context.Context, port *Port) (min, max uint16, changed bool, err error) {
	log := logger.AddContext(logger.Ctx{"component": "allocator", "guid": port.GUID})

	opts := a.Sweep.Opts
	num := port.NumLIDs(opts.LMC)
	mask := blockMask(opts.LMC)

	// Path 1: persistent match.
	if lo, hi, ok := a.Sweep.Guid2Lid.Get(port.GUID); ok {
		min, max = lo, lo+num-1
		changed = lo != port.BaseLID

		if changed {
			a.clearDiscovered(port)
			log.Debug("Port does not match its known persistent lid", logger.Ctx{"base_lid": port.BaseLID, "persistent_lid": lo})
		} else {
			log.Debug("Port matches its known persistent lid", logger.Ctx{"lid": lo})
		}

		a.commit(ctx, port, min, max)
		return min, max, changed, nil
	}

	// Path 2: preserve the observed block, if safe.
	reassigningAll := a.Sweep.FirstTimeMasterSweep && opts.ReassignLIDs
	if port.BaseLID != 0 && !reassigningAll {
		aligned := num == 1 || port.BaseLID&mask == port.BaseLID
		notUnderflow := port.BaseLID >= num

		blockFree := false
		if aligned && notUnderflow {
			blockFree = a.Sweep.Used.RangeFree(Range{Lo: port.BaseLID, Hi: port.BaseLID + num - 1})
		}

		if aligned && notUnderflow && blockFree {
			min, max = port.BaseLID, port.BaseLID+num-1
			log.Debug("Preserving observed lid range", logger.Ctx{"min_lid": min, "max_lid": max})

			a.commit(ctx, port, min, max)
			return min, max, false, nil
		}
	}

	// Path 3: fresh carve.
	a.clearDiscovered(port)

	r, ok := a.Sweep.Free.Carve(num, num)
	if !ok {
		log.Error("OpenSM ran out of LIDs", logger.Ctx{"num_lids": num})
		return 0, 0, false, fatalf("allocating lid block", ErrLidSpaceExhausted)
	}

	log.Debug("Assigned a new lid range", logger.Ctx{"min_lid": r.Lo, "max_lid": r.Hi})

	a.commit(ctx, port, r.Lo, r.Hi)
	return r.Lo, r.Hi, true, nil
}

// commit writes the decision to all three of Guid2Lid, Used, and
// Discovered before returning, per spec.md §7's no-partial-commit
// discipline.
func (a *Allocator) commit(ctx context.Context, port *Port, min, max uint16) {
	a.Sweep.Guid2Lid.Set(port.GUID, min, max)

	if err := a.Backend.Set(ctx, uint64(port.GUID), min, max); err != nil {
		logger.Error("Failed persisting guid2lid entry", logger.Ctx{"guid": port.GUID, "err": err})
	}

	a.Sweep.Used.MarkRange(Range{Lo: min, Hi: max})

	for lid := min; lid <= max; lid++ {
		a.Sweep.Discovered[lid] = port
	}
}
