package lidmgr

import (
	"context"

	"github.com/libopensm/lidmgrd/internal/logger"
)

// Sweep bundles the per-sweep state rebuilt by InitSweep: the used-LID
// table, the free-range list, and the discovery observation map.
// Guid2Lid is the only piece that survives across sweeps (and restarts).
type Sweep struct {
	Guid2Lid *GuidLidMap
	Used     *UsedSet
	Free     *FreeRanges

	// Discovered maps LID -> the port discovery observed there. Reset
	// every sweep.
	Discovered map[uint16]*Port

	Opts Options

	// ComingOutOfStandby is true exactly once, on the sweep where this
	// controller transitions from standby to active.
	ComingOutOfStandby bool

	// FirstTimeMasterSweep is true for the very first sweep run since
	// becoming the master SM.
	FirstTimeMasterSweep bool

	// SMBaseLID and MasterSMBaseLID are the subnet-object fields the
	// allocator writes (spec.md §5); the sweep driver publishes
	// SMBaseLID after assigning the controller's own port, so that
	// every other port's MasterSMBaseLID attribute can reference it.
	SMBaseLID       uint16
	MasterSMBaseLID uint16
}

// NewSweep returns a Sweep with empty per-sweep state and a fresh,
// empty persistent map. Callers restore persistence into Guid2Lid before
// the first InitSweep call.
func NewSweep(opts Options) *Sweep {
	return &Sweep{
		Guid2Lid:   NewGuidLidMap(),
		Used:       NewUsedSet(),
		Free:       NewFreeRanges(),
		Discovered: make(map[uint16]*Port),
		Opts:       opts,
	}
}

// trimLID clips a LID to the valid unicast range, returning 0 (never a
// valid assignment) for anything outside it.
func trimLID(lid uint16) uint16 {
	if lid < UcastStart || lid > UcastEnd {
		return 0
	}

	return lid
}

// persistenceLoader is the subset of store.Store InitSweep needs; kept
// as a narrow interface here so lidmgr does not need to import the
// store package's concrete types.
type persistenceLoader interface {
	Clear(ctx context.Context) error
	Restore(ctx context.Context) (map[uint64][2]uint16, error)
	Delete(ctx context.Context, guid uint64) error
}

// InitSweep implements spec.md §4.4: it rebuilds Used, Discovered, and
// Free from Guid2Lid plus the freshly discovered port set, pruning any
// persistent record that is no longer valid under the current LMC.
func InitSweep(ctx context.Context, s *Sweep, backend persistenceLoader, ports []*Port) error {
	log := logger.AddContext(logger.Ctx{"component": "sweep-init"})

	// Step 1: standby transition.
	if s.ComingOutOfStandby {
		if !s.Opts.HonorGUID2LIDFile {
			log.Debug("Ignoring guid2lid file when coming out of standby")

			if err := backend.Clear(ctx); err != nil {
				log.Error("Failed clearing persistent guid2lid store", logger.Ctx{"err": err})
			}

			s.Guid2Lid.ReplaceAll(map[GUID]block{})
			s.Used = NewUsedSet()
		} else {
			log.Debug("Honoring current guid2lid file when coming out of standby")

			records, err := backend.Restore(ctx)
			if err != nil {
				if s.Opts.ExitOnFatal {
					return fatalf("restoring guid2lid store", ErrPersistenceLoadFailed)
				}

				log.Error("Error restoring guid2lid persistent database, ignoring it", logger.Ctx{"err": err})
				records = nil
			}

			entries := make(map[GUID]block, len(records))
			for guid, mm := range records {
				entries[GUID(guid)] = block{Min: mm[0], Max: mm[1]}
			}

			s.Guid2Lid.ReplaceAll(entries)
		}
	}

	s.Used = NewUsedSet()
	s.Free = NewFreeRanges()
	s.Discovered = make(map[uint16]*Port)

	// Special case: first sweep, reassign-all mode. Skip validation and
	// pruning entirely and hand back one huge free range.
	if s.FirstTimeMasterSweep && s.Opts.ReassignLIDs {
		log.Debug("Skipping all lids as we are reassigning them")
		s.Free.Append(Range{Lo: 1, Hi: s.Opts.MaxUnicastLID - 1})
		return nil
	}

	// Step 2: validate C1 under current LMC.
	mask := blockMask(s.Opts.LMC)
	for _, guid := range s.Guid2Lid.Guids() {
		min, max, ok := s.Guid2Lid.Get(guid)
		if !ok {
			continue
		}

		invalid := guid == 0 || min == 0 || min > max || max > s.Opts.MaxUnicastLID
		if !invalid && min != max && min&mask != min {
			invalid = true
		}

		if !invalid {
			for lid := min; ; lid++ {
				if s.Used.IsMarked(lid) {
					invalid = true
					break
				}

				if lid == max {
					break
				}
			}
		}

		if invalid {
			log.Error("Illegal persistent guid2lid entry, dropping", logger.Ctx{"guid": guid, "min_lid": min, "max_lid": max})

			s.Guid2Lid.Delete(guid)
			if err := backend.Delete(ctx, uint64(guid)); err != nil {
				log.Error("Failed deleting invalid persistent guid2lid entry", logger.Ctx{"guid": guid, "err": err})
			}

			continue
		}

		s.Used.MarkRange(Range{Lo: min, Hi: max})
	}

	// Step 3: reset DiscoveredByLid from the fresh discovery set.
	for _, p := range ports {
		min := trimLID(p.BaseLID)
		if min == 0 {
			continue
		}

		num := p.NumLIDs(s.Opts.LMC)
		max := trimLID(min + num - 1)
		if max == 0 {
			continue
		}

		for lid := min; lid <= max; lid++ {
			s.Discovered[lid] = p
		}
	}

	// Step 4: prune stale persistent entries against the current block
	// size.
	for _, p := range ports {
		min, max, ok := s.Guid2Lid.Get(p.GUID)
		if !ok {
			continue
		}

		num := p.NumLIDs(s.Opts.LMC)
		if num <= 1 {
			continue
		}

		if min&mask != min || max-min+1 < num {
			log.Debug("Cleaning persistent entry with illegal range", logger.Ctx{"guid": p.GUID, "min_lid": min, "max_lid": max})

			s.Guid2Lid.Delete(p.GUID)
			if err := backend.Delete(ctx, uint64(p.GUID)); err != nil {
				log.Error("Failed deleting stale persistent guid2lid entry", logger.Ctx{"guid": p.GUID, "err": err})
			}

			s.Used.UnmarkRange(Range{Lo: min, Hi: max})
		}
	}

	// Step 5: rebuild FreeRanges.
	rebuildFreeRanges(s)

	return nil
}

func rebuildFreeRanges(s *Sweep) {
	maxDiscovered := uint16(0)
	for lid := range s.Discovered {
		if lid > maxDiscovered {
			maxDiscovered = lid
		}
	}

	maxDefined := s.Used.MaxMarked()
	if maxDiscovered > maxDefined {
		maxDefined = maxDiscovered
	}

	mask := blockMask(s.Opts.LMC)
	lmcNumLIDs := blockSize(s.Opts.LMC)

	var rangeOpen bool
	var rangeMin, rangeMax uint16

	flush := func() {
		if rangeOpen {
			s.Free.Append(Range{Lo: rangeMin, Hi: rangeMax})
			rangeOpen = false
		}
	}

	extend := func(lid uint16) {
		if rangeOpen {
			rangeMax = lid
		} else {
			rangeOpen = true
			rangeMin, rangeMax = lid, lid
		}
	}

	for lid := uint16(1); lid <= maxDefined; lid++ {
		if s.Used.IsMarked(lid) {
			flush()
			continue
		}

		port, discovered := s.Discovered[lid]
		if !discovered {
			extend(lid)
			continue
		}

		// A discovered port can only keep its local block if it has
		// no persistent entry of its own.
		if _, _, ok := s.Guid2Lid.Get(port.GUID); ok {
			extend(lid)
			continue
		}

		discMin := trimLID(port.BaseLID)
		num := port.NumLIDs(s.Opts.LMC)
		discMax := discMin + lmcNumLIDs - 1
		if num == 1 {
			discMax = discMin
		}

		if num != 1 && discMin&mask != discMin {
			// Not aligned: cannot be preserved, LID stays free.
			extend(lid)
			continue
		}

		preserved := true
		for reqLid := discMin + 1; reqLid <= discMax; reqLid++ {
			if s.Used.IsMarked(reqLid) {
				preserved = false
				break
			}
		}

		if preserved {
			flush()
			if discMax > lid {
				lid = discMax
			}

			continue
		}

		extend(lid)
	}

	flush()

	top := uint16(0)
	if s.Opts.MaxUnicastLID > 0 {
		top = s.Opts.MaxUnicastLID - 1
	}

	if rangeOpen {
		rangeMax = top
		s.Free.Append(Range{Lo: rangeMin, Hi: rangeMax})
		return
	}

	if maxDefined == 0 {
		s.Free.Append(Range{Lo: 1, Hi: top})
		return
	}

	s.Free.Append(Range{Lo: maxDefined + 1, Hi: top})
}
