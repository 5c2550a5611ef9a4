package lidmgr

import (
	"context"
	"testing"
)

func testOpts(lmc uint8, maxUnicastLID uint16) Options {
	return Options{
		LMC:           lmc,
		MaxUnicastLID: maxUnicastLID,
	}
}

// S1: cold start, LMC=2, three freshly discovered channel adapter ports
// with no persistence and no observed LIDs. Every port must carve a
// fresh, 4-LID-aligned block.
func TestInitSweepColdStartCarvesAlignedBlocks(t *testing.T) {
	sweep := NewSweep(testOpts(2, 100))
	sweep.FirstTimeMasterSweep = true
	backend := newMemBackend(nil)

	ports := []*Port{
		chanAdapter(1, 0),
		chanAdapter(2, 0),
		chanAdapter(3, 0),
	}

	if err := InitSweep(context.Background(), sweep, backend, ports); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	alloc := NewAllocator(sweep, backend)

	seen := map[Range]bool{}
	for _, p := range ports {
		min, max, changed, err := alloc.Assign(context.Background(), p)
		if err != nil {
			t.Fatalf("Assign failed for guid %d: %v", p.GUID, err)
		}

		if !changed {
			t.Fatalf("expected a freshly carved block to report changed=true")
		}

		if min%4 != 0 {
			t.Fatalf("expected 4-aligned base lid, got %d", min)
		}

		if max-min+1 != 4 {
			t.Fatalf("expected a 4-lid block, got [%d,%d]", min, max)
		}

		r := Range{Lo: min, Hi: max}
		if seen[r] {
			t.Fatalf("block %+v assigned twice", r)
		}

		seen[r] = true
	}
}

// S2: warm restart. Guid2Lid already holds valid persistent entries
// before InitSweep runs; they must survive validation and come back out
// of Allocator.Assign unchanged.
func TestInitSweepWarmRestartHonorsPersistence(t *testing.T) {
	sweep := NewSweep(testOpts(0, 100))
	sweep.Guid2Lid.Set(GUID(1), 4, 4)
	sweep.Guid2Lid.Set(GUID(2), 5, 5)

	backend := newMemBackend(map[uint64][2]uint16{
		1: {4, 4},
		2: {5, 5},
	})

	ports := []*Port{
		chanAdapter(1, 4),
		chanAdapter(2, 5),
	}

	if err := InitSweep(context.Background(), sweep, backend, ports); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	alloc := NewAllocator(sweep, backend)

	min, max, changed, err := alloc.Assign(context.Background(), ports[0])
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if changed {
		t.Fatalf("expected persisted lid to be reported unchanged")
	}

	if min != 4 || max != 4 {
		t.Fatalf("expected [4,4], got [%d,%d]", min, max)
	}
}

// S3: an LMC upgrade (0 -> 2) invalidates a persistent entry that is no
// longer aligned under the new mask; InitSweep must drop it from both
// Guid2Lid and the backend rather than honor it.
func TestInitSweepLMCUpgradeInvalidatesMisalignedEntry(t *testing.T) {
	sweep := NewSweep(testOpts(2, 100))
	// LID 5 was a legal single-LID assignment under LMC 0, but under
	// LMC 2 every port needs a 4-lid, 4-aligned block; the port must
	// still be discovered this sweep for the stale-entry prune (step 4)
	// to catch the mismatch.
	sweep.Guid2Lid.Set(GUID(1), 5, 5)

	backend := newMemBackend(map[uint64][2]uint16{1: {5, 5}})

	port := chanAdapter(1, 5)

	if err := InitSweep(context.Background(), sweep, backend, []*Port{port}); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	if _, _, ok := sweep.Guid2Lid.Get(GUID(1)); ok {
		t.Fatalf("expected misaligned persistent entry to be dropped")
	}

	records, err := backend.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if _, ok := records[1]; ok {
		t.Fatalf("expected backend entry to be deleted alongside the in-memory one")
	}
}

// S4: a port is discovered sitting on a LID range that a persistent
// entry for a *different* GUID already claims. The persisted owner's
// range wins (it marks Used during validation); the colliding port must
// not be allowed to preserve its observed LID and instead gets a fresh
// carve elsewhere.
func TestInitSweepDiscoveredPortCollidesWithPersistentEntry(t *testing.T) {
	sweep := NewSweep(testOpts(0, 100))
	sweep.Guid2Lid.Set(GUID(1), 4, 4)
	backend := newMemBackend(map[uint64][2]uint16{1: {4, 4}})

	colliding := chanAdapter(2, 4)

	if err := InitSweep(context.Background(), sweep, backend, []*Port{colliding}); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	if !sweep.Used.IsMarked(4) {
		t.Fatalf("expected lid 4 to be marked used by the persistent owner")
	}

	alloc := NewAllocator(sweep, backend)

	min, _, changed, err := alloc.Assign(context.Background(), colliding)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if min == 4 {
		t.Fatalf("colliding port must not be allowed to keep lid 4")
	}

	if !changed {
		t.Fatalf("expected the colliding port's reassignment to be reported as changed")
	}
}

// S5: LID space exhaustion. A tiny max_unicast_lid leaves no room for a
// fresh carve once the free list is used up; Assign must report a fatal
// error rather than silently succeeding.
func TestAllocatorAssignReportsExhaustion(t *testing.T) {
	sweep := NewSweep(testOpts(0, 2))
	backend := newMemBackend(nil)

	ports := []*Port{chanAdapter(1, 0), chanAdapter(2, 0)}

	if err := InitSweep(context.Background(), sweep, backend, ports); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	alloc := NewAllocator(sweep, backend)

	if _, _, _, err := alloc.Assign(context.Background(), ports[0]); err != nil {
		t.Fatalf("first assign should have succeeded: %v", err)
	}

	_, _, _, err := alloc.Assign(context.Background(), ports[1])
	if err == nil {
		t.Fatalf("expected the second assign to exhaust the lid space")
	}

	if !IsFatal(err) {
		t.Fatalf("expected exhaustion to be reported as a FatalError, got %v", err)
	}
}

// S6: a non-LMC-capable switch port 0 occupies a single, unaligned LID.
// Under a subnet-wide LMC > 0 it must still be allowed to keep that
// exact LID rather than being forced onto an aligned block.
func TestAllocatorPreservesUnalignedSwitchPort0(t *testing.T) {
	sweep := NewSweep(testOpts(2, 100))
	backend := newMemBackend(nil)

	sp0 := &Port{
		GUID:          10,
		NodeType:      NodeTypeSwitch,
		PortNum:       0,
		BaseLID:       17,
		SP0LMCCapable: false,
	}

	if err := InitSweep(context.Background(), sweep, backend, []*Port{sp0}); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	alloc := NewAllocator(sweep, backend)

	min, max, changed, err := alloc.Assign(context.Background(), sp0)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if changed {
		t.Fatalf("expected the unaligned single lid to be preserved unchanged")
	}

	if min != 17 || max != 17 {
		t.Fatalf("expected [17,17], got [%d,%d]", min, max)
	}
}

func TestInitSweepFirstSweepReassignSkipsValidation(t *testing.T) {
	sweep := NewSweep(testOpts(0, 50))
	sweep.FirstTimeMasterSweep = true
	sweep.Opts.ReassignLIDs = true
	sweep.Guid2Lid.Set(GUID(1), 4, 4)

	backend := newMemBackend(map[uint64][2]uint16{1: {4, 4}})

	if err := InitSweep(context.Background(), sweep, backend, nil); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	ranges := sweep.Free.Ranges()
	if len(ranges) != 1 || ranges[0] != (Range{Lo: 1, Hi: 49}) {
		t.Fatalf("expected a single [1,49] free range, got %+v", ranges)
	}
}

func TestInitSweepComingOutOfStandbyDiscardsStoreWhenNotHonored(t *testing.T) {
	sweep := NewSweep(testOpts(0, 50))
	sweep.ComingOutOfStandby = true
	sweep.Opts.HonorGUID2LIDFile = false
	sweep.Guid2Lid.Set(GUID(1), 4, 4)

	backend := newMemBackend(map[uint64][2]uint16{1: {4, 4}})

	if err := InitSweep(context.Background(), sweep, backend, nil); err != nil {
		t.Fatalf("InitSweep failed: %v", err)
	}

	if sweep.Guid2Lid.Len() != 0 {
		t.Fatalf("expected guid2lid map cleared when not honoring the file coming out of standby")
	}
}
