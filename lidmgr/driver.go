// Package lidmgr implements the LID Manager: the allocator that
// reconciles the persistent guid->LID store, the fabric's observed port
// attributes, and a controller-local used-LID table into a
// collision-free, alignment-correct LID assignment every sweep.
package lidmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/libopensm/lidmgrd/internal/logger"
)

// Backend is the full persistence contract the driver needs: loading at
// startup, committing per-port during allocation, and a final durable
// save at the end of a sweep. store.Store satisfies this directly.
type Backend interface {
	persistenceLoader
	persistenceSetter
	Persist(ctx context.Context, records map[uint64][2]uint16) error
}

// Driver orchestrates one full sweep: init, self-port first, then every
// other port, persist, signal the caller (spec.md §4.7).
type Driver struct {
	mu sync.RWMutex

	sweep     *Sweep
	discovery Discovery
	transport Transport
	backend   Backend

	lastSweepID string
}

// NewDriver wires a Driver over sweep (already holding a restored
// Guid2Lid), the (out of scope) discovery source, the (out of scope)
// transport, and the persistence backend.
func NewDriver(sweep *Sweep, discovery Discovery, transport Transport, backend Backend) *Driver {
	return &Driver{sweep: sweep, discovery: discovery, transport: transport, backend: backend}
}

// ProcessSM implements process_sm(): runs the sweep initializer, then
// assigns and configures the controller's own SM port first, so its LID
// can be published as master_sm_base_lid for every other port this
// sweep. Returns Done if no set request was emitted.
func (d *Driver) ProcessSM(ctx context.Context) (Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sweepID := uuid.NewString()
	d.lastSweepID = sweepID
	log := logger.AddContext(logger.Ctx{"component": "sweep-driver", "sweep": sweepID})

	ports, err := d.discovery.Ports(ctx)
	if err != nil {
		return Done, fmt.Errorf("Failed listing discovered ports: %w", err)
	}

	if err := InitSweep(ctx, d.sweep, d.backend, ports); err != nil {
		return Done, err
	}

	smPort, err := d.discovery.SMPort(ctx)
	if err != nil {
		log.Error("No SM port object, skipping self-assignment", logger.Ctx{"err": err})
		return Done, nil
	}

	alloc := NewAllocator(d.sweep, d.backend)

	min, _, _, err := alloc.Assign(ctx, smPort)
	if err != nil {
		return Done, err
	}

	d.sweep.SMBaseLID = min
	d.sweep.MasterSMBaseLID = min

	pi, changed, setRemoteInit := BuildPortInfo(smPort, d.sweep.Opts, d.sweep.MasterSMBaseLID, min, d.sweep.FirstTimeMasterSweep)
	if !changed {
		log.Debug("SM port configuration unchanged", logger.Ctx{"lid": min})
		return Done, nil
	}

	if setRemoteInit {
		log.Debug("Port set to Down after MTU/OpVLs change, remote link partner state not tracked", logger.Ctx{"guid": smPort.GUID})
	}

	if err := d.transport.Set(ctx, smPort, pi); err != nil {
		return Done, fmt.Errorf("Failed emitting SM port configuration: %w", err)
	}

	return DonePending, nil
}

// ProcessSubnet implements process_subnet(): iterates every discovered
// port except the SM port (already assigned by ProcessSM), runs the
// allocator and attribute-set builder for each, and persists Guid2Lid at
// the end.
func (d *Driver) ProcessSubnet(ctx context.Context) (Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log := logger.AddContext(logger.Ctx{"component": "sweep-driver", "sweep": d.lastSweepID})

	ports, err := d.discovery.Ports(ctx)
	if err != nil {
		return Done, fmt.Errorf("Failed listing discovered ports: %w", err)
	}

	smPort, _ := d.discovery.SMPort(ctx)

	alloc := NewAllocator(d.sweep, d.backend)

	pending := false

	for _, port := range ports {
		if smPort != nil && port.GUID == smPort.GUID {
			continue
		}

		// Switch ports numbered > 0 are configured by a separate
		// link manager phase; skip them here.
		if port.NodeType == NodeTypeSwitch && port.PortNum != 0 {
			continue
		}

		min, _, _, err := alloc.Assign(ctx, port)
		if err != nil {
			return Done, err
		}

		pi, changed, setRemoteInit := BuildPortInfo(port, d.sweep.Opts, d.sweep.MasterSMBaseLID, min, d.sweep.FirstTimeMasterSweep)
		if !changed {
			continue
		}

		if setRemoteInit {
			log.Debug("Port set to Down after MTU/OpVLs change, remote link partner state not tracked", logger.Ctx{"guid": port.GUID})
		}

		if err := d.transport.Set(ctx, port, pi); err != nil {
			log.Error("Failed emitting port configuration", logger.Ctx{"guid": port.GUID, "err": err})
			continue
		}

		pending = true
	}

	records := make(map[uint64][2]uint16, d.sweep.Guid2Lid.Len())
	for _, guid := range d.sweep.Guid2Lid.Guids() {
		min, max, ok := d.sweep.Guid2Lid.Get(guid)
		if ok {
			records[uint64(guid)] = [2]uint16{min, max}
		}
	}

	if err := d.backend.Persist(ctx, records); err != nil {
		log.Error("Failed persisting guid2lid store", logger.Ctx{"err": err})
	}

	d.sweep.FirstTimeMasterSweep = false
	d.sweep.ComingOutOfStandby = false

	if pending {
		return DonePending, nil
	}

	return Done, nil
}

// DiagSnapshot is a read-only view of the allocator's current state for
// the diagnostics endpoint. Readers take the shared (read) lock, per
// spec.md §5.
type DiagSnapshot struct {
	SweepID         string
	SMBaseLID       uint16
	MasterSMBaseLID uint16
	FreeRanges      []Range
	PersistedCount  int
}

// DumpState returns a snapshot of the allocator's current state, taking
// only a read lock: it waits for a sweep in progress to finish, and
// holds up the next sweep only for the duration of the copy itself.
func (d *Driver) DumpState() DiagSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DiagSnapshot{
		SweepID:         d.lastSweepID,
		SMBaseLID:       d.sweep.SMBaseLID,
		MasterSMBaseLID: d.sweep.MasterSMBaseLID,
		FreeRanges:      d.sweep.Free.Ranges(),
		PersistedCount:  d.sweep.Guid2Lid.Len(),
	}
}
