// Package store implements the persistence adaptor (spec.md §4.1, §6):
// a thin typed view over a guid->(min,max) backend, with two concrete
// backends (a flat file and a sqlite table) behind the same interface.
package store

import "context"

// Store is the persistence backend contract the allocator invokes.
// Durability of Persist is the backend's responsibility; the in-memory
// view (lidmgr.GuidLidMap) is what the allocator actually reads on every
// sweep; Store is loaded at startup, written per port (Set) as the
// allocator commits, pruned (Delete, Clear) during sweep
// initialization, and saved in full (Persist) at the end of a sweep.
type Store interface {
	// Init opens (and if necessary creates) the named persistence
	// domain, mirroring osm_db_domain_init("/guid2lid").
	Init(ctx context.Context, domain string) error

	// Restore loads all persisted records into memory.
	Restore(ctx context.Context) (map[uint64][2]uint16, error)

	// Persist durably writes the given records, replacing whatever was
	// previously stored.
	Persist(ctx context.Context, records map[uint64][2]uint16) error

	// Clear discards all persisted records.
	Clear(ctx context.Context) error

	// Enumerate lists every GUID with a persisted record.
	Enumerate(ctx context.Context) ([]uint64, error)

	// Get returns the persisted block for guid, if any.
	Get(ctx context.Context, guid uint64) (min, max uint16, ok bool, err error)

	// Set persists a single guid's block immediately.
	Set(ctx context.Context, guid uint64, min, max uint16) error

	// Delete removes a single guid's persisted record.
	Delete(ctx context.Context, guid uint64) error

	// Close releases any resources held by the backend.
	Close() error
}
