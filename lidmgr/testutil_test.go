package lidmgr

import (
	"context"
	"errors"
	"sync"
)

// memBackend is an in-memory stand-in for store.Store, used by every
// test in this package so it does not need to depend on the store
// package and its file/sqlite engines (unnecessary: these tests only
// need the narrow Backend contract).
type memBackend struct {
	mu      sync.Mutex
	records map[uint64][2]uint16
}

func newMemBackend(initial map[uint64][2]uint16) *memBackend {
	if initial == nil {
		initial = map[uint64][2]uint16{}
	}

	return &memBackend{records: initial}
}

func (m *memBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = map[uint64][2]uint16{}
	return nil
}

func (m *memBackend) Restore(_ context.Context) (map[uint64][2]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uint64][2]uint16, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}

	return out, nil
}

func (m *memBackend) Delete(_ context.Context, guid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, guid)
	return nil
}

func (m *memBackend) Set(_ context.Context, guid uint64, min, max uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[guid] = [2]uint16{min, max}
	return nil
}

func (m *memBackend) Persist(_ context.Context, records map[uint64][2]uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = records
	return nil
}

// fakeDiscovery returns a fixed port set, standing in for the (out of
// scope) subnet sweep/discovery subsystem.
type fakeDiscovery struct {
	sm    *Port
	ports []*Port
}

func (f *fakeDiscovery) SMPort(_ context.Context) (*Port, error) {
	if f.sm == nil {
		return nil, errors.New("no sm port object")
	}

	return f.sm, nil
}

func (f *fakeDiscovery) Ports(_ context.Context) ([]*Port, error) {
	return f.ports, nil
}

// fakeTransport records every Set call instead of sending a real SMP.
type fakeTransport struct {
	mu    sync.Mutex
	calls []transportCall
}

type transportCall struct {
	guid    GUID
	payload PortInfo
}

func (f *fakeTransport) Set(_ context.Context, port *Port, payload PortInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, transportCall{guid: port.GUID, payload: payload})
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func chanAdapter(guid GUID, baseLID uint16) *Port {
	return &Port{
		GUID:     guid,
		NodeType: NodeTypeChannelAdapter,
		BaseLID:  baseLID,
	}
}
