package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// FileStore persists guid->(min,max) records in the flat layout named by
// spec.md §6: one record per line, "guid:16-hex min_lid:4-hex
// max_lid:4-hex". Writes are atomic (temp file + rename) so a crash
// mid-Persist cannot leave a truncated file on disk.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore rooted at dir; Init appends the
// domain name to form the final file path, mirroring
// osm_db_domain_init(p_db, "/guid2lid").
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: dir}
}

// Init resolves the on-disk path for the given persistence domain.
func (s *FileStore) Init(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = filepath.Join(s.path, strings.TrimPrefix(domain, "/")+".db")
	return nil
}

// Restore reads every record currently on disk. A missing file is not an
// error; it is treated as an empty store.
func (s *FileStore) Restore(_ context.Context) (map[uint64][2]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[uint64][2]uint16)

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return records, nil
	} else if err != nil {
		return nil, fmt.Errorf("Failed opening guid2lid file %q: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		guid, min, max, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("Failed parsing guid2lid record at line %d: %w", lineNum, err)
		}

		records[guid] = [2]uint16{min, max}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Failed reading guid2lid file %q: %w", s.path, err)
	}

	return records, nil
}

func parseRecord(line string) (guid uint64, min, max uint16, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	guid, err = strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid guid %q: %w", fields[0], err)
	}

	minVal, err := strconv.ParseUint(fields[1], 16, 16)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid min_lid %q: %w", fields[1], err)
	}

	maxVal, err := strconv.ParseUint(fields[2], 16, 16)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid max_lid %q: %w", fields[2], err)
	}

	return guid, uint16(minVal), uint16(maxVal), nil
}

func formatRecord(guid uint64, min, max uint16) string {
	return fmt.Sprintf("%016x %04x %04x\n", guid, min, max)
}

// Persist rewrites the entire file from records, atomically.
func (s *FileStore) Persist(_ context.Context, records map[uint64][2]uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	for guid, mm := range records {
		sb.WriteString(formatRecord(guid, mm[0], mm[1]))
	}

	if err := renameio.WriteFile(s.path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("Failed writing guid2lid file %q: %w", s.path, err)
	}

	return nil
}

// Clear removes the persisted file entirely.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Failed clearing guid2lid file %q: %w", s.path, err)
	}

	return nil
}

// Enumerate lists every GUID currently persisted.
func (s *FileStore) Enumerate(ctx context.Context) ([]uint64, error) {
	records, err := s.Restore(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, 0, len(records))
	for g := range records {
		out = append(out, g)
	}

	return out, nil
}

// Get returns the persisted block for guid, if any.
func (s *FileStore) Get(ctx context.Context, guid uint64) (uint16, uint16, bool, error) {
	records, err := s.Restore(ctx)
	if err != nil {
		return 0, 0, false, err
	}

	mm, ok := records[guid]
	return mm[0], mm[1], ok, nil
}

// Set persists a single guid's block, rewriting the whole file (the
// reference implementation treats this store as small enough that a
// full read-modify-write per call is acceptable; a few thousand ports is
// the expected upper bound for a single subnet).
func (s *FileStore) Set(ctx context.Context, guid uint64, min, max uint16) error {
	records, err := s.Restore(ctx)
	if err != nil {
		return err
	}

	records[guid] = [2]uint16{min, max}
	return s.Persist(ctx, records)
}

// Delete removes a single guid's persisted record, if present.
func (s *FileStore) Delete(ctx context.Context, guid uint64) error {
	records, err := s.Restore(ctx)
	if err != nil {
		return err
	}

	delete(records, guid)
	return s.Persist(ctx, records)
}

// Close is a no-op for FileStore; there is no open handle to release.
func (s *FileStore) Close() error {
	return nil
}
