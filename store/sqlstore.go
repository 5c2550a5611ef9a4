package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists guid->(min,max) records in a sqlite table, following
// the transaction-wrapped style LXD uses for its node/cluster databases
// (lxd/db/query.Transaction in the teacher repo). The actual query
// package source wasn't part of the retrieved pack, so transact below
// plays that role directly against database/sql.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if necessary) a sqlite database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("Failed opening sqlite guid2lid database %q: %w", path, err)
	}

	return &SQLStore{db: db}, nil
}

func transact(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Failed starting transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Failed committing transaction: %w", err)
	}

	return nil
}

// Init creates the guid_lids table if it does not already exist. The
// domain name is not used: every domain maps to the same table.
func (s *SQLStore) Init(ctx context.Context, _ string) error {
	return transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS guid_lids (
				guid    INTEGER PRIMARY KEY,
				min_lid INTEGER NOT NULL,
				max_lid INTEGER NOT NULL
			)
		`)
		if err != nil {
			return fmt.Errorf("Failed creating guid_lids table: %w", err)
		}

		return nil
	})
}

// Restore loads every record in the table.
func (s *SQLStore) Restore(ctx context.Context) (map[uint64][2]uint16, error) {
	records := make(map[uint64][2]uint16)

	err := transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT guid, min_lid, max_lid FROM guid_lids")
		if err != nil {
			return fmt.Errorf("Failed querying guid_lids: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var guid uint64
			var min, max uint16
			if err := rows.Scan(&guid, &min, &max); err != nil {
				return fmt.Errorf("Failed scanning guid_lids row: %w", err)
			}

			records[guid] = [2]uint16{min, max}
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Persist replaces the table's contents with records.
func (s *SQLStore) Persist(ctx context.Context, records map[uint64][2]uint16) error {
	return transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM guid_lids"); err != nil {
			return fmt.Errorf("Failed clearing guid_lids: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, "INSERT INTO guid_lids (guid, min_lid, max_lid) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("Failed preparing guid_lids insert: %w", err)
		}
		defer stmt.Close()

		for guid, mm := range records {
			if _, err := stmt.ExecContext(ctx, guid, mm[0], mm[1]); err != nil {
				return fmt.Errorf("Failed inserting guid_lids row for %016x: %w", guid, err)
			}
		}

		return nil
	})
}

// Clear removes every row from the table.
func (s *SQLStore) Clear(ctx context.Context) error {
	return transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM guid_lids")
		if err != nil {
			return fmt.Errorf("Failed clearing guid_lids: %w", err)
		}

		return nil
	})
}

// Enumerate lists every persisted GUID.
func (s *SQLStore) Enumerate(ctx context.Context) ([]uint64, error) {
	var guids []uint64

	err := transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT guid FROM guid_lids")
		if err != nil {
			return fmt.Errorf("Failed querying guid_lids: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var guid uint64
			if err := rows.Scan(&guid); err != nil {
				return fmt.Errorf("Failed scanning guid_lids row: %w", err)
			}

			guids = append(guids, guid)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return guids, nil
}

// Get returns the persisted block for guid, if any.
func (s *SQLStore) Get(ctx context.Context, guid uint64) (uint16, uint16, bool, error) {
	var min, max uint16
	found := false

	err := transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT min_lid, max_lid FROM guid_lids WHERE guid = ?", guid)
		err := row.Scan(&min, &max)
		if err == sql.ErrNoRows {
			return nil
		} else if err != nil {
			return fmt.Errorf("Failed querying guid_lids for %016x: %w", guid, err)
		}

		found = true
		return nil
	})
	if err != nil {
		return 0, 0, false, err
	}

	return min, max, found, nil
}

// Set upserts a single guid's block.
func (s *SQLStore) Set(ctx context.Context, guid uint64, min, max uint16) error {
	return transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO guid_lids (guid, min_lid, max_lid) VALUES (?, ?, ?)
			ON CONFLICT(guid) DO UPDATE SET min_lid = excluded.min_lid, max_lid = excluded.max_lid
		`, guid, min, max)
		if err != nil {
			return fmt.Errorf("Failed upserting guid_lids row for %016x: %w", guid, err)
		}

		return nil
	})
}

// Delete removes a single guid's persisted record, if present.
func (s *SQLStore) Delete(ctx context.Context, guid uint64) error {
	return transact(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM guid_lids WHERE guid = ?", guid)
		if err != nil {
			return fmt.Errorf("Failed deleting guid_lids row for %016x: %w", guid, err)
		}

		return nil
	})
}

// Close releases the underlying sqlite connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
