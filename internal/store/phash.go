package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mediavault/simfiles/api"
)

// PHashStore interns raw 64-bit perceptual hashes to stable PHashIDs
// (component A). It never calls into the VP-tree; the caller (the inserter
// in internal/vptree) is responsible for adding a leaf for a freshly
// interned hash.
type PHashStore struct {
	conn *sql.DB
}

// Lookup returns the id already assigned to phash, if any.
func (s *PHashStore) Lookup(phash api.PHash) (api.PHashID, bool, error) {
	var id int64
	err := s.conn.QueryRow(
		`SELECT phash_id FROM shape_perceptual_hashes WHERE phash = ?`,
		encodePHash(phash),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup phash: %w", err)
	}
	return api.PHashID(id), true, nil
}

// Intern returns the existing id for phash, or inserts a fresh row and
// returns the new id with created=true.
func (s *PHashStore) Intern(phash api.PHash) (id api.PHashID, created bool, err error) {
	if id, ok, err := s.Lookup(phash); err != nil {
		return 0, false, err
	} else if ok {
		return id, false, nil
	}

	res, err := s.conn.Exec(
		`INSERT INTO shape_perceptual_hashes (phash) VALUES (?)`,
		encodePHash(phash),
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert phash: %w", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert phash: %w", err)
	}
	return api.PHashID(lastID), true, nil
}

// Get returns the raw phash bits for id.
func (s *PHashStore) Get(id api.PHashID) (api.PHash, error) {
	var raw []byte
	err := s.conn.QueryRow(`SELECT phash FROM shape_perceptual_hashes WHERE phash_id = ?`, int64(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("get phash %d: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get phash %d: %w", id, err)
	}
	return decodePHash(raw), nil
}

// Forget deletes the interned row for id. Callers must only do this once
// the id has no remaining associations (see AssocStore.UsefulPHashIDs).
func (s *PHashStore) Forget(id api.PHashID) error {
	if _, err := s.conn.Exec(`DELETE FROM shape_perceptual_hashes WHERE phash_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("forget phash %d: %w", id, err)
	}
	return nil
}

// ForgetMany deletes a batch of orphaned interned hashes in one transaction.
func (s *PHashStore) ForgetMany(ids []api.PHashID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("forget phashes: %w", err)
	}
	stmt, err := tx.Prepare(`DELETE FROM shape_perceptual_hashes WHERE phash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("forget phashes: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("forget phash %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// All returns every interned phash as a tree-shaped node with no tree
// fields populated, the input format RegenerateTree needs to rebuild the
// whole structure from scratch.
func (s *PHashStore) All() ([]NodeWithPHash, error) {
	rows, err := s.conn.Query(`SELECT phash_id, phash FROM shape_perceptual_hashes`)
	if err != nil {
		return nil, fmt.Errorf("list all phashes: %w", err)
	}
	defer rows.Close()

	var out []NodeWithPHash
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("list all phashes: %w", err)
		}
		out = append(out, NodeWithPHash{TreeNode: TreeNode{PHashID: api.PHashID(id)}, PHash: decodePHash(raw)})
	}
	return out, rows.Err()
}

func encodePHash(p api.PHash) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(p >> (8 * (7 - i)))
	}
	return b
}

func decodePHash(b []byte) api.PHash {
	var p api.PHash
	for i := 0; i < 8 && i < len(b); i++ {
		p = p<<8 | api.PHash(b[i])
	}
	return p
}
