package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mediavault/simfiles/api"
)

// AssocStore persists the phash-to-file association map and the per-file
// search cache (component B). The algorithms that decide which phashes
// become orphaned or need re-searching live in internal/vptree; this layer
// only stores and queries rows.
type AssocStore struct {
	conn  *sql.DB
	phash *PHashStore
	tree  *TreeStore
}

// Link inserts (phash_id, hash_id) pairs, ignoring ones that already exist,
// and reports whether any row was actually new.
func (s *AssocStore) Link(fileID api.FileID, phashIDs []api.PHashID) (anyNew bool, err error) {
	if len(phashIDs) == 0 {
		return false, nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("link phashes to file %d: %w", fileID, err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO shape_perceptual_hash_map (phash_id, hash_id) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("link phashes to file %d: %w", fileID, err)
	}
	defer stmt.Close()
	for _, pid := range phashIDs {
		res, err := stmt.Exec(int64(pid), int64(fileID))
		if err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("link phash %d to file %d: %w", pid, fileID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			anyNew = true
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("link phashes to file %d: %w", fileID, err)
	}
	return anyNew, nil
}

// Unlink deletes (phash_id, hash_id) pairs.
func (s *AssocStore) Unlink(fileID api.FileID, phashIDs []api.PHashID) error {
	if len(phashIDs) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("unlink phashes from file %d: %w", fileID, err)
	}
	stmt, err := tx.Prepare(`DELETE FROM shape_perceptual_hash_map WHERE phash_id = ? AND hash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("unlink phashes from file %d: %w", fileID, err)
	}
	defer stmt.Close()
	for _, pid := range phashIDs {
		if _, err := stmt.Exec(int64(pid), int64(fileID)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("unlink phash %d from file %d: %w", pid, fileID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unlink phashes from file %d: %w", fileID, err)
	}
	return nil
}

// PHashIDsForFile returns every phash_id currently associated with fileID.
func (s *AssocStore) PHashIDsForFile(fileID api.FileID) ([]api.PHashID, error) {
	rows, err := s.conn.Query(`SELECT phash_id FROM shape_perceptual_hash_map WHERE hash_id = ?`, int64(fileID))
	if err != nil {
		return nil, fmt.Errorf("phash ids for file %d: %w", fileID, err)
	}
	defer rows.Close()
	var out []api.PHashID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("phash ids for file %d: %w", fileID, err)
		}
		out = append(out, api.PHashID(id))
	}
	return out, rows.Err()
}

// FileIDsForPHash returns every file currently associated with a phash_id,
// the distance-0 fast path of a similarity search.
func (s *AssocStore) FileIDsForPHash(phashID api.PHashID) ([]api.FileID, error) {
	rows, err := s.conn.Query(`SELECT hash_id FROM shape_perceptual_hash_map WHERE phash_id = ?`, int64(phashID))
	if err != nil {
		return nil, fmt.Errorf("file ids for phash %d: %w", phashID, err)
	}
	defer rows.Close()
	var out []api.FileID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("file ids for phash %d: %w", phashID, err)
		}
		out = append(out, api.FileID(id))
	}
	return out, rows.Err()
}

// FileIDsForPHashes bulk-resolves phash_ids to the files referencing them,
// used to turn a search's matched phash_ids into matched files.
func (s *AssocStore) FileIDsForPHashes(phashIDs []api.PHashID) (map[api.PHashID][]api.FileID, error) {
	out := make(map[api.PHashID][]api.FileID, len(phashIDs))
	if len(phashIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(phashIDs))
	args := make([]any, len(phashIDs))
	for i, id := range phashIDs {
		placeholders[i] = "?"
		args[i] = int64(id)
	}

	rows, err := s.conn.Query(
		fmt.Sprintf(`SELECT phash_id, hash_id FROM shape_perceptual_hash_map WHERE phash_id IN (%s)`, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("file ids for phashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid, hid int64
		if err := rows.Scan(&pid, &hid); err != nil {
			return nil, fmt.Errorf("file ids for phashes: %w", err)
		}
		key := api.PHashID(pid)
		out[key] = append(out[key], api.FileID(hid))
	}
	return out, rows.Err()
}

// UsefulPHashIDs reports which of phashIDs still have at least one
// association row, the test used to decide which interned hashes are
// orphans once a branch's old leaves are discarded.
func (s *AssocStore) UsefulPHashIDs(phashIDs []api.PHashID) (map[api.PHashID]bool, error) {
	out := make(map[api.PHashID]bool, len(phashIDs))
	if len(phashIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(phashIDs))
	args := make([]any, len(phashIDs))
	for i, id := range phashIDs {
		placeholders[i] = "?"
		args[i] = int64(id)
	}

	rows, err := s.conn.Query(
		fmt.Sprintf(`SELECT DISTINCT phash_id FROM shape_perceptual_hash_map WHERE phash_id IN (%s)`, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("useful phash ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("useful phash ids: %w", err)
		}
		out[api.PHashID(id)] = true
	}
	return out, rows.Err()
}

// MarkUnsearched resets the search cache entry for fileID to NULL,
// signalling that it needs a fresh similarity search at some distance.
func (s *AssocStore) MarkUnsearched(fileID api.FileID) error {
	if _, err := s.conn.Exec(
		`REPLACE INTO shape_search_cache (hash_id, searched_distance) VALUES (?, NULL)`,
		int64(fileID),
	); err != nil {
		return fmt.Errorf("mark unsearched %d: %w", fileID, err)
	}
	return nil
}

// ResetSearch clears the searched_distance of every file in fileIDs back
// to NULL.
func (s *AssocStore) ResetSearch(fileIDs []api.FileID) error {
	if len(fileIDs) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("reset search cache: %w", err)
	}
	stmt, err := tx.Prepare(`UPDATE shape_search_cache SET searched_distance = NULL WHERE hash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("reset search cache: %w", err)
	}
	defer stmt.Close()
	for _, id := range fileIDs {
		if _, err := stmt.Exec(int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset search cache for %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteSearchCache removes fileID's search cache row entirely (used when a
// file stops being searched for altogether).
func (s *AssocStore) DeleteSearchCache(fileID api.FileID) error {
	if _, err := s.conn.Exec(`DELETE FROM shape_search_cache WHERE hash_id = ?`, int64(fileID)); err != nil {
		return fmt.Errorf("delete search cache for %d: %w", fileID, err)
	}
	return nil
}

// FileIsInSystem reports whether fileID has a search cache row, i.e.
// whether it currently participates in the similarity index.
func (s *AssocStore) FileIsInSystem(fileID api.FileID) (bool, error) {
	var one int
	err := s.conn.QueryRow(`SELECT 1 FROM shape_search_cache WHERE hash_id = ?`, int64(fileID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("file is in system %d: %w", fileID, err)
	}
	return true, nil
}

// MaintenanceStatusHistogram groups the search cache by searched_distance.
// NULL (never searched) is reported under the key -1.
func (s *AssocStore) MaintenanceStatusHistogram() (map[int]int, error) {
	rows, err := s.conn.Query(`SELECT searched_distance, COUNT(*) FROM shape_search_cache GROUP BY searched_distance`)
	if err != nil {
		return nil, fmt.Errorf("maintenance status: %w", err)
	}
	defer rows.Close()
	out := map[int]int{}
	for rows.Next() {
		var distance sql.NullInt64
		var count int
		if err := rows.Scan(&distance, &count); err != nil {
			return nil, fmt.Errorf("maintenance status: %w", err)
		}
		key := -1
		if distance.Valid {
			key = int(distance.Int64)
		}
		out[key] = count
	}
	return out, rows.Err()
}

// CountUnderSearched counts files whose searched_distance is NULL or below
// targetDistance, capped at limit — the MaintenanceDue gate.
func (s *AssocStore) CountUnderSearched(targetDistance, limit int) (int, error) {
	var count int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM (
			SELECT 1 FROM shape_search_cache
			WHERE searched_distance IS NULL OR searched_distance < ?
			LIMIT ?
		)`, targetDistance, limit,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count under-searched: %w", err)
	}
	return count, nil
}
