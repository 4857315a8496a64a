package store

import (
	"database/sql"
	"fmt"

	"github.com/mediavault/simfiles/api"
)

// QueueStore persists the set-valued maintenance queue (component F):
// branch roots flagged as needing rebalancing. Membership, not order — a
// phash_id enqueued twice is still processed once.
type QueueStore struct {
	conn *sql.DB
}

// Enqueue flags id as needing branch regeneration, a no-op if it's already
// queued.
func (s *QueueStore) Enqueue(id api.PHashID) error {
	if _, err := s.conn.Exec(`INSERT OR IGNORE INTO shape_maintenance_branch_regen (phash_id) VALUES (?)`, int64(id)); err != nil {
		return fmt.Errorf("enqueue %d: %w", id, err)
	}
	return nil
}

// EnqueueMany flags every id in ids in one transaction.
func (s *QueueStore) EnqueueMany(ids []api.PHashID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO shape_maintenance_branch_regen (phash_id) VALUES (?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("enqueue batch: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("enqueue %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// DequeueMany removes a batch of ids from the queue, done once their
// branches have been regenerated.
func (s *QueueStore) DequeueMany(ids []api.PHashID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("dequeue batch: %w", err)
	}
	stmt, err := tx.Prepare(`DELETE FROM shape_maintenance_branch_regen WHERE phash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("dequeue batch: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("dequeue %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// List returns every phash_id currently queued for regeneration.
func (s *QueueStore) List() ([]api.PHashID, error) {
	rows, err := s.conn.Query(`SELECT phash_id FROM shape_maintenance_branch_regen`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()
	var out []api.PHashID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list queue: %w", err)
		}
		out = append(out, api.PHashID(id))
	}
	return out, rows.Err()
}

// Len reports how many branch roots are currently queued.
func (s *QueueStore) Len() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM shape_maintenance_branch_regen`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
