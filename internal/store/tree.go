package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mediavault/simfiles/api"
)

// TreeNode is one row of shape_vptree, the persistent VP-tree (component C).
type TreeNode struct {
	PHashID         api.PHashID
	ParentID        *api.PHashID
	Radius          *api.Distance
	InnerID         *api.PHashID
	InnerPopulation int
	OuterID         *api.PHashID
	OuterPopulation int
}

// NodeWithPHash pairs a tree node with the raw hash it was built from, the
// shape most branch-building and search code actually wants.
type NodeWithPHash struct {
	TreeNode
	PHash api.PHash
}

// TreeStore persists the vantage-point tree's nodes (component C). It is a
// plain CRUD layer: the partitioning and rebalancing algorithms live in
// internal/vptree, not here.
type TreeStore struct {
	conn  *sql.DB
	cache *lru.Cache[int64, TreeNode]
}

// RootID returns the phash_id of the tree's root, if the tree is non-empty.
func (s *TreeStore) RootID() (api.PHashID, bool, error) {
	var id int64
	err := s.conn.QueryRow(`SELECT phash_id FROM shape_vptree WHERE parent_id IS NULL`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get tree root: %w", err)
	}
	return api.PHashID(id), true, nil
}

// Get returns the tree row for id, using the node cache when possible.
func (s *TreeStore) Get(id api.PHashID) (TreeNode, error) {
	if n, ok := s.cache.Get(int64(id)); ok {
		return n, nil
	}
	n, err := s.fetch(id)
	if err != nil {
		return TreeNode{}, err
	}
	s.cache.Add(int64(id), n)
	return n, nil
}

func (s *TreeStore) fetch(id api.PHashID) (TreeNode, error) {
	var n TreeNode
	var parentID, innerID, outerID sql.NullInt64
	var radius sql.NullInt64
	n.PHashID = id
	err := s.conn.QueryRow(
		`SELECT parent_id, radius, inner_id, inner_population, outer_id, outer_population
		 FROM shape_vptree WHERE phash_id = ?`, int64(id),
	).Scan(&parentID, &radius, &innerID, &n.InnerPopulation, &outerID, &n.OuterPopulation)
	if errors.Is(err, sql.ErrNoRows) {
		return TreeNode{}, fmt.Errorf("get tree node %d: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return TreeNode{}, fmt.Errorf("get tree node %d: %w", id, err)
	}
	n.ParentID = nullIDPtr(parentID)
	n.Radius = nullDistancePtr(radius)
	n.InnerID = nullIDPtr(innerID)
	n.OuterID = nullIDPtr(outerID)
	return n, nil
}

// GetWithPHash returns the tree row for id together with its raw hash, in a
// single round trip (the NATURAL JOIN the ancestor walk uses in the
// original tree implementation).
func (s *TreeStore) GetWithPHash(id api.PHashID) (NodeWithPHash, error) {
	var out NodeWithPHash
	var parentID, innerID, outerID sql.NullInt64
	var radius sql.NullInt64
	var raw []byte
	out.PHashID = id
	err := s.conn.QueryRow(
		`SELECT v.parent_id, v.radius, v.inner_id, v.inner_population, v.outer_id, v.outer_population, p.phash
		 FROM shape_vptree v JOIN shape_perceptual_hashes p USING (phash_id)
		 WHERE v.phash_id = ?`, int64(id),
	).Scan(&parentID, &radius, &innerID, &out.InnerPopulation, &outerID, &out.OuterPopulation, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return NodeWithPHash{}, fmt.Errorf("get tree node %d: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return NodeWithPHash{}, fmt.Errorf("get tree node %d: %w", id, err)
	}
	out.ParentID = nullIDPtr(parentID)
	out.Radius = nullDistancePtr(radius)
	out.InnerID = nullIDPtr(innerID)
	out.OuterID = nullIDPtr(outerID)
	out.PHash = decodePHash(raw)
	return out, nil
}

// FetchBatch fetches tree rows joined with their phash for every id in ids,
// chunked by the caller (see internal/vptree's use of Config.SearchFetchChunk)
// to keep any single SQL statement's parameter list bounded.
func (s *TreeStore) FetchBatch(ids []api.PHashID) ([]NodeWithPHash, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = int64(id)
	}

	query := fmt.Sprintf(
		`SELECT v.phash_id, v.parent_id, v.radius, v.inner_id, v.inner_population, v.outer_id, v.outer_population, p.phash
		 FROM shape_vptree v JOIN shape_perceptual_hashes p USING (phash_id)
		 WHERE v.phash_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch tree batch: %w", err)
	}
	defer rows.Close()

	var out []NodeWithPHash
	for rows.Next() {
		var n NodeWithPHash
		var id, parentID, innerID, outerID sql.NullInt64
		var radius sql.NullInt64
		var raw []byte
		if err := rows.Scan(&id, &parentID, &radius, &innerID, &n.InnerPopulation, &outerID, &n.OuterPopulation, &raw); err != nil {
			return nil, fmt.Errorf("fetch tree batch: %w", err)
		}
		n.PHashID = api.PHashID(id.Int64)
		n.ParentID = nullIDPtr(parentID)
		n.Radius = nullDistancePtr(radius)
		n.InnerID = nullIDPtr(innerID)
		n.OuterID = nullIDPtr(outerID)
		n.PHash = decodePHash(raw)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch tree batch: %w", err)
	}
	return out, nil
}

// Put inserts or replaces a single node row, invalidating any stale cache
// entry for it.
func (s *TreeStore) Put(n TreeNode) error {
	if err := s.put(s.conn, n); err != nil {
		return fmt.Errorf("put tree node %d: %w", n.PHashID, err)
	}
	s.cache.Remove(int64(n.PHashID))
	return nil
}

// PutBatch inserts or replaces many node rows in one transaction, the Go
// analog of an executemany bulk insert.
func (s *TreeStore) PutBatch(nodes []TreeNode) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("put tree batch: %w", err)
	}
	for _, n := range nodes {
		if err := s.put(tx, n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put tree batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put tree batch: %w", err)
	}
	for _, n := range nodes {
		s.cache.Remove(int64(n.PHashID))
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *TreeStore) put(e execer, n TreeNode) error {
	_, err := e.Exec(
		`INSERT OR REPLACE INTO shape_vptree
		 (phash_id, parent_id, radius, inner_id, inner_population, outer_id, outer_population)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(n.PHashID), idPtrToNull(n.ParentID), distancePtrToNull(n.Radius),
		idPtrToNull(n.InnerID), n.InnerPopulation, idPtrToNull(n.OuterID), n.OuterPopulation,
	)
	return err
}

// SetInner sets a node's inner child and radius, used when a leaf lands
// inside an ancestor with no inner child yet.
func (s *TreeStore) SetInner(id, innerID api.PHashID, radius api.Distance) error {
	if _, err := s.conn.Exec(
		`UPDATE shape_vptree SET inner_id = ?, radius = ? WHERE phash_id = ?`,
		int64(innerID), int64(radius), int64(id),
	); err != nil {
		return fmt.Errorf("set inner child of %d: %w", id, err)
	}
	s.cache.Remove(int64(id))
	return nil
}

// SetOuter sets a node's outer child, used when a leaf lands outside an
// ancestor with no outer child yet.
func (s *TreeStore) SetOuter(id, outerID api.PHashID) error {
	if _, err := s.conn.Exec(
		`UPDATE shape_vptree SET outer_id = ? WHERE phash_id = ?`,
		int64(outerID), int64(id),
	); err != nil {
		return fmt.Errorf("set outer child of %d: %w", id, err)
	}
	s.cache.Remove(int64(id))
	return nil
}

// IncrementInnerPopulations adds one to inner_population for every id.
func (s *TreeStore) IncrementInnerPopulations(ids []api.PHashID) error {
	return s.incrementPopulations(ids, "inner_population")
}

// IncrementOuterPopulations adds one to outer_population for every id.
func (s *TreeStore) IncrementOuterPopulations(ids []api.PHashID) error {
	return s.incrementPopulations(ids, "outer_population")
}

func (s *TreeStore) incrementPopulations(ids []api.PHashID, column string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`UPDATE shape_vptree SET %s = %s + 1 WHERE phash_id = ?`, column, column))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("increment %s: %w", column, err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("increment %s for %d: %w", column, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	for _, id := range ids {
		s.cache.Remove(int64(id))
	}
	return nil
}

// DeleteNodes removes a batch of tree rows, used when a branch is torn down
// ahead of regeneration.
func (s *TreeStore) DeleteNodes(ids []api.PHashID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("delete tree nodes: %w", err)
	}
	stmt, err := tx.Prepare(`DELETE FROM shape_vptree WHERE phash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete tree nodes: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete tree node %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete tree nodes: %w", err)
	}
	for _, id := range ids {
		s.cache.Remove(int64(id))
	}
	return nil
}

// DeleteAll clears the entire tree, used by full regeneration.
func (s *TreeStore) DeleteAll() error {
	if _, err := s.conn.Exec(`DELETE FROM shape_vptree`); err != nil {
		return fmt.Errorf("delete all tree nodes: %w", err)
	}
	s.cache.Purge()
	return nil
}

// BranchClosure returns every node in the branch rooted at id, root
// included, via a recursive CTE walking parent_id -> phash_id edges — the
// Go expression of the recursive WITH RECURSIVE branch collection.
func (s *TreeStore) BranchClosure(id api.PHashID) ([]NodeWithPHash, error) {
	rows, err := s.conn.Query(
		`WITH RECURSIVE branch(branch_phash_id) AS (
			SELECT ?
			UNION ALL
			SELECT v.phash_id FROM shape_vptree v JOIN branch ON v.parent_id = branch.branch_phash_id
		)
		SELECT b.branch_phash_id, v.parent_id, v.radius, v.inner_id, v.inner_population, v.outer_id, v.outer_population, p.phash
		FROM branch b
		JOIN shape_vptree v ON v.phash_id = b.branch_phash_id
		JOIN shape_perceptual_hashes p ON p.phash_id = b.branch_phash_id`,
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("branch closure of %d: %w", id, err)
	}
	defer rows.Close()

	var out []NodeWithPHash
	for rows.Next() {
		var n NodeWithPHash
		var pid, parentID, innerID, outerID sql.NullInt64
		var radius sql.NullInt64
		var raw []byte
		if err := rows.Scan(&pid, &parentID, &radius, &innerID, &n.InnerPopulation, &outerID, &n.OuterPopulation, &raw); err != nil {
			return nil, fmt.Errorf("branch closure of %d: %w", id, err)
		}
		n.PHashID = api.PHashID(pid.Int64)
		n.ParentID = nullIDPtr(parentID)
		n.Radius = nullDistancePtr(radius)
		n.InnerID = nullIDPtr(innerID)
		n.OuterID = nullIDPtr(outerID)
		n.PHash = decodePHash(raw)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("branch closure of %d: %w", id, err)
	}
	return out, nil
}

// ChildRole reports whether childID is parentID's inner (true) or outer
// (false) child, used by branch regeneration to know which pointer to fix
// up on the parent once the branch is rebuilt under a new root.
func (s *TreeStore) ChildRole(parentID, childID api.PHashID) (isInner bool, err error) {
	parent, err := s.Get(parentID)
	if err != nil {
		return false, err
	}
	if parent.InnerID != nil && *parent.InnerID == childID {
		return true, nil
	}
	return false, nil
}

// UpdateParentLink rewrites parentID's inner or outer pointer (and the
// matching population) to point at newChildID, which may be nil when the
// replaced branch vanished entirely.
func (s *TreeStore) UpdateParentLink(parentID api.PHashID, isInner bool, newChildID *api.PHashID, newPopulation int) error {
	column := "outer_id"
	popColumn := "outer_population"
	if isInner {
		column = "inner_id"
		popColumn = "inner_population"
	}
	query := fmt.Sprintf(`UPDATE shape_vptree SET %s = ?, %s = ? WHERE phash_id = ?`, column, popColumn)
	if _, err := s.conn.Exec(query, idPtrToNull(newChildID), newPopulation, int64(parentID)); err != nil {
		return fmt.Errorf("update parent link of %d: %w", parentID, err)
	}
	s.cache.Remove(int64(parentID))
	return nil
}

// BiggestSubtree picks, among candidates, the node with the largest total
// population (inner+outer), the selection rule the maintenance loop uses to
// always work its biggest outstanding branch first.
func (s *TreeStore) BiggestSubtree(candidates []api.PHashID) (api.PHashID, error) {
	if len(candidates) == 0 {
		return 0, fmt.Errorf("biggest subtree: %w", api.ErrNotFound)
	}

	placeholders := make([]string, len(candidates))
	args := make([]any, len(candidates))
	for i, id := range candidates {
		placeholders[i] = "?"
		args[i] = int64(id)
	}

	query := fmt.Sprintf(
		`SELECT phash_id FROM shape_vptree WHERE phash_id IN (%s)
		 ORDER BY inner_population + outer_population DESC LIMIT 1`,
		strings.Join(placeholders, ","))

	var id int64
	if err := s.conn.QueryRow(query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("biggest subtree: %w", err)
	}
	return api.PHashID(id), nil
}

func nullIDPtr(n sql.NullInt64) *api.PHashID {
	if !n.Valid {
		return nil
	}
	id := api.PHashID(n.Int64)
	return &id
}

func idPtrToNull(id *api.PHashID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func nullDistancePtr(n sql.NullInt64) *api.Distance {
	if !n.Valid {
		return nil
	}
	d := api.Distance(n.Int64)
	return &d
}

func distancePtrToNull(d *api.Distance) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}
