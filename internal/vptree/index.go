// Package vptree implements the persistent vantage-point tree over
// perceptual hashes: incremental insertion with lazy rebalancing,
// ball-overlap pruning search, and a cooperative maintenance scheduler.
package vptree

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/store"
)

// Index is the façade wiring hash interning, the association map, the
// tree store, and the maintenance queue into the operations spec.md names.
// Writers are serialized with a mutex; searches take a read lock, so
// concurrent searches proceed together and are blocked only by a writer.
type Index struct {
	db  *store.DB
	cfg api.Config

	mu        sync.RWMutex
	rnd       *rand.Rand
	suspended bool
}

// New wires an Index around an already-open store.DB.
func New(db *store.DB, cfg api.Config, rnd *rand.Rand) *Index {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &Index{db: db, cfg: cfg, rnd: rnd}
}

func (ix *Index) checkSuspended() error {
	if ix.suspended {
		return api.ErrSuspended
	}
	return nil
}

// InternPHash interns a raw phash on its own, adding a leaf to the tree if
// it's newly seen, without linking it to any file.
func (ix *Index) InternPHash(phash api.PHash) (api.PHashID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkSuspended(); err != nil {
		return 0, err
	}

	id, created, err := ix.db.PHash.Intern(phash)
	if err != nil {
		return 0, fmt.Errorf("intern phash: %w", err)
	}
	if created {
		if err := insertLeaf(ix.db, ix.cfg, id, phash); err != nil {
			return 0, fmt.Errorf("intern phash: %w", err)
		}
	}
	return id, nil
}

// AssociatePHashes interns every phash in phashes (adding a leaf to the
// tree for any that are new) and links fileID to each, marking fileID for
// a fresh search if any association was newly created. It returns the
// full set of phash ids fileID is now linked to.
func (ix *Index) AssociatePHashes(fileID api.FileID, phashes []api.PHash) (map[api.PHashID]bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkSuspended(); err != nil {
		return nil, err
	}

	ids := make(map[api.PHashID]bool, len(phashes))
	idList := make([]api.PHashID, 0, len(phashes))
	for _, phash := range phashes {
		id, created, err := ix.db.PHash.Intern(phash)
		if err != nil {
			return nil, fmt.Errorf("associate phashes for file %d: %w", fileID, err)
		}
		if created {
			if err := insertLeaf(ix.db, ix.cfg, id, phash); err != nil {
				return nil, fmt.Errorf("associate phashes for file %d: %w", fileID, err)
			}
		}
		ids[id] = true
		idList = append(idList, id)
	}

	anyNew, err := ix.db.Assoc.Link(fileID, idList)
	if err != nil {
		return nil, fmt.Errorf("associate phashes for file %d: %w", fileID, err)
	}
	if anyNew {
		if err := ix.db.Assoc.MarkUnsearched(fileID); err != nil {
			return nil, fmt.Errorf("associate phashes for file %d: %w", fileID, err)
		}
	}

	linked, err := ix.db.Assoc.PHashIDsForFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("associate phashes for file %d: %w", fileID, err)
	}
	for _, id := range linked {
		ids[id] = true
	}

	return ids, nil
}

// DisassociatePHashes unlinks fileID from phashIDs and schedules any phash
// that becomes useless (no remaining association) for branch regeneration,
// so it gets pruned out of the tree the next time maintenance runs.
func (ix *Index) DisassociatePHashes(fileID api.FileID, phashIDs []api.PHashID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkSuspended(); err != nil {
		return err
	}
	return ix.disassociate(fileID, phashIDs)
}

func (ix *Index) disassociate(fileID api.FileID, phashIDs []api.PHashID) error {
	if err := ix.db.Assoc.Unlink(fileID, phashIDs); err != nil {
		return fmt.Errorf("disassociate phashes for file %d: %w", fileID, err)
	}

	useful, err := ix.db.Assoc.UsefulPHashIDs(phashIDs)
	if err != nil {
		return fmt.Errorf("disassociate phashes for file %d: %w", fileID, err)
	}

	var useless []api.PHashID
	for _, id := range phashIDs {
		if !useful[id] {
			useless = append(useless, id)
		}
	}
	if err := ix.db.Queue.EnqueueMany(useless); err != nil {
		return fmt.Errorf("disassociate phashes for file %d: %w", fileID, err)
	}
	return nil
}

// SetPHashes replaces fileID's entire phash set: every phash currently
// linked is disassociated, then phashes is associated in its place.
func (ix *Index) SetPHashes(fileID api.FileID, phashes []api.PHash) error {
	ix.mu.Lock()
	current, err := ix.db.Assoc.PHashIDsForFile(fileID)
	if err != nil {
		ix.mu.Unlock()
		return fmt.Errorf("set phashes for file %d: %w", fileID, err)
	}
	if len(current) > 0 {
		if err := ix.disassociate(fileID, current); err != nil {
			ix.mu.Unlock()
			return err
		}
	}
	ix.mu.Unlock()

	if len(phashes) > 0 {
		if _, err := ix.AssociatePHashes(fileID, phashes); err != nil {
			return fmt.Errorf("set phashes for file %d: %w", fileID, err)
		}
	}
	return nil
}

// StopSearchingFile disassociates every phash fileID is linked to and
// removes it from the search cache entirely, so it is no longer a
// candidate file for similarity searches.
func (ix *Index) StopSearchingFile(fileID api.FileID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	phashIDs, err := ix.db.Assoc.PHashIDsForFile(fileID)
	if err != nil {
		return fmt.Errorf("stop searching file %d: %w", fileID, err)
	}
	if err := ix.disassociate(fileID, phashIDs); err != nil {
		return err
	}
	if err := ix.db.Assoc.DeleteSearchCache(fileID); err != nil {
		return fmt.Errorf("stop searching file %d: %w", fileID, err)
	}
	return nil
}

// FileIsInSystem reports whether fileID currently participates in the
// similarity index (has a search cache row).
func (ix *Index) FileIsInSystem(fileID api.FileID) (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.db.Assoc.FileIsInSystem(fileID)
}

// ResetSearch clears the search cache's searched_distance for fileIDs,
// forcing them to be re-searched on the next maintenance pass.
func (ix *Index) ResetSearch(fileIDs []api.FileID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.Assoc.ResetSearch(fileIDs)
}

// Search returns every file whose associated phashes are within
// maxDistance of fileID's own, excluding fileID itself.
func (ix *Index) Search(fileID api.FileID, maxDistance api.Distance) ([]api.Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches, err := searchFile(ix.db, ix.cfg, fileID, maxDistance)
	if err != nil {
		return nil, err
	}

	out := matches[:0]
	for _, m := range matches {
		if m.FileID == fileID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SearchPHash returns every interned phash within maxDistance of query,
// without going through any particular file's own associations.
func (ix *Index) SearchPHash(query api.PHash, maxDistance api.Distance) (map[api.PHashID]api.Distance, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return searchPHash(ix.db, ix.cfg, query, maxDistance)
}

// MaintainTree drains the regeneration queue until empty or ctx is done,
// always working the largest queued branch first.
func (ix *Index) MaintainTree(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkSuspended(); err != nil {
		return err
	}
	return Tick(ctx, ix.db, ix.cfg, ix.rnd)
}

// RegenerateTree unlinks every association of a phash that currentFileIDs
// rejects, then discards and rebuilds the entire tree from every interned
// phash (phashes left without associations stay in the rebuilt tree), and
// lifts any write suspension a prior integrity violation imposed.
func (ix *Index) RegenerateTree(currentFileIDs func(api.PHashID) (bool, error)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if currentFileIDs != nil {
		if err := ix.pruneOrphanedAssociations(currentFileIDs); err != nil {
			return fmt.Errorf("regenerate tree: %w", err)
		}
	}

	if err := RegenerateTree(ix.db, ix.cfg, ix.rnd); err != nil {
		return fmt.Errorf("regenerate tree: %w", err)
	}
	ix.suspended = false
	return nil
}

func (ix *Index) pruneOrphanedAssociations(isCurrent func(api.PHashID) (bool, error)) error {
	all, err := ix.db.PHash.All()
	if err != nil {
		return err
	}
	for _, n := range all {
		ok, err := isCurrent(n.PHashID)
		if err != nil {
			return err
		}
		if !ok {
			files, err := ix.db.Assoc.FileIDsForPHash(n.PHashID)
			if err != nil {
				return err
			}
			for _, f := range files {
				if err := ix.db.Assoc.Unlink(f, []api.PHashID{n.PHashID}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// MaintenanceDue reports whether at least cfg.MaintenanceDueCacheHits
// files have never been searched or were searched below
// cfg.DefaultSearchDistance.
func (ix *Index) MaintenanceDue() (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	count, err := ix.db.Assoc.CountUnderSearched(ix.cfg.DefaultSearchDistance, ix.cfg.MaintenanceDueCacheHits)
	if err != nil {
		return false, err
	}
	return count >= ix.cfg.MaintenanceDueCacheHits, nil
}

// MaintenanceStatus returns a histogram of the search cache's
// searched_distance values (key -1 for never-searched).
func (ix *Index) MaintenanceStatus() (map[int]int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.db.Assoc.MaintenanceStatusHistogram()
}

// CheckIntegrity walks the tree verifying that every non-nil child pointer
// resolves to a row that exists. Population counters are not checked. A
// violation suspends writes until RegenerateTree runs.
func (ix *Index) CheckIntegrity() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rootID, ok, err := ix.db.Tree.RootID()
	if err != nil {
		return fmt.Errorf("check integrity: %w", err)
	}
	if !ok {
		return nil
	}

	stack := []api.PHashID{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := ix.db.Tree.Get(id)
		if err != nil {
			ix.suspended = true
			return fmt.Errorf("check integrity: node %d: %w", id, api.ErrIntegrityViolation)
		}
		if node.InnerID != nil {
			stack = append(stack, *node.InnerID)
		}
		if node.OuterID != nil {
			stack = append(stack, *node.OuterID)
		}
	}
	return nil
}
