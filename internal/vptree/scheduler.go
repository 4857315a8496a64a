package vptree

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/store"
)

// Tick processes queued branch regenerations until the queue drains or ctx
// is cancelled/deadlined, whichever comes first. It always works the
// largest outstanding branch first, the same greedy order the original
// maintenance loop used, since regenerating the biggest branch tends to
// retire the most imbalance per unit of work.
func Tick(ctx context.Context, db *store.DB, cfg api.Config, rnd *rand.Rand) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("maintenance tick: %w", api.ErrCancelled)
		default:
		}

		queued, err := db.Queue.List()
		if err != nil {
			return fmt.Errorf("maintenance tick: %w", err)
		}
		if len(queued) == 0 {
			return nil
		}

		biggest, err := db.Tree.BiggestSubtree(queued)
		if err != nil {
			return fmt.Errorf("maintenance tick: %w", err)
		}

		if err := regenerateBranch(db, cfg, rnd, biggest); err != nil {
			return fmt.Errorf("maintenance tick: regenerate %d: %w", biggest, err)
		}
	}
}

// regenerateBranch tears down the branch rooted at id and rebuilds it
// from scratch with a freshly chosen root, evicting any interned phash
// that turns out to be an orphan (no remaining file association) once the
// old branch is gone.
func regenerateBranch(db *store.DB, cfg api.Config, rnd *rand.Rand, id api.PHashID) error {
	node, err := db.Tree.Get(id)
	if err != nil {
		return fmt.Errorf("regenerate branch: %w", err)
	}
	parentID := node.ParentID

	closure, err := db.Tree.BranchClosure(id)
	if err != nil {
		return fmt.Errorf("regenerate branch: collect closure: %w", err)
	}

	closureIDs := make([]api.PHashID, len(closure))
	for i, n := range closure {
		closureIDs[i] = n.PHashID
	}

	if err := db.Tree.DeleteNodes(closureIDs); err != nil {
		return fmt.Errorf("regenerate branch: delete old branch: %w", err)
	}
	if err := db.Queue.DequeueMany(closureIDs); err != nil {
		return fmt.Errorf("regenerate branch: clear queue: %w", err)
	}

	useful, err := db.Assoc.UsefulPHashIDs(closureIDs)
	if err != nil {
		return fmt.Errorf("regenerate branch: find useful ids: %w", err)
	}

	var orphans []api.PHashID
	var usefulNodes []store.NodeWithPHash
	for _, n := range closure {
		if useful[n.PHashID] {
			usefulNodes = append(usefulNodes, n)
		} else {
			orphans = append(orphans, n.PHashID)
		}
	}
	if err := db.PHash.ForgetMany(orphans); err != nil {
		return fmt.Errorf("regenerate branch: forget orphans: %w", err)
	}

	usefulPopulation := len(usefulNodes)

	var newRootID *api.PHashID
	var newRoot store.NodeWithPHash
	var rest []store.NodeWithPHash
	if usefulPopulation > 0 {
		newRoot, rest = pickBestRoot(rnd, usefulNodes, cfg.BestRootMaxViewpoints, cfg.BestRootMaxSample)
		rid := newRoot.PHashID
		newRootID = &rid
	}

	if parentID != nil {
		isInner, err := db.Tree.ChildRole(*parentID, id)
		if err != nil {
			return fmt.Errorf("regenerate branch: determine parent link: %w", err)
		}
		if err := db.Tree.UpdateParentLink(*parentID, isInner, newRootID, usefulPopulation); err != nil {
			return fmt.Errorf("regenerate branch: relink parent: %w", err)
		}
	}

	if usefulPopulation > 0 {
		rows := buildBranch(rnd, cfg, parentID, newRoot.PHashID, newRoot.PHash, rest)
		if err := db.Tree.PutBatch(rows); err != nil {
			return fmt.Errorf("regenerate branch: write new branch: %w", err)
		}
	}

	return nil
}

// RegenerateTree discards the entire tree and rebuilds it from every
// interned phash, whether or not it still has an association, the full
// recovery path after an integrity violation or a bulk import.
func RegenerateTree(db *store.DB, cfg api.Config, rnd *rand.Rand) error {
	if err := db.Tree.DeleteAll(); err != nil {
		return fmt.Errorf("regenerate tree: %w", err)
	}

	all, err := db.PHash.All()
	if err != nil {
		return fmt.Errorf("regenerate tree: %w", err)
	}
	if len(all) == 0 {
		return nil
	}

	root, rest := pickBestRoot(rnd, all, cfg.BestRootMaxViewpoints, cfg.BestRootMaxSample)
	rows := buildBranch(rnd, cfg, nil, root.PHashID, root.PHash, rest)
	if err := db.Tree.PutBatch(rows); err != nil {
		return fmt.Errorf("regenerate tree: write branch: %w", err)
	}
	return nil
}
