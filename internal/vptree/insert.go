package vptree

import (
	"fmt"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/hamming"
	"github.com/mediavault/simfiles/internal/store"
)

// insertLeaf walks from the tree's root down to the leaf position phash
// belongs at, updating every ancestor's population counts and wiring the
// new leaf in as an inner or outer child. It schedules at most one
// ancestor per insert for regeneration: the eldest (closest-to-root)
// branch found imbalanced, since regenerating it will fix every descendant
// imbalance too.
func insertLeaf(db *store.DB, cfg api.Config, id api.PHashID, phash api.PHash) error {
	rootID, ok, err := db.Tree.RootID()
	if err != nil {
		return fmt.Errorf("insert leaf %d: %w", id, err)
	}

	if !ok {
		return db.Tree.Put(store.TreeNode{PHashID: id})
	}

	var insideAncestors, outsideAncestors []api.PHashID
	var parentID *api.PHashID
	unbalancedScheduled := false

	nextID := &rootID
	for nextID != nil {
		ancestorID := *nextID
		ancestor, err := db.Tree.GetWithPHash(ancestorID)
		if err != nil {
			return fmt.Errorf("insert leaf %d: walk ancestor %d: %w", id, ancestorID, err)
		}

		distance := hamming.Distance(phash, ancestor.PHash)

		if ancestor.Radius == nil || distance <= *ancestor.Radius {
			insideAncestors = append(insideAncestors, ancestorID)
			ancestor.InnerPopulation++
			nextID = ancestor.InnerID

			if ancestor.InnerID == nil {
				if err := db.Tree.SetInner(ancestorID, id, distance); err != nil {
					return fmt.Errorf("insert leaf %d: %w", id, err)
				}
				parentID = &ancestorID
			}
		} else {
			outsideAncestors = append(outsideAncestors, ancestorID)
			ancestor.OuterPopulation++
			nextID = ancestor.OuterID

			if ancestor.OuterID == nil {
				if err := db.Tree.SetOuter(ancestorID, id); err != nil {
					return fmt.Errorf("insert leaf %d: %w", id, err)
				}
				parentID = &ancestorID
			}
		}

		if !unbalancedScheduled && ancestor.InnerPopulation+ancestor.OuterPopulation > cfg.ImbalancePopulationThreshold {
			larger := max(ancestor.InnerPopulation, ancestor.OuterPopulation)
			smaller := min(ancestor.InnerPopulation, ancestor.OuterPopulation)
			if float64(smaller)/float64(larger) < cfg.ImbalanceRatioThreshold {
				if err := db.Queue.Enqueue(ancestorID); err != nil {
					return fmt.Errorf("insert leaf %d: %w", id, err)
				}
				unbalancedScheduled = true
			}
		}
	}

	if err := db.Tree.IncrementInnerPopulations(insideAncestors); err != nil {
		return fmt.Errorf("insert leaf %d: %w", id, err)
	}
	if err := db.Tree.IncrementOuterPopulations(outsideAncestors); err != nil {
		return fmt.Errorf("insert leaf %d: %w", id, err)
	}

	return db.Tree.Put(store.TreeNode{PHashID: id, ParentID: parentID})
}
