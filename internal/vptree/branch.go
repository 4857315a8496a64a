package vptree

import (
	"math/rand"
	"sort"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/hamming"
	"github.com/mediavault/simfiles/internal/store"
)

// buildJob is one unit of work in the branch-construction queue: a node
// that has already been chosen as a (sub)root and the candidate children
// still waiting to be partitioned under it.
type buildJob struct {
	parentID *api.PHashID
	id       api.PHashID
	phash    api.PHash
	children []store.NodeWithPHash
}

// buildBranch lays out a fresh branch under parentID (nil for a whole-tree
// root) given its already-chosen root node and its candidate children,
// mirroring the original branch generator's iterative queue-driven
// partitioning: each node picks a median-radius split, puts anything tied
// with the median on whichever side is smaller, and recurses.
//
// It returns every node row the branch needs, ready for a single batched
// write.
func buildBranch(rnd *rand.Rand, cfg api.Config, parentID *api.PHashID, rootID api.PHashID, rootPHash api.PHash, children []store.NodeWithPHash) []store.TreeNode {
	queue := []buildJob{{parentID: parentID, id: rootID, phash: rootPHash, children: children}}
	var rows []store.TreeNode

	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]

		if len(job.children) == 0 {
			rows = append(rows, store.TreeNode{PHashID: job.id, ParentID: job.parentID})
			continue
		}

		type scored struct {
			distance int
			node     store.NodeWithPHash
		}
		distances := make([]scored, len(job.children))
		for i, c := range job.children {
			distances[i] = scored{int(hamming.Distance(job.phash, c.PHash)), c}
		}
		sort.Slice(distances, func(i, j int) bool { return distances[i].distance < distances[j].distance })

		medianIndex := len(distances) / 2
		medianRadius := distances[medianIndex].distance

		var inner, atRadius, outer []store.NodeWithPHash
		for _, d := range distances {
			switch {
			case d.distance < medianRadius:
				inner = append(inner, d.node)
			case d.distance == medianRadius:
				atRadius = append(atRadius, d.node)
			default:
				outer = append(outer, d.node)
			}
		}

		var radius api.Distance
		if len(inner) <= len(outer) {
			radius = api.Distance(medianRadius)
			inner = append(inner, atRadius...)
		} else {
			radius = api.Distance(medianRadius - 1)
			outer = append(outer, atRadius...)
		}

		innerPopulation := len(inner)
		outerPopulation := len(outer)

		var innerID, outerID *api.PHashID
		var innerPHash, outerPHash api.PHash
		if len(inner) > 0 {
			var root store.NodeWithPHash
			root, inner = pickBestRoot(rnd, inner, cfg.BestRootMaxViewpoints, cfg.BestRootMaxSample)
			id := root.PHashID
			innerID = &id
			innerPHash = root.PHash
		}
		if len(outer) > 0 {
			var root store.NodeWithPHash
			root, outer = pickBestRoot(rnd, outer, cfg.BestRootMaxViewpoints, cfg.BestRootMaxSample)
			id := root.PHashID
			outerID = &id
			outerPHash = root.PHash
		}

		row := store.TreeNode{
			PHashID:         job.id,
			ParentID:        job.parentID,
			Radius:          &radius,
			InnerID:         innerID,
			InnerPopulation: innerPopulation,
			OuterID:         outerID,
			OuterPopulation: outerPopulation,
		}
		rows = append(rows, row)

		if innerID != nil {
			queue = append(queue, buildJob{parentID: &job.id, id: *innerID, phash: innerPHash, children: inner})
		}
		if outerID != nil {
			queue = append(queue, buildJob{parentID: &job.id, id: *outerID, phash: outerPHash, children: outer})
		}
	}

	return rows
}
